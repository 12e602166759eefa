package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"datagov/agent/internal/datagov"
	"datagov/agent/internal/oracle"
)

var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

// Outcome is the user-facing result of one research run.
type Outcome struct {
	Answer          string          `json:"answer"`
	Dataset         *DatasetSummary `json:"dataset,omitempty"`
	QuerySummary    *QuerySummary   `json:"query_summary,omitempty"`
	ExecutedQueries []string        `json:"executed_queries,omitempty"`
	UsefulLinks     []string        `json:"useful_links,omitempty"`
	DatasetFound    bool            `json:"dataset_found"`
}

// Coordinator runs the whole pipeline for one question: reformulate, search,
// query, synthesize.
type Coordinator struct {
	oracle   oracle.Invoker
	catalog  Catalog
	search   *SearchOrchestrator
	queries  *QueryOrchestrator
	progress ProgressFunc
}

func NewCoordinator(invoker oracle.Invoker, catalog Catalog, search *SearchOrchestrator, queries *QueryOrchestrator, progress ProgressFunc) *Coordinator {
	return &Coordinator{oracle: invoker, catalog: catalog, search: search, queries: queries, progress: progress}
}

type reformulation struct {
	Instruction string `json:"instruction"`
}

// Research answers one natural-language question from data.gov data.
func (c *Coordinator) Research(ctx context.Context, userQuery string) (Outcome, error) {
	trimmed := strings.TrimSpace(userQuery)
	if trimmed == "" {
		return Outcome{}, fmt.Errorf("question is required")
	}

	emit(c.progress, StageReformulate, "reformulating question", trimmed)

	var reform reformulation
	err := c.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: reformulatePrompt},
		{Role: oracle.RoleUser, Content: trimmed},
	}, reformulateSchema, &reform)
	if err != nil {
		return Outcome{}, fmt.Errorf("reformulate question: %w", err)
	}
	instruction := strings.TrimSpace(reform.Instruction)
	if instruction == "" {
		instruction = trimmed
	}

	state := NewWorkflowState(instruction)

	stop, err := c.search.Run(ctx, state)
	if err != nil {
		return Outcome{}, err
	}
	if state.SelectedDataset == nil {
		emit(c.progress, StageAnswer, "no dataset found", string(stop))
		state.FinalAnswer = "No suitable data.gov dataset could be found to answer this question. " +
			"Searches tried: " + strings.Join(state.PastQueries, "; ")
		return Outcome{Answer: state.FinalAnswer, DatasetFound: false}, nil
	}

	if err := c.queries.Run(ctx, state); err != nil {
		return Outcome{}, err
	}

	answer, links, err := c.synthesize(ctx, state)
	if err != nil {
		return Outcome{}, err
	}
	state.FinalAnswer = answer

	outcome := Outcome{
		Answer:       answer,
		Dataset:      state.SelectedDataset,
		QuerySummary: state.QuerySummary,
		UsefulLinks:  links,
		DatasetFound: true,
	}
	if state.QuerySummary != nil {
		outcome.ExecutedQueries = state.QuerySummary.ExecutedQueries
	}
	return outcome, nil
}

func (c *Coordinator) synthesize(ctx context.Context, state *WorkflowState) (string, []string, error) {
	dataset := *state.SelectedDataset

	var links []string
	var citation string
	pkg, err := c.catalog.Show(ctx, dataset.ID)
	if err != nil {
		emit(c.progress, StageAnswer, "citation metadata unavailable", err.Error())
		citation = dataset.Title
	} else {
		citation = formatCitation(pkg)
		links = HarvestLinks(pkg)
	}

	emit(c.progress, StageAnswer, "synthesizing answer", "")

	reply, err := c.oracle.Invoke(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: answerPrompt},
		{Role: oracle.RoleUser, Content: answerInput(state, citation, links)},
	}, nil)
	if err != nil {
		return "", nil, fmt.Errorf("synthesize answer: %w", err)
	}
	return reply.Text, links, nil
}

// HarvestLinks collects every URL mentioned in a dataset's notes and extras,
// deduplicated in first-seen order. These accompany the answer as further
// reading.
func HarvestLinks(pkg datagov.Package) []string {
	seen := make(map[string]bool)
	var links []string
	add := func(text string) {
		for _, link := range urlPattern.FindAllString(text, -1) {
			cleaned := strings.TrimRight(link, ").,;")
			if cleaned == "" || seen[cleaned] {
				continue
			}
			seen[cleaned] = true
			links = append(links, cleaned)
		}
	}

	add(pkg.Notes)
	for _, extra := range pkg.Extras {
		if value, ok := extra.StringValue(); ok {
			add(value)
		}
	}
	for _, resource := range pkg.Resources {
		add(resource.Description)
	}
	return links
}

func formatCitation(pkg datagov.Package) string {
	parts := []string{pkg.Title}
	if pkg.Organization.Title != "" {
		parts = append(parts, pkg.Organization.Title)
	}
	if pkg.Maintainer != "" {
		parts = append(parts, "maintained by "+pkg.Maintainer)
	}
	if pkg.LicenseTitle != "" {
		parts = append(parts, pkg.LicenseTitle)
	}
	parts = append(parts, "https://catalog.data.gov/dataset/"+pkg.Name)
	return strings.Join(parts, ", ")
}
