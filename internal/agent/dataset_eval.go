package agent

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"datagov/agent/internal/datagov"
	"datagov/agent/internal/oracle"
)

// Catalog is the dataset catalog surface the pipeline consumes.
type Catalog interface {
	Search(ctx context.Context, query string, rows int) ([]datagov.SearchResult, error)
	Show(ctx context.Context, id string) (datagov.Package, error)
	Autocomplete(ctx context.Context, query string) ([]datagov.AutocompleteMatch, error)
}

// DatasetEvaluator decides whether one dataset is worth pursuing and which
// of its resources to rely on.
type DatasetEvaluator struct {
	oracle    oracle.Invoker
	catalog   Catalog
	resources *ResourceEvaluator
	progress  ProgressFunc
}

func NewDatasetEvaluator(invoker oracle.Invoker, catalog Catalog, resources *ResourceEvaluator, progress ProgressFunc) *DatasetEvaluator {
	return &DatasetEvaluator{oracle: invoker, catalog: catalog, resources: resources, progress: progress}
}

type relevanceVerdict struct {
	Relevant  bool   `json:"relevant"`
	Reasoning string `json:"reasoning"`
}

type datasetSynthesis struct {
	Summary            string   `json:"summary"`
	BestResource       string   `json:"best_resource"`
	SecondaryResources []string `json:"secondary_resources"`
}

// Evaluate fetches a dataset's metadata, fans the resource evaluator out
// over its valid resources and synthesizes a usability summary. A nil
// summary with nil error means the dataset is not a candidate; errors are
// reserved for oracle failures.
func (e *DatasetEvaluator) Evaluate(ctx context.Context, userQuery, id string) (*DatasetSummary, error) {
	pkg, err := e.catalog.Show(ctx, id)
	if err != nil {
		emit(e.progress, StageDatasetEval, "metadata fetch failed", id)
		return nil, nil
	}

	pending := PendingResources(pkg)
	if len(pending) == 0 {
		emit(e.progress, StageDatasetEval, "no valid resources", pkg.Title)
		return nil, nil
	}

	relevant, err := e.checkRelevance(ctx, userQuery, pkg)
	if err != nil {
		return nil, err
	}
	if !relevant {
		emit(e.progress, StageDatasetEval, "dataset not relevant", pkg.Title)
		return nil, nil
	}

	emit(e.progress, StageDatasetEval, "evaluating resources", fmt.Sprintf("%s (%d resources)", pkg.Title, len(pending)))

	// Each task writes only its own slot; the group wait is the barrier
	// before synthesis sees any result.
	evaluations := make([]ResourceEvaluation, len(pending))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, resource := range pending {
		i, resource := i, resource
		group.Go(func() error {
			evaluation, evalErr := e.resources.Evaluate(groupCtx, userQuery, resource)
			if evalErr != nil {
				return evalErr
			}
			evaluations[i] = evaluation
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate dataset %s: %w", id, err)
	}

	usable := make([]ResourceEvaluation, 0, len(evaluations))
	for _, evaluation := range evaluations {
		if evaluation.Usable {
			usable = append(usable, evaluation)
		}
	}
	if len(usable) == 0 {
		emit(e.progress, StageDatasetEval, "no usable resources", pkg.Title)
		return nil, nil
	}

	synthesis, err := e.synthesize(ctx, userQuery, pkg, usable)
	if err != nil {
		return nil, err
	}

	best := StripMarkdownLink(synthesis.BestResource)
	if !hasEvaluationURL(usable, best) {
		emit(e.progress, StageDatasetEval, "best resource not among usable evaluations", best)
		return nil, nil
	}
	// The query stage loads the best resource as a table, so it must be a
	// CSV. A usable DOI can only ever be a secondary resource.
	if !isCSVResource(pending, best) {
		emit(e.progress, StageDatasetEval, "best resource is not a csv", best)
		return nil, nil
	}

	secondaries := make([]string, 0, len(synthesis.SecondaryResources))
	for _, secondary := range synthesis.SecondaryResources {
		cleaned := StripMarkdownLink(secondary)
		if cleaned == best || !hasEvaluationURL(evaluations, cleaned) {
			continue
		}
		secondaries = append(secondaries, cleaned)
	}

	return &DatasetSummary{
		ID:                    pkg.ID,
		Title:                 pkg.Title,
		BestResourceURL:       best,
		SecondaryResourceURLs: secondaries,
		Rationale:             synthesis.Summary,
		ResourceEvaluations:   evaluations,
	}, nil
}

func (e *DatasetEvaluator) checkRelevance(ctx context.Context, userQuery string, pkg datagov.Package) (bool, error) {
	var verdict relevanceVerdict
	err := e.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: relevancePrompt},
		{Role: oracle.RoleUser, Content: relevanceInput(userQuery, pkg)},
	}, relevanceSchema, &verdict)
	if err != nil {
		return false, fmt.Errorf("relevance check for %s: %w", pkg.ID, err)
	}
	return verdict.Relevant, nil
}

func (e *DatasetEvaluator) synthesize(ctx context.Context, userQuery string, pkg datagov.Package, usable []ResourceEvaluation) (datasetSynthesis, error) {
	var synthesis datasetSynthesis
	err := e.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: synthesisPrompt},
		{Role: oracle.RoleUser, Content: synthesisInput(userQuery, pkg, usable)},
	}, synthesisSchema, &synthesis)
	if err != nil {
		return datasetSynthesis{}, fmt.Errorf("synthesize dataset %s: %w", pkg.ID, err)
	}
	return synthesis, nil
}

func isCSVResource(pending []PendingResource, rawURL string) bool {
	for _, resource := range pending {
		if resource.URL == rawURL {
			return resource.Format == FormatCSV
		}
	}
	return false
}

func hasEvaluationURL(evaluations []ResourceEvaluation, rawURL string) bool {
	for _, evaluation := range evaluations {
		if evaluation.URL == rawURL {
			return true
		}
	}
	return false
}

// StripMarkdownLink unwraps values the oracle returns as markdown links,
// keeping the URL byte-for-byte as it appeared in the evaluation input.
func StripMarkdownLink(value string) string {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "[") {
		return trimmed
	}
	open := strings.Index(trimmed, "](")
	if open < 0 {
		return trimmed
	}
	rest := trimmed[open+2:]
	if end := strings.LastIndex(rest, ")"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return trimmed
}
