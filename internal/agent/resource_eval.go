package agent

import (
	"context"
	"fmt"
	"strings"

	"datagov/agent/internal/fetch"
	"datagov/agent/internal/oracle"
)

// ContentFetcher downloads bounded CSV row previews.
type ContentFetcher interface {
	Download(ctx context.Context, rawURL string, limit, offset int) ([]string, error)
}

// PageViewer extracts readable text from a DOI landing page or web resource.
type PageViewer interface {
	View(ctx context.Context, rawURL string) (fetch.Page, error)
}

// ResourceEvaluator decides whether one resource can help answer the user's
// question. Triage works from metadata alone; only resources that pass it
// cost a content fetch and a deep oracle call.
type ResourceEvaluator struct {
	oracle        oracle.Invoker
	files         ContentFetcher
	pages         PageViewer
	previewBudget int
	progress      ProgressFunc
}

func NewResourceEvaluator(invoker oracle.Invoker, files ContentFetcher, pages PageViewer, previewBudget int, progress ProgressFunc) *ResourceEvaluator {
	if previewBudget <= 0 {
		previewBudget = 1000
	}
	return &ResourceEvaluator{
		oracle:        invoker,
		files:         files,
		pages:         pages,
		previewBudget: previewBudget,
		progress:      progress,
	}
}

type triageVerdict struct {
	WorthInvestigating bool   `json:"worth_investigating"`
	Reasoning          string `json:"reasoning"`
}

// Evaluate produces the terminal verdict for one pending resource. Fetch
// failures become unusable evaluations, not errors; only oracle failures
// propagate.
func (e *ResourceEvaluator) Evaluate(ctx context.Context, userQuery string, resource PendingResource) (ResourceEvaluation, error) {
	if resource.Format != FormatCSV && resource.Format != FormatDOI {
		return ResourceEvaluation{}, fmt.Errorf("resource %s has unclassified format %q", resource.URL, resource.Format)
	}

	emit(e.progress, StageResourceEval, "triaging resource", resource.Name)

	var verdict triageVerdict
	err := e.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: triagePrompt},
		{Role: oracle.RoleUser, Content: triageInput(userQuery, resource)},
	}, triageSchema, &verdict)
	if err != nil {
		return ResourceEvaluation{}, fmt.Errorf("triage resource %s: %w", resource.URL, err)
	}

	if !verdict.WorthInvestigating {
		return ResourceEvaluation{
			URL:             resource.URL,
			Name:            resource.Name,
			Usable:          false,
			UsabilityReason: verdict.Reasoning,
			Summary:         "Skipped after metadata triage.",
		}, nil
	}

	preview, fetchErr := e.fetchPreview(ctx, resource)
	if fetchErr != nil {
		return ResourceEvaluation{
			URL:             resource.URL,
			Name:            resource.Name,
			Usable:          false,
			UsabilityReason: fmt.Sprintf("content fetch failed: %v", fetchErr),
			Summary:         "Content could not be retrieved.",
		}, nil
	}

	emit(e.progress, StageResourceEval, "deep evaluating resource", resource.Name)

	var evaluation ResourceEvaluation
	err = e.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: deepEvalPrompt},
		{Role: oracle.RoleUser, Content: deepEvalInput(userQuery, resource, preview)},
	}, resourceEvaluationSchema, &evaluation)
	if err != nil {
		return ResourceEvaluation{}, fmt.Errorf("deep evaluate resource %s: %w", resource.URL, err)
	}

	evaluation.URL = resource.URL
	evaluation.Name = resource.Name
	if !evaluation.Usable {
		evaluation.Columns = nil
	}
	return evaluation, nil
}

func (e *ResourceEvaluator) fetchPreview(ctx context.Context, resource PendingResource) (string, error) {
	switch resource.Format {
	case FormatCSV:
		rows, err := e.files.Download(ctx, resource.URL, 5, 0)
		if err != nil {
			return "", err
		}
		return truncateRunes(strings.Join(rows, "\n"), e.previewBudget), nil
	default:
		page, err := e.pages.View(ctx, resource.URL)
		if err != nil {
			return "", err
		}
		return truncateRunes(page.Text, e.previewBudget), nil
	}
}

func truncateRunes(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
