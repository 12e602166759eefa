package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"datagov/agent/internal/oracle"
)

func TestTriageRejectionSkipsContentFetch(t *testing.T) {
	stub := newOracleStub()
	stub.respondStructured("triage_verdict", triageVerdict{WorthInvestigating: false, Reasoning: "unrelated topic"})
	files := newFetcherStub()
	pages := newViewerStub()

	evaluator := NewResourceEvaluator(stub, files, pages, 1000, nil)

	evaluation, err := evaluator.Evaluate(context.Background(), "crime rates by age", PendingResource{
		URL:    "https://example.gov/weather.csv",
		Name:   "Weather stations",
		Format: FormatCSV,
	})
	requireNoError(t, err)

	if evaluation.Usable {
		t.Fatal("triage rejection must finalize as unusable")
	}
	if len(evaluation.Columns) != 0 {
		t.Fatalf("rejected resource must carry no columns, got %v", evaluation.Columns)
	}
	if files.downloadCount() != 0 || pages.views != 0 {
		t.Fatalf("content fetched despite triage rejection: downloads=%d views=%d", files.downloadCount(), pages.views)
	}
	if len(stub.structuredCalls) != 1 {
		t.Fatalf("expected a single oracle call, got %v", stub.structuredCalls)
	}
}

func TestDeepEvaluationFollowsTriagePass(t *testing.T) {
	stub := newOracleStub()
	stub.respondStructured("triage_verdict", triageVerdict{WorthInvestigating: true, Reasoning: "looks on topic"})
	stub.onStructured("resource_evaluation", func(messages []oracle.Message) (any, error) {
		if !strings.Contains(messages[1].Content, "age_group,count") {
			return nil, errors.New("preview missing from deep eval input")
		}
		return ResourceEvaluation{
			Summary:         "Crime counts bucketed by age group.",
			Usable:          true,
			UsabilityReason: "Has the age breakdown the question needs.",
			Columns: []ColumnInfo{
				{Name: "age_group", InferredType: "string", UsefulForQuestion: true, SampleValues: []string{"80+"}},
			},
		}, nil
	})

	files := newFetcherStub()
	files.rows["https://example.gov/crime.csv"] = []string{"age_group,count", "80+,12", "60-79,440"}

	evaluator := NewResourceEvaluator(stub, files, newViewerStub(), 1000, nil)

	evaluation, err := evaluator.Evaluate(context.Background(), "crime rates by age", PendingResource{
		URL:    "https://example.gov/crime.csv",
		Name:   "Crime CSV",
		Format: FormatCSV,
	})
	requireNoError(t, err)

	if !evaluation.Usable {
		t.Fatalf("expected usable evaluation, got %+v", evaluation)
	}
	if evaluation.URL != "https://example.gov/crime.csv" {
		t.Fatalf("evaluation URL rewritten to %q", evaluation.URL)
	}
	if files.downloadCount() != 1 {
		t.Fatalf("expected one preview download, got %d", files.downloadCount())
	}
}

func TestDeepEvaluationPreviewRespectsCharBudget(t *testing.T) {
	stub := newOracleStub()
	stub.respondStructured("triage_verdict", triageVerdict{WorthInvestigating: true})

	var previewLen int
	stub.onStructured("resource_evaluation", func(messages []oracle.Message) (any, error) {
		marker := "Content preview:\n"
		input := messages[1].Content
		idx := strings.Index(input, marker)
		if idx < 0 {
			return nil, errors.New("no preview in input")
		}
		previewLen = len([]rune(strings.TrimSuffix(input[idx+len(marker):], "\n")))
		return ResourceEvaluation{Usable: true, Summary: "ok", UsabilityReason: "ok"}, nil
	})

	files := newFetcherStub()
	files.rows["https://example.gov/wide.csv"] = []string{"h", strings.Repeat("x", 5000)}

	evaluator := NewResourceEvaluator(stub, files, newViewerStub(), 100, nil)

	_, err := evaluator.Evaluate(context.Background(), "q", PendingResource{
		URL: "https://example.gov/wide.csv", Name: "wide", Format: FormatCSV,
	})
	requireNoError(t, err)

	if previewLen > 100 {
		t.Fatalf("preview exceeds budget: %d runes", previewLen)
	}
}

func TestFetchFailureFinalizesUnusable(t *testing.T) {
	stub := newOracleStub()
	stub.respondStructured("triage_verdict", triageVerdict{WorthInvestigating: true})
	files := newFetcherStub()
	files.err = errors.New("connection timed out")

	evaluator := NewResourceEvaluator(stub, files, newViewerStub(), 1000, nil)

	evaluation, err := evaluator.Evaluate(context.Background(), "q", PendingResource{
		URL: "https://example.gov/slow.csv", Name: "slow", Format: FormatCSV,
	})
	requireNoError(t, err)

	if evaluation.Usable {
		t.Fatal("failed fetch must finalize as unusable")
	}
	if !strings.Contains(evaluation.UsabilityReason, "connection timed out") {
		t.Fatalf("failure reason not carried, got %q", evaluation.UsabilityReason)
	}
	if files.downloadCount() != 1 {
		t.Fatalf("failed fetch must not be retried, got %d attempts", files.downloadCount())
	}
}

func TestDOIResourceUsesPageViewer(t *testing.T) {
	stub := newOracleStub()
	stub.respondStructured("triage_verdict", triageVerdict{WorthInvestigating: true})
	stub.respondStructured("resource_evaluation", ResourceEvaluation{Usable: true, Summary: "ok", UsabilityReason: "ok"})

	files := newFetcherStub()
	pages := newViewerStub()
	pages.pages["https://doi.org/10.1/abc"] = "Landing page describing survey methodology."

	evaluator := NewResourceEvaluator(stub, files, pages, 1000, nil)

	_, err := evaluator.Evaluate(context.Background(), "q", PendingResource{
		URL: "https://doi.org/10.1/abc", Name: "doi", Format: FormatDOI,
	})
	requireNoError(t, err)

	if pages.views != 1 || files.downloadCount() != 0 {
		t.Fatalf("DOI resource must use the viewer: views=%d downloads=%d", pages.views, files.downloadCount())
	}
}

func TestUnusableEvaluationDropsColumns(t *testing.T) {
	stub := newOracleStub()
	stub.respondStructured("triage_verdict", triageVerdict{WorthInvestigating: true})
	stub.respondStructured("resource_evaluation", ResourceEvaluation{
		Usable:          false,
		UsabilityReason: "wrong data entirely",
		Columns:         []ColumnInfo{{Name: "stray", InferredType: "string"}},
	})

	files := newFetcherStub()
	files.rows["https://example.gov/x.csv"] = []string{"a,b", "1,2"}

	evaluator := NewResourceEvaluator(stub, files, newViewerStub(), 1000, nil)

	evaluation, err := evaluator.Evaluate(context.Background(), "q", PendingResource{
		URL: "https://example.gov/x.csv", Name: "x", Format: FormatCSV,
	})
	requireNoError(t, err)

	if len(evaluation.Columns) != 0 {
		t.Fatalf("unusable evaluation must carry no columns, got %v", evaluation.Columns)
	}
}
