package agent

import (
	"encoding/json"
	"reflect"
	"testing"

	"datagov/agent/internal/datagov"
)

func TestClassifyFormatCoversAllowListOnly(t *testing.T) {
	cases := []struct {
		format, mimetype, url string
		want                  ResourceFormat
		ok                    bool
	}{
		{"CSV", "", "https://example.gov/data", FormatCSV, true},
		{"csv", "", "https://example.gov/data", FormatCSV, true},
		{"", "text/csv", "https://example.gov/data", FormatCSV, true},
		{"", "", "https://example.gov/data.csv", FormatCSV, true},
		{"", "", "https://example.gov/DATA.CSV", FormatCSV, true},
		{"DOI", "", "https://example.gov/landing", FormatDOI, true},
		{"", "", "https://doi.org/10.5063/F1Z899CZ", FormatDOI, true},
		{"PDF", "application/pdf", "https://example.gov/report.pdf", "", false},
		{"HTML", "text/html", "https://example.gov/page", "", false},
		{"", "", "", "", false},
		{"ZIP", "", "https://example.gov/archive.zip", "", false},
	}
	for _, tc := range cases {
		got, ok := ClassifyFormat(tc.format, tc.mimetype, tc.url)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ClassifyFormat(%q, %q, %q) = (%q, %v), want (%q, %v)",
				tc.format, tc.mimetype, tc.url, got, ok, tc.want, tc.ok)
		}
		// Classification is deterministic.
		again, okAgain := ClassifyFormat(tc.format, tc.mimetype, tc.url)
		if again != got || okAgain != ok {
			t.Errorf("ClassifyFormat(%q, %q, %q) is not stable across calls", tc.format, tc.mimetype, tc.url)
		}
	}
}

func pendingFixture() datagov.Package {
	return datagov.Package{
		ID:    "ds-1",
		Title: "Crime Incidents",
		Resources: []datagov.Resource{
			{Name: "Incidents CSV", Format: "CSV", URL: "https://example.gov/incidents.csv", Description: "All incidents"},
			{Name: "Report PDF", Format: "PDF", URL: "https://example.gov/report.pdf"},
			{Name: "Archive", Format: "ZIP", URL: "https://example.gov/archive.zip"},
			{Name: "Blank", Format: "CSV", URL: "   "},
		},
		Extras: []datagov.Extra{
			{Key: "identifier", Value: json.RawMessage(`"https://doi.org/10.5063/F1Z899CZ"`)},
			{Key: "collection_size", Value: json.RawMessage(`42`)},
			{Key: "homepage", Value: json.RawMessage(`"https://example.gov/about"`)},
		},
	}
}

func TestPendingResourcesFiltersAndOrders(t *testing.T) {
	pending := PendingResources(pendingFixture())

	if len(pending) != 2 {
		t.Fatalf("expected 2 pending resources, got %d: %+v", len(pending), pending)
	}
	if pending[0].URL != "https://example.gov/incidents.csv" || pending[0].Format != FormatCSV {
		t.Fatalf("unexpected first pending resource: %+v", pending[0])
	}
	if pending[1].URL != "https://doi.org/10.5063/F1Z899CZ" || pending[1].Format != FormatDOI {
		t.Fatalf("unexpected second pending resource: %+v", pending[1])
	}
	for _, resource := range pending {
		if resource.Format != FormatCSV && resource.Format != FormatDOI {
			t.Fatalf("resource with unlisted format leaked into pending list: %+v", resource)
		}
	}
}

func TestPendingResourcesIsIdempotent(t *testing.T) {
	pkg := pendingFixture()
	first := PendingResources(pkg)
	second := PendingResources(pkg)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("pending derivation differs across runs:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestPendingResourcesEmptyForUnsupportedOnlyDataset(t *testing.T) {
	pkg := datagov.Package{
		ID: "ds-pdf",
		Resources: []datagov.Resource{
			{Name: "Report", Format: "PDF", URL: "https://example.gov/a.pdf"},
			{Name: "Scan", Format: "PDF", URL: "https://example.gov/b.pdf"},
		},
	}
	if pending := PendingResources(pkg); len(pending) != 0 {
		t.Fatalf("expected empty pending list, got %+v", pending)
	}
}

func TestStripMarkdownLink(t *testing.T) {
	cases := map[string]string{
		"[Title](https://example.com/file.csv)":       "https://example.com/file.csv",
		"https://example.com/file.csv":                "https://example.com/file.csv",
		"  [Data (2020)](https://example.com/d.csv)":  "https://example.com/d.csv",
		"[broken markdown https://example.com/x.csv":  "[broken markdown https://example.com/x.csv",
		"[T](https://example.com/q.csv?a=(1))":        "https://example.com/q.csv?a=(1)",
	}
	for input, want := range cases {
		if got := StripMarkdownLink(input); got != want {
			t.Errorf("StripMarkdownLink(%q) = %q, want %q", input, got, want)
		}
	}
}
