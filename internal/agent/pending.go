package agent

import (
	"strings"

	"datagov/agent/internal/datagov"
	"datagov/agent/internal/fetch"
)

// ClassifyFormat maps raw resource metadata onto the supported format
// allow-list. The mapping is total: anything that is not recognizably CSV or
// a DOI link is rejected, and identical inputs always classify identically.
func ClassifyFormat(format, mimetype, rawURL string) (ResourceFormat, bool) {
	normFormat := strings.ToUpper(strings.TrimSpace(format))
	normMime := strings.ToLower(strings.TrimSpace(mimetype))
	normURL := strings.ToLower(strings.TrimSpace(rawURL))

	switch {
	case normFormat == "CSV",
		strings.Contains(normMime, "csv"),
		strings.HasSuffix(normURL, ".csv"):
		return FormatCSV, true
	case normFormat == "DOI", fetch.IsDOIURL(rawURL):
		return FormatDOI, true
	}
	return "", false
}

// PendingResources derives the evaluation work-list for one dataset:
// declared resources first in catalog order, then extras links in catalog
// order. The derivation is deterministic so repeated runs over the same
// metadata yield identical lists.
func PendingResources(pkg datagov.Package) []PendingResource {
	pending := make([]PendingResource, 0, len(pkg.Resources)+len(pkg.Extras))

	for _, resource := range pkg.Resources {
		if strings.TrimSpace(resource.URL) == "" {
			continue
		}
		format, ok := ClassifyFormat(resource.Format, resource.Mimetype, resource.URL)
		if !ok {
			continue
		}
		name := strings.TrimSpace(resource.Name)
		if name == "" {
			name = resource.URL
		}
		pending = append(pending, PendingResource{
			URL:         strings.TrimSpace(resource.URL),
			Name:        name,
			Description: strings.TrimSpace(resource.Description),
			Format:      format,
		})
	}

	for _, extra := range pkg.Extras {
		value, ok := extra.StringValue()
		if !ok {
			continue
		}
		link := extractHTTPLink(value)
		if link == "" {
			continue
		}
		format, ok := ClassifyFormat("", "", link)
		if !ok {
			continue
		}
		pending = append(pending, PendingResource{
			URL:         link,
			Name:        extra.Key,
			Description: value,
			Format:      format,
		})
	}

	return pending
}

func extractHTTPLink(value string) string {
	for _, field := range strings.Fields(value) {
		trimmed := strings.Trim(field, `"'<>()[],;`)
		if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
			return trimmed
		}
	}
	return ""
}
