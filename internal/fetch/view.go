package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const viewUserAgent = "Mozilla/5.0 (X11; Linux x86_64) datagov-agent/1.0"

type ViewerConfig struct {
	RequestTimeout time.Duration
	MaxBytes       int64
	CharBudget     int
}

// Viewer fetches a web resource and reduces it to prompt-sized text. HTML
// pages are boiled down to article text, spreadsheets and PDFs to their
// textual content, everything else passed through as-is.
type Viewer struct {
	cfg        ViewerConfig
	httpClient *http.Client
}

func NewViewer(cfg ViewerConfig, httpClient *http.Client) *Viewer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultDownloadTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBodyBytes
	}
	if cfg.CharBudget <= 0 {
		cfg.CharBudget = 4000
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Viewer{cfg: cfg, httpClient: httpClient}
}

// Page is the text rendering of one fetched resource.
type Page struct {
	URL         string
	Title       string
	ContentType string
	Text        string
	Truncated   bool
}

// View fetches rawURL, extracts its text and trims it to the char budget.
// DOI URLs are allowed here on purpose: viewing a DOI landing page is how
// the agent reads dataset documentation hosted behind a resolver.
func (v *Viewer) View(ctx context.Context, rawURL string) (Page, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Page{}, errors.New("url is required")
	}

	requestCtx, cancel := context.WithTimeout(ctx, v.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, trimmed, nil)
	if err != nil {
		return Page{}, fmt.Errorf("build view request: %w", err)
	}
	req.Header.Set("User-Agent", viewUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.5")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", trimmed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return Page{}, fmt.Errorf("%s returned status %d", trimmed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, v.cfg.MaxBytes))
	if err != nil {
		return Page{}, fmt.Errorf("read %s: %w", trimmed, err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	finalURL := trimmed
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	title, text, err := ExtractText(finalURL, contentType, body)
	if err != nil {
		return Page{}, err
	}

	page := Page{URL: finalURL, Title: title, ContentType: contentType, Text: text}
	if len([]rune(page.Text)) > v.cfg.CharBudget {
		page.Text = trimToRunes(page.Text, v.cfg.CharBudget)
		page.Truncated = true
	}
	return page, nil
}
