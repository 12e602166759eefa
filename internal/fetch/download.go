package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultDownloadTimeout = 10 * time.Second
	defaultMaxBodyBytes    = int64(8 * 1024 * 1024)
	downloadUserAgent      = "datagov-agent/1.0"
)

// ErrDOIURL marks a download refused because the URL points at a DOI landing
// page rather than raw data.
var ErrDOIURL = errors.New("url resolves to a DOI link, not downloadable data")

// RowCache keeps downloaded CSV rows keyed by resource URL for the lifetime
// of one request, so the deep-eval preview, the query-stage table load, and
// the prompt preview all share a single fetch.
type RowCache struct {
	mu   sync.Mutex
	rows map[string][]string
}

func NewRowCache() *RowCache {
	return &RowCache{rows: make(map[string][]string)}
}

func (c *RowCache) get(rawURL string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, ok := c.rows[rawURL]
	return rows, ok
}

func (c *RowCache) put(rawURL string, rows []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[rawURL] = rows
}

// Rows returns every cached line for a resource URL, header first.
func (c *RowCache) Rows(rawURL string) ([]string, bool) {
	return c.get(strings.TrimSpace(rawURL))
}

type DownloaderConfig struct {
	RequestTimeout time.Duration
	MaxBytes       int64
}

// Downloader fetches CSV resources and serves bounded row previews.
type Downloader struct {
	cfg        DownloaderConfig
	httpClient *http.Client
	cache      *RowCache
}

func NewDownloader(cfg DownloaderConfig, httpClient *http.Client, cache *RowCache) *Downloader {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultDownloadTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBodyBytes
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cache == nil {
		cache = NewRowCache()
	}
	return &Downloader{cfg: cfg, httpClient: httpClient, cache: cache}
}

// Download returns up to limit data rows starting at offset, with the header
// row always first regardless of offset. DOI links are refused outright.
func (d *Downloader) Download(ctx context.Context, rawURL string, limit, offset int) ([]string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, errors.New("resource url is required")
	}
	if IsDOIURL(trimmed) {
		return nil, ErrDOIURL
	}
	if limit <= 0 {
		limit = 5
	}
	if offset < 0 {
		offset = 0
	}

	lines, ok := d.cache.get(trimmed)
	if !ok {
		fetched, err := d.fetchLines(ctx, trimmed)
		if err != nil {
			return nil, err
		}
		d.cache.put(trimmed, fetched)
		lines = fetched
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("resource %s is empty", trimmed)
	}

	header := lines[0]
	body := lines[1:]
	if offset > len(body) {
		offset = len(body)
	}
	end := offset + limit
	if end > len(body) {
		end = len(body)
	}

	out := make([]string, 0, 1+end-offset)
	out = append(out, header)
	out = append(out, body[offset:end]...)
	return out, nil
}

func (d *Downloader) fetchLines(ctx context.Context, rawURL string) ([]string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", downloadUserAgent)
	req.Header.Set("Accept", "text/csv,text/plain;q=0.9,*/*;q=0.2")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download resource: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("resource returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read resource body: %w", err)
	}

	normalized := strings.ReplaceAll(string(payload), "\r\n", "\n")
	rawLines := strings.Split(normalized, "\n")
	lines := make([]string, 0, len(rawLines))
	for _, line := range rawLines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// IsDOIURL reports whether a URL is a DOI identifier or resolver link.
func IsDOIURL(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	if strings.HasPrefix(lower, "doi:") || strings.HasPrefix(lower, "10.") {
		return true
	}
	parsed, err := url.Parse(lower)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	return host == "doi.org" || strings.HasSuffix(host, ".doi.org")
}
