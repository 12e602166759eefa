package datagov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"datagov/agent/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("data.gov returned %d: %s", e.StatusCode, e.Body)
}

// Resource is one downloadable file or link attached to a dataset.
type Resource struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Mimetype    string `json:"mimetype"`
	URL         string `json:"url"`
}

type Extra struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SearchResult is the subset of package metadata returned by catalog search.
type SearchResult struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Notes string `json:"notes"`
}

type Organization struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Package is the full metadata for one dataset.
type Package struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Title        string       `json:"title"`
	Notes        string       `json:"notes"`
	Type         string       `json:"type"`
	State        string       `json:"state"`
	LicenseTitle string       `json:"license_title"`
	Maintainer   string       `json:"maintainer"`
	Organization Organization `json:"organization"`
	Resources    []Resource   `json:"resources"`
	Extras       []Extra      `json:"extras"`
}

type AutocompleteMatch struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.DataGovAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.DataGovBaseURL), "/"),
		httpClient: httpClient,
	}
}

type searchAPIResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Count   int            `json:"count"`
		Results []SearchResult `json:"results"`
	} `json:"result"`
}

type showAPIResponse struct {
	Success bool    `json:"success"`
	Result  Package `json:"result"`
}

type autocompleteAPIResponse struct {
	Success bool                `json:"success"`
	Result  []AutocompleteMatch `json:"result"`
}

// Search runs a catalog keyword query. The query language supports +required
// and -excluded terms, quoted phrases, and field filters such as title: and
// maintainer:*term*.
func (c Client) Search(ctx context.Context, query string, rows int) ([]SearchResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}
	if rows <= 0 {
		rows = 10
	}

	params := url.Values{}
	params.Set("q", trimmed)
	params.Set("rows", strconv.Itoa(rows))

	var parsed searchAPIResponse
	if err := c.get(ctx, "/action/package_search", params, &parsed); err != nil {
		return nil, err
	}
	if !parsed.Success {
		return nil, fmt.Errorf("package_search reported failure for query %q", trimmed)
	}
	return parsed.Result.Results, nil
}

// Show fetches the full metadata for one dataset by ID or name.
func (c Client) Show(ctx context.Context, id string) (Package, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return Package{}, fmt.Errorf("package id is required")
	}

	params := url.Values{}
	params.Set("id", trimmed)

	var parsed showAPIResponse
	if err := c.get(ctx, "/action/package_show", params, &parsed); err != nil {
		return Package{}, err
	}
	if !parsed.Success {
		return Package{}, fmt.Errorf("package_show reported failure for id %q", trimmed)
	}
	return parsed.Result, nil
}

// Autocomplete matches dataset names against a partial query.
func (c Client) Autocomplete(ctx context.Context, query string) ([]AutocompleteMatch, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", trimmed)

	var parsed autocompleteAPIResponse
	if err := c.get(ctx, "/action/package_autocomplete", params, &parsed); err != nil {
		return nil, err
	}
	if !parsed.Success {
		return nil, fmt.Errorf("package_autocomplete reported failure for query %q", trimmed)
	}
	return parsed.Result, nil
}

func (c Client) get(ctx context.Context, path string, params url.Values, target any) error {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("parse data.gov endpoint: %w", err)
	}
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build data.gov request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request data.gov: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode data.gov response: %w", err)
	}
	return nil
}

// StringValue unwraps an extras value when it is a JSON string; non-string
// values report ok=false.
func (e Extra) StringValue() (string, bool) {
	var out string
	if err := json.Unmarshal(e.Value, &out); err != nil {
		return "", false
	}
	return out, true
}
