package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"datagov/agent/internal/datagov"
	"datagov/agent/internal/fetch"
	"datagov/agent/internal/oracle"
	"datagov/agent/internal/sqlstore"
)

// oracleStub routes free-form calls through invokeFn and structured calls
// through per-schema handlers. Safe for concurrent use by fan-out tasks.
type oracleStub struct {
	mu              sync.Mutex
	invokeFn        func(messages []oracle.Message, tools []oracle.ToolDefinition) (oracle.Reply, error)
	structuredFns   map[string]func(messages []oracle.Message) (any, error)
	invokeCount     int
	structuredCalls []string
}

func newOracleStub() *oracleStub {
	return &oracleStub{structuredFns: make(map[string]func(messages []oracle.Message) (any, error))}
}

func (s *oracleStub) onStructured(schemaName string, fn func(messages []oracle.Message) (any, error)) {
	s.structuredFns[schemaName] = fn
}

func (s *oracleStub) respondStructured(schemaName string, value any) {
	s.onStructured(schemaName, func([]oracle.Message) (any, error) { return value, nil })
}

func (s *oracleStub) Invoke(ctx context.Context, messages []oracle.Message, tools []oracle.ToolDefinition) (oracle.Reply, error) {
	s.mu.Lock()
	s.invokeCount++
	fn := s.invokeFn
	s.mu.Unlock()
	if fn == nil {
		return oracle.Reply{Kind: oracle.ReplyFinalAnswer, Text: "done"}, nil
	}
	return fn(messages, tools)
}

func (s *oracleStub) InvokeStructured(ctx context.Context, messages []oracle.Message, schema oracle.Schema, target any) error {
	s.mu.Lock()
	s.structuredCalls = append(s.structuredCalls, schema.Name)
	fn := s.structuredFns[schema.Name]
	s.mu.Unlock()
	if fn == nil {
		return oracle.SchemaError{Schema: schema.Name, Detail: "no stub handler"}
	}
	value, err := fn(messages)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, target)
}

// catalogStub serves scripted search results and packages, counting calls.
type catalogStub struct {
	mu         sync.Mutex
	searchFn   func(query string) ([]datagov.SearchResult, error)
	packages   map[string]datagov.Package
	showCounts map[string]int
	searches   []string
}

func newCatalogStub() *catalogStub {
	return &catalogStub{packages: make(map[string]datagov.Package), showCounts: make(map[string]int)}
}

func (c *catalogStub) Search(ctx context.Context, query string, rows int) ([]datagov.SearchResult, error) {
	c.mu.Lock()
	c.searches = append(c.searches, query)
	fn := c.searchFn
	c.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(query)
}

func (c *catalogStub) Show(ctx context.Context, id string) (datagov.Package, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showCounts[id]++
	pkg, ok := c.packages[id]
	if !ok {
		return datagov.Package{}, datagov.APIError{StatusCode: 404, Body: "not found"}
	}
	return pkg, nil
}

func (c *catalogStub) Autocomplete(ctx context.Context, query string) ([]datagov.AutocompleteMatch, error) {
	return nil, nil
}

func (c *catalogStub) showCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showCounts[id]
}

// fetcherStub counts downloads per URL so triage short-circuit tests can
// assert no fetch happened.
type fetcherStub struct {
	mu        sync.Mutex
	rows      map[string][]string
	err       error
	downloads int
}

func newFetcherStub() *fetcherStub {
	return &fetcherStub{rows: make(map[string][]string)}
}

func (f *fetcherStub) Download(ctx context.Context, rawURL string, limit, offset int) ([]string, error) {
	f.mu.Lock()
	f.downloads++
	rows, ok := f.rows[rawURL]
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("no fixture for " + rawURL)
	}
	if limit+1 < len(rows) {
		rows = rows[:limit+1]
	}
	return rows, nil
}

func (f *fetcherStub) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

type viewerStub struct {
	mu    sync.Mutex
	pages map[string]string
	err   error
	views int
}

func newViewerStub() *viewerStub {
	return &viewerStub{pages: make(map[string]string)}
}

func (v *viewerStub) View(ctx context.Context, rawURL string) (fetch.Page, error) {
	v.mu.Lock()
	v.views++
	text := v.pages[rawURL]
	err := v.err
	v.mu.Unlock()
	if err != nil {
		return fetch.Page{}, err
	}
	return fetch.Page{URL: rawURL, Text: text}, nil
}

// storeStub is a scripted table store for query loop tests.
type storeStub struct {
	mu       sync.Mutex
	loadErr  error
	queryFn  func(statement string) (sqlstore.Result, error)
	loaded   []string
	executed []string
}

func (s *storeStub) LoadCSV(ctx context.Context, tableName string, lines []string) ([]sqlstore.Column, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, 0, s.loadErr
	}
	s.loaded = append(s.loaded, tableName)
	columns := []sqlstore.Column{{Name: "age_group", Type: "TEXT"}, {Name: "count", Type: "INTEGER"}}
	return columns, len(lines) - 1, nil
}

func (s *storeStub) Query(ctx context.Context, statement string) (sqlstore.Result, error) {
	s.mu.Lock()
	s.executed = append(s.executed, statement)
	fn := s.queryFn
	s.mu.Unlock()
	if fn != nil {
		return fn(statement)
	}
	return sqlstore.Result{
		Columns: []sqlstore.Column{{Name: "pct", Type: "REAL"}},
		Rows:    [][]string{{"0.8"}},
	}, nil
}

func (s *storeStub) executedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed)
}

func toolReply(name string, args string) oracle.Reply {
	return oracle.Reply{
		Kind: oracle.ReplyToolRequest,
		ToolCalls: []oracle.ToolCall{
			{ID: "call-1", Name: name, Arguments: json.RawMessage(args)},
		},
	}
}

func csvPackage(id, title, resourceURL string) datagov.Package {
	return datagov.Package{
		ID:    id,
		Name:  id,
		Title: title,
		Notes: "Administrative records published for public analysis.",
		Type:  "dataset",
		Resources: []datagov.Resource{
			{ID: id + "-r1", Name: title + " CSV", Format: "CSV", URL: resourceURL},
		},
	}
}

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
