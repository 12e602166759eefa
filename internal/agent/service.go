package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"datagov/agent/internal/config"
	"datagov/agent/internal/datagov"
	"datagov/agent/internal/fetch"
	"datagov/agent/internal/oracle"
	"datagov/agent/internal/sqlstore"
)

// Service assembles one pipeline per research request. The row cache and the
// scratch SQL database are request-scoped, so the long-lived service keeps
// only the shared clients and budgets.
type Service struct {
	cfg     config.Config
	oracle  oracle.Invoker
	catalog Catalog
}

func NewService(cfg config.Config, invoker oracle.Invoker, catalog Catalog) *Service {
	return &Service{cfg: cfg, oracle: invoker, catalog: catalog}
}

// NewDefaultService wires the service with real oracle and catalog clients.
func NewDefaultService(cfg config.Config, httpClient *http.Client) *Service {
	return NewService(cfg, oracle.NewClient(cfg, httpClient), datagov.NewClient(cfg, httpClient))
}

// Research runs the full pipeline for one question, reporting progress to
// fn (which may be nil).
func (s *Service) Research(ctx context.Context, question string, fn ProgressFunc) (Outcome, error) {
	timeout := time.Duration(s.cfg.ResearchTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cache := fetch.NewRowCache()
	downloader := fetch.NewDownloader(fetch.DownloaderConfig{RequestTimeout: s.cfg.ToolTimeout}, nil, cache)
	viewer := fetch.NewViewer(fetch.ViewerConfig{
		RequestTimeout: s.cfg.ToolTimeout,
		CharBudget:     s.cfg.PreviewCharBudget,
	}, nil)

	store, err := sqlstore.Open(0)
	if err != nil {
		return Outcome{}, fmt.Errorf("open analytic store: %w", err)
	}
	defer store.Close()

	resources := NewResourceEvaluator(s.oracle, downloader, viewer, s.cfg.PreviewCharBudget, fn)
	datasets := NewDatasetEvaluator(s.oracle, s.catalog, resources, fn)
	search := NewSearchOrchestrator(s.oracle, s.catalog, datasets, s.cfg.MaxSearchRounds, s.cfg.MaxResultsPerSearch, fn)
	queries := NewQueryOrchestrator(s.oracle, downloader, store, s.cfg.MaxQueryCount, fn)
	coordinator := NewCoordinator(s.oracle, s.catalog, search, queries, fn)

	return coordinator.Research(runCtx, question)
}
