package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"datagov/agent/internal/oracle"
)

// StopReason reports how a search run ended.
type StopReason string

const (
	StopSelected        StopReason = "dataset_selected"
	StopBudgetExhausted StopReason = "budget_exhausted"
)

// SearchOrchestrator runs the dataset discovery loop: ask the oracle for
// catalog queries, evaluate newly found datasets in parallel, then ask the
// oracle to pick a winner from the round's fresh candidates.
type SearchOrchestrator struct {
	oracle     oracle.Invoker
	catalog    Catalog
	datasets   *DatasetEvaluator
	maxRounds  int
	maxResults int
	progress   ProgressFunc
}

func NewSearchOrchestrator(invoker oracle.Invoker, catalog Catalog, datasets *DatasetEvaluator, maxRounds, maxResults int, progress ProgressFunc) *SearchOrchestrator {
	if maxRounds <= 0 {
		maxRounds = 8
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	return &SearchOrchestrator{
		oracle:     invoker,
		catalog:    catalog,
		datasets:   datasets,
		maxRounds:  maxRounds,
		maxResults: maxResults,
		progress:   progress,
	}
}

type searchArgs struct {
	Query string `json:"query"`
}

type selectionVerdict struct {
	DatasetID string `json:"dataset_id"`
	Reasoning string `json:"reasoning"`
}

// Run drives search rounds until a dataset is selected or the round budget
// runs out. Budget exhaustion is a defined terminal state, not an error.
func (o *SearchOrchestrator) Run(ctx context.Context, state *WorkflowState) (StopReason, error) {
	// IDs ever dispatched for evaluation, including ones that produced no
	// summary. A dataset is never re-evaluated in a later round.
	dispatched := make(map[string]bool)

	for round := 1; round <= o.maxRounds; round++ {
		emit(o.progress, StageSearch, "search round", fmt.Sprintf("round %d of %d", round, o.maxRounds))

		reply, err := o.oracle.Invoke(ctx, []oracle.Message{
			{Role: oracle.RoleSystem, Content: searchPrompt},
			{Role: oracle.RoleUser, Content: searchInput(state.UserQuery, state.PastQueries)},
		}, searchTools)
		if err != nil {
			return "", fmt.Errorf("propose searches: %w", err)
		}
		if reply.Kind != oracle.ReplyToolRequest {
			// The oracle declined to search this round; the round budget
			// still advances so a stubborn oracle cannot loop forever.
			emit(o.progress, StageSearch, "no searches proposed", reply.Text)
			continue
		}

		foundIDs := o.executeSearchCalls(ctx, state, reply.ToolCalls)

		pendingIDs := make([]string, 0, len(foundIDs))
		for _, id := range foundIDs {
			if id == "" || dispatched[id] || state.HasCandidate(id) {
				continue
			}
			dispatched[id] = true
			pendingIDs = append(pendingIDs, id)
		}
		if len(pendingIDs) == 0 {
			emit(o.progress, StageSearch, "no new datasets found", "")
			continue
		}

		emit(o.progress, StageSearch, "evaluating datasets", fmt.Sprintf("%d new datasets", len(pendingIDs)))

		results := make([]*DatasetSummary, len(pendingIDs))
		group, groupCtx := errgroup.WithContext(ctx)
		for i, id := range pendingIDs {
			i, id := i, id
			group.Go(func() error {
				summary, evalErr := o.datasets.Evaluate(groupCtx, state.UserQuery, id)
				if evalErr != nil {
					return evalErr
				}
				results[i] = summary
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return "", err
		}

		roundSummaries := make([]DatasetSummary, 0, len(results))
		for _, summary := range results {
			if summary != nil {
				roundSummaries = append(roundSummaries, *summary)
			}
		}
		newCandidates := state.AddCandidates(roundSummaries)
		if len(newCandidates) == 0 {
			emit(o.progress, StageSearch, "round produced no candidates", "")
			continue
		}

		selectedID, err := o.trySelect(ctx, state.UserQuery, newCandidates)
		if err != nil {
			return "", err
		}
		if selected, ok := state.Candidate(selectedID); ok {
			if err := state.SelectDataset(selected); err != nil {
				return "", err
			}
			emit(o.progress, StageSearch, "dataset selected", selected.Title)
			return StopSelected, nil
		}
		emit(o.progress, StageSearch, "no selection this round", "")
	}

	emit(o.progress, StageSearch, "search budget exhausted", "")
	return StopBudgetExhausted, nil
}

func (o *SearchOrchestrator) executeSearchCalls(ctx context.Context, state *WorkflowState, calls []oracle.ToolCall) []string {
	var foundIDs []string
	for _, call := range calls {
		var args searchArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			emit(o.progress, StageSearch, "malformed tool arguments", call.Name)
			continue
		}
		query := strings.TrimSpace(args.Query)
		if query == "" {
			continue
		}

		switch call.Name {
		case toolSearchDatasets:
			state.AppendPastQueries(query)
			results, err := o.catalog.Search(ctx, query, o.maxResults)
			if err != nil {
				emit(o.progress, StageSearch, "search failed", fmt.Sprintf("%s: %v", query, err))
				continue
			}
			emit(o.progress, StageSearch, "searched catalog", fmt.Sprintf("%q returned %d datasets", query, len(results)))
			for _, result := range results {
				foundIDs = append(foundIDs, result.ID)
			}
		case toolAutocompleteDatasets:
			matches, err := o.catalog.Autocomplete(ctx, query)
			if err != nil {
				emit(o.progress, StageSearch, "autocomplete failed", fmt.Sprintf("%s: %v", query, err))
				continue
			}
			for _, match := range matches {
				foundIDs = append(foundIDs, match.Name)
			}
		default:
			emit(o.progress, StageSearch, "unknown tool requested", call.Name)
		}
	}
	return foundIDs
}

func (o *SearchOrchestrator) trySelect(ctx context.Context, userQuery string, candidates []DatasetSummary) (string, error) {
	var verdict selectionVerdict
	err := o.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: selectionPrompt},
		{Role: oracle.RoleUser, Content: selectionInput(userQuery, candidates)},
	}, selectionSchema, &verdict)
	if err != nil {
		return "", fmt.Errorf("select dataset: %w", err)
	}
	return strings.TrimSpace(verdict.DatasetID), nil
}
