package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"datagov/agent/internal/oracle"
	"datagov/agent/internal/sqlstore"
)

const fullDownloadRowLimit = 100_000

// TableStore is the analytic scratch database the query stage loads the
// selected resource into.
type TableStore interface {
	LoadCSV(ctx context.Context, tableName string, lines []string) ([]sqlstore.Column, int, error)
	Query(ctx context.Context, statement string) (sqlstore.Result, error)
}

// QueryOrchestrator answers the question against the selected dataset with a
// bounded propose, execute, critique loop over SQL attempts.
type QueryOrchestrator struct {
	oracle     oracle.Invoker
	files      ContentFetcher
	store      TableStore
	maxQueries int
	progress   ProgressFunc
}

func NewQueryOrchestrator(invoker oracle.Invoker, files ContentFetcher, store TableStore, maxQueries int, progress ProgressFunc) *QueryOrchestrator {
	if maxQueries <= 0 {
		maxQueries = 10
	}
	return &QueryOrchestrator{
		oracle:     invoker,
		files:      files,
		store:      store,
		maxQueries: maxQueries,
		progress:   progress,
	}
}

type tableNameChoice struct {
	TableName string `json:"table_name"`
}

type critiqueVerdict struct {
	Complete bool   `json:"complete"`
	Critique string `json:"critique"`
}

type sqlArgs struct {
	Query string `json:"query"`
}

// Run loads the selected dataset's best resource and drives SQL attempts
// until the critique accepts the answer or the attempt budget runs out.
// Budget exhaustion still produces a summary.
func (o *QueryOrchestrator) Run(ctx context.Context, state *WorkflowState) error {
	if state.SelectedDataset == nil {
		return errors.New("query stage requires a selected dataset")
	}
	dataset := *state.SelectedDataset

	tableName, columns, preview, err := o.setup(ctx, dataset)
	if err != nil {
		return err
	}

	messages := []oracle.Message{
		{Role: oracle.RoleSystem, Content: queryPrompt},
		{Role: oracle.RoleUser, Content: queryInput(state.UserQuery, dataset, tableName, columns, preview)},
	}

	var executedQueries []string
	lastResult := preview
	executed := 0
	rounds := 0
	settled := false

	// Propose turns are capped alongside executions. A turn that executes
	// nothing, an unknown tool or a malformed or empty query, still burns a
	// round, so a rejecting critique cannot keep the loop alive forever.
loop:
	for executed < o.maxQueries && rounds < o.maxQueries {
		rounds++
		remaining := o.maxQueries - executed
		turn := append(messages, oracle.Message{
			Role:    oracle.RoleUser,
			Content: fmt.Sprintf("You have %d query attempts remaining. Continue, or answer if the data already suffices.", remaining),
		})

		reply, err := o.oracle.Invoke(ctx, turn, queryTools)
		if err != nil {
			return fmt.Errorf("propose queries: %w", err)
		}
		if reply.Kind != oracle.ReplyToolRequest {
			emit(o.progress, StageQuery, "oracle finished querying", "")
			settled = true
			break
		}

		messages = append(messages, oracle.Message{
			Role:      oracle.RoleAssistant,
			Content:   reply.Text,
			ToolCalls: reply.ToolCalls,
		})

		for _, call := range reply.ToolCalls {
			if executed >= o.maxQueries {
				messages = append(messages, toolResult(call, "query budget exhausted; no more attempts"))
				break loop
			}
			output, statement := o.executeCall(ctx, call)
			if statement != "" {
				executedQueries = append(executedQueries, statement)
				executed++
				lastResult = output
			}
			messages = append(messages, toolResult(call, output))
		}

		verdict, err := o.critique(ctx, messages)
		if err != nil {
			return err
		}
		if verdict.Complete {
			emit(o.progress, StageQuery, "critique accepted answer", "")
			settled = true
			break
		}
		emit(o.progress, StageQuery, "critique requested another pass", verdict.Critique)
		messages = append(messages, oracle.Message{
			Role:    oracle.RoleUser,
			Content: "Reviewer feedback: " + verdict.Critique,
		})
	}

	summary, err := o.output(ctx, state.UserQuery, executedQueries, lastResult, !settled)
	if err != nil {
		return err
	}
	summary.ExecutedQueries = executedQueries
	return state.SetQuerySummary(summary)
}

func (o *QueryOrchestrator) setup(ctx context.Context, dataset DatasetSummary) (tableName string, columns []sqlstore.Column, preview string, err error) {
	var choice tableNameChoice
	err = o.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: tableNamePrompt},
		{Role: oracle.RoleUser, Content: "Dataset title: " + dataset.Title},
	}, tableNameSchema, &choice)
	if err != nil {
		return "", nil, "", fmt.Errorf("choose table name: %w", err)
	}
	tableName = sqlstore.SanitizeTableName(choice.TableName)
	if tableName == "" {
		tableName = "dataset"
	}

	lines, err := o.files.Download(ctx, dataset.BestResourceURL, fullDownloadRowLimit, 0)
	if err != nil {
		return "", nil, "", fmt.Errorf("download best resource %s: %w", dataset.BestResourceURL, err)
	}

	columns, inserted, err := o.store.LoadCSV(ctx, tableName, lines)
	if err != nil {
		return "", nil, "", fmt.Errorf("load table %s: %w", tableName, err)
	}
	emit(o.progress, StageQuery, "table loaded", fmt.Sprintf("%s with %d rows", tableName, inserted))

	previewEnd := len(lines)
	if previewEnd > 21 {
		previewEnd = 21
	}
	return tableName, columns, strings.Join(lines[:previewEnd], "\n"), nil
}

func (o *QueryOrchestrator) executeCall(ctx context.Context, call oracle.ToolCall) (output, statement string) {
	if call.Name != toolExecuteSQL {
		return fmt.Sprintf("unknown tool %q", call.Name), ""
	}
	var args sqlArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return fmt.Sprintf("malformed arguments: %v", err), ""
	}
	statement = strings.TrimSpace(args.Query)
	if statement == "" {
		return "empty query", ""
	}

	emit(o.progress, StageQuery, "executing query", statement)

	result, err := o.store.Query(ctx, statement)
	if err != nil {
		// Errors go back to the oracle as tool output so it can rewrite
		// the statement; the attempt still counts against the budget.
		return fmt.Sprintf("query failed: %v", err), statement
	}
	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return fmt.Sprintf("encode result: %v", marshalErr), statement
	}
	return string(payload), statement
}

// critique reviews only the most recent exchange with no tools bound, so
// the proposing turn cannot grade its own work.
func (o *QueryOrchestrator) critique(ctx context.Context, messages []oracle.Message) (critiqueVerdict, error) {
	exchange := latestExchange(messages)
	var verdict critiqueVerdict
	err := o.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: critiquePrompt},
		{Role: oracle.RoleUser, Content: exchange},
	}, critiqueSchema, &verdict)
	if err != nil {
		return critiqueVerdict{}, fmt.Errorf("critique queries: %w", err)
	}
	return verdict, nil
}

func (o *QueryOrchestrator) output(ctx context.Context, userQuery string, executedQueries []string, lastResult string, exhausted bool) (QuerySummary, error) {
	input := outputInput(userQuery, executedQueries, lastResult, exhausted)
	var summary QuerySummary
	err := o.oracle.InvokeStructured(ctx, []oracle.Message{
		{Role: oracle.RoleSystem, Content: outputPrompt},
		{Role: oracle.RoleUser, Content: input},
	}, querySummarySchema, &summary)
	if err != nil {
		return QuerySummary{}, fmt.Errorf("format query summary: %w", err)
	}
	return summary, nil
}

func latestExchange(messages []oracle.Message) string {
	// Walk back to the last assistant turn and render it plus its tool
	// results.
	start := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == oracle.RoleAssistant {
			start = i
			break
		}
	}
	var builder strings.Builder
	for _, message := range messages[start:] {
		switch message.Role {
		case oracle.RoleAssistant:
			for _, call := range message.ToolCalls {
				builder.WriteString("Proposed query: ")
				builder.Write(call.Arguments)
				builder.WriteByte('\n')
			}
			if strings.TrimSpace(message.Content) != "" {
				builder.WriteString(message.Content)
				builder.WriteByte('\n')
			}
		case oracle.RoleTool:
			builder.WriteString("Result: ")
			builder.WriteString(message.Content)
			builder.WriteByte('\n')
		}
	}
	return builder.String()
}

func toolResult(call oracle.ToolCall, content string) oracle.Message {
	return oracle.Message{
		Role:       oracle.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}
