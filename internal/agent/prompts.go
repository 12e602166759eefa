package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"datagov/agent/internal/datagov"
	"datagov/agent/internal/oracle"
	"datagov/agent/internal/sqlstore"
)

const (
	toolSearchDatasets       = "search_datasets"
	toolAutocompleteDatasets = "autocomplete_datasets"
	toolExecuteSQL           = "execute_sql"
)

const reformulatePrompt = `You rewrite a user's question about U.S. public data into one explicit
research instruction. Make implicit scope concrete: spell out timeframe,
geography and units where the question leaves them open, and state that
approximate or coarser-grained data is acceptable when exact figures may not
exist. Keep it to a few sentences.`

const searchPrompt = `You search the data.gov catalog for datasets that could answer a research
instruction. Propose searches with the search_datasets tool. The query
language supports +required and -excluded terms, quoted phrases, and field
filters like title:crime or maintainer:*justice*.

Guidance: keep queries short, one or two keywords. Filtering by maintainer
(maintainer:*agency*) finds authoritative publishers and should be roughly a
quarter to half of your attempts. You will be shown queries already tried;
never repeat one, and change strategy (different keywords, different
filters) each time. Use autocomplete_datasets to discover dataset names when
keyword searches stall.`

const relevancePrompt = `You judge whether a dataset could plausibly help answer a research
instruction, from its catalog metadata alone. Lean inclusive: answer
relevant unless the dataset is clearly about an unrelated topic.`

const triagePrompt = `You triage one dataset resource from its metadata alone, without fetching
content. Decide whether its name, description and URL suggest it could hold
data relevant to the research instruction. Be permissive: only reject
resources that plainly cannot help.`

const deepEvalPrompt = `You evaluate one dataset resource from a content preview. Judge whether it
can supply data for the research instruction, and describe the columns you
can identify: name, inferred type (integer, float, string, date, boolean or
unknown), whether each is useful for the question, and up to three sample
values.

A resource that only partially or approximately answers the question (wrong
granularity, coarser buckets, a proxy measure) is still usable; say so in
the usability reason. Mark it unusable only when it plainly cannot supply
the needed data.`

const synthesisPrompt = `You summarize whether a dataset can answer a research instruction, given
the evaluations of its usable resources. Pick exactly one best_resource: the
URL, copied verbatim from an evaluation, of the resource to load and query.
It must be a CSV resource. List secondary_resources (verbatim URLs) that
supply supporting context. If the best resource's evaluation says it is
only usable together with additional information, at least one secondary
resource must supply that information.`

const selectionPrompt = `You pick the single dataset best suited to answer a research instruction
from a list of evaluated candidates. Return its id verbatim, or an empty
string if none is suitable.`

const tableNamePrompt = `Produce a short snake_case SQL table name for a dataset. Letters, digits
and underscores only.`

const queryPrompt = `You answer a research instruction by querying a SQL table with the
execute_sql tool. Only SELECT statements run. Work stepwise: inspect the
data if needed, then compute the answer. Results come back as JSON with
columns and rows; errors come back as text so you can correct the
statement.`

const critiquePrompt = `You review the most recent SQL exchange and judge whether its result is
already a complete, correct answer to the research instruction. If not,
state concretely what is missing or wrong. Do not propose SQL yourself.`

const outputPrompt = `You format the outcome of a SQL investigation. Produce the executed
queries, a plain-text rendering of the most relevant result rows
(result_table), and a short narrative summary of what the numbers say. If
told the attempt budget ran out, say the answer is partial and note what
could not be resolved. Never invent numbers not present in the results.`

const answerPrompt = `You write the final answer to a user's question from a completed data.gov
investigation. Combine the narrative summary, the result table and the
executed queries into a clear answer. Cite the dataset and include the
useful links you are given. If the summary is flagged partial, carry that
caveat through. Never fabricate figures.`

var (
	reformulateSchema = oracle.Schema{Name: "reformulation", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {"instruction": {"type": "string"}},
		"required": ["instruction"],
		"additionalProperties": false
	}`)}

	triageSchema = oracle.Schema{Name: "triage_verdict", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"worth_investigating": {"type": "boolean"},
			"reasoning": {"type": "string"}
		},
		"required": ["worth_investigating", "reasoning"],
		"additionalProperties": false
	}`)}

	relevanceSchema = oracle.Schema{Name: "relevance_verdict", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"relevant": {"type": "boolean"},
			"reasoning": {"type": "string"}
		},
		"required": ["relevant", "reasoning"],
		"additionalProperties": false
	}`)}

	resourceEvaluationSchema = oracle.Schema{Name: "resource_evaluation", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"usable": {"type": "boolean"},
			"usability_reason": {"type": "string"},
			"columns": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"inferred_type": {"type": "string", "enum": ["integer", "float", "string", "date", "boolean", "unknown"]},
						"useful_for_question": {"type": "boolean"},
						"sample_values": {"type": "array", "items": {"type": "string"}, "maxItems": 3}
					},
					"required": ["name", "inferred_type", "useful_for_question", "sample_values"],
					"additionalProperties": false
				}
			}
		},
		"required": ["summary", "usable", "usability_reason", "columns"],
		"additionalProperties": false
	}`)}

	synthesisSchema = oracle.Schema{Name: "dataset_synthesis", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string"},
			"best_resource": {"type": "string"},
			"secondary_resources": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["summary", "best_resource", "secondary_resources"],
		"additionalProperties": false
	}`)}

	selectionSchema = oracle.Schema{Name: "dataset_selection", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"dataset_id": {"type": "string"},
			"reasoning": {"type": "string"}
		},
		"required": ["dataset_id", "reasoning"],
		"additionalProperties": false
	}`)}

	tableNameSchema = oracle.Schema{Name: "table_name", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {"table_name": {"type": "string"}},
		"required": ["table_name"],
		"additionalProperties": false
	}`)}

	critiqueSchema = oracle.Schema{Name: "critique_verdict", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"complete": {"type": "boolean"},
			"critique": {"type": "string"}
		},
		"required": ["complete", "critique"],
		"additionalProperties": false
	}`)}

	querySummarySchema = oracle.Schema{Name: "query_summary", Definition: json.RawMessage(`{
		"type": "object",
		"properties": {
			"executed_queries": {"type": "array", "items": {"type": "string"}},
			"result_table": {"type": "string"},
			"narrative_summary": {"type": "string"}
		},
		"required": ["executed_queries", "result_table", "narrative_summary"],
		"additionalProperties": false
	}`)}
)

var searchQuerySchema = json.RawMessage(`{
	"type": "object",
	"properties": {"query": {"type": "string"}},
	"required": ["query"],
	"additionalProperties": false
}`)

var searchTools = []oracle.ToolDefinition{
	{
		Name:        toolSearchDatasets,
		Description: "Keyword search of the data.gov catalog. Supports +required/-excluded terms, quoted phrases, title: and maintainer:*term* filters.",
		Parameters:  searchQuerySchema,
	},
	{
		Name:        toolAutocompleteDatasets,
		Description: "Autocomplete data.gov dataset names from a partial title.",
		Parameters:  searchQuerySchema,
	},
}

var queryTools = []oracle.ToolDefinition{
	{
		Name:        toolExecuteSQL,
		Description: "Run one SELECT statement against the loaded table. Returns JSON columns and rows, capped at a row limit.",
		Parameters:  searchQuerySchema,
	},
}

func triageInput(userQuery string, resource PendingResource) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n\n", userQuery)
	fmt.Fprintf(&builder, "Resource name: %s\nFormat: %s\nURL: %s\n", resource.Name, resource.Format, resource.URL)
	if resource.Description != "" {
		fmt.Fprintf(&builder, "Description: %s\n", resource.Description)
	}
	return builder.String()
}

func deepEvalInput(userQuery string, resource PendingResource, preview string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n\n", userQuery)
	fmt.Fprintf(&builder, "Resource name: %s\nFormat: %s\nURL: %s\n\n", resource.Name, resource.Format, resource.URL)
	fmt.Fprintf(&builder, "Content preview:\n%s\n", preview)
	return builder.String()
}

func relevanceInput(userQuery string, pkg datagov.Package) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n\n", userQuery)
	fmt.Fprintf(&builder, "Dataset title: %s\nType: %s\n", pkg.Title, pkg.Type)
	if pkg.Organization.Title != "" {
		fmt.Fprintf(&builder, "Publisher: %s\n", pkg.Organization.Title)
	}
	if pkg.Notes != "" {
		fmt.Fprintf(&builder, "Notes: %s\n", pkg.Notes)
	}
	return builder.String()
}

func synthesisInput(userQuery string, pkg datagov.Package, usable []ResourceEvaluation) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n\nDataset: %s\n\nUsable resource evaluations:\n", userQuery, pkg.Title)
	for _, evaluation := range usable {
		payload, err := json.Marshal(evaluation)
		if err != nil {
			continue
		}
		builder.Write(payload)
		builder.WriteByte('\n')
	}
	return builder.String()
}

func searchInput(userQuery string, pastQueries []string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n", userQuery)
	if len(pastQueries) == 0 {
		builder.WriteString("\nNo searches tried yet.\n")
		return builder.String()
	}
	builder.WriteString("\nQueries already tried (do not repeat any of these):\n")
	for _, query := range pastQueries {
		fmt.Fprintf(&builder, "- %s\n", query)
	}
	return builder.String()
}

func selectionInput(userQuery string, candidates []DatasetSummary) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n\nCandidates from this round:\n", userQuery)
	for _, candidate := range candidates {
		fmt.Fprintf(&builder, "- id: %s\n  title: %s\n  rationale: %s\n", candidate.ID, candidate.Title, candidate.Rationale)
	}
	return builder.String()
}

func queryInput(userQuery string, dataset DatasetSummary, tableName string, columns []sqlstore.Column, preview string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n\n", userQuery)
	fmt.Fprintf(&builder, "Dataset: %s\nLoaded table: %s\nColumns:\n", dataset.Title, tableName)
	for _, column := range columns {
		fmt.Fprintf(&builder, "- %s (%s)\n", column.Name, column.Type)
	}
	fmt.Fprintf(&builder, "\nFirst rows:\n%s\n", preview)
	return builder.String()
}

func outputInput(userQuery string, executedQueries []string, lastResult string, exhausted bool) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Research instruction: %s\n\nExecuted queries:\n", userQuery)
	for _, query := range executedQueries {
		fmt.Fprintf(&builder, "- %s\n", query)
	}
	fmt.Fprintf(&builder, "\nMost recent result:\n%s\n", lastResult)
	if exhausted {
		builder.WriteString("\nThe query attempt budget ran out before the reviewer accepted an answer; the result may be partial.\n")
	}
	return builder.String()
}

func answerInput(state *WorkflowState, citation string, links []string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Question (as researched): %s\n\n", state.UserQuery)
	if state.QuerySummary != nil {
		fmt.Fprintf(&builder, "Narrative summary: %s\n\nResult table:\n%s\n\nExecuted queries:\n", state.QuerySummary.NarrativeSummary, state.QuerySummary.ResultTable)
		for _, query := range state.QuerySummary.ExecutedQueries {
			fmt.Fprintf(&builder, "- %s\n", query)
		}
	}
	if state.SelectedDataset != nil {
		fmt.Fprintf(&builder, "\nDataset: %s\nData file: %s\n", state.SelectedDataset.Title, state.SelectedDataset.BestResourceURL)
	}
	fmt.Fprintf(&builder, "\nCitation: %s\n", citation)
	if len(links) > 0 {
		builder.WriteString("\nUseful links:\n")
		for _, link := range links {
			fmt.Fprintf(&builder, "- %s\n", link)
		}
	}
	return builder.String()
}
