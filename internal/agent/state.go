package agent

import "errors"

// ResourceFormat is the allow-list of resource kinds the pipeline can read.
type ResourceFormat string

const (
	FormatCSV ResourceFormat = "CSV"
	FormatDOI ResourceFormat = "DOI"
)

// PendingResource is one candidate file or link inside a dataset, derived
// from raw catalog metadata. It only exists while that dataset is being
// evaluated.
type PendingResource struct {
	URL         string
	Name        string
	Description string
	Format      ResourceFormat
}

// ColumnInfo describes one column observed in a resource preview.
type ColumnInfo struct {
	Name              string   `json:"name"`
	InferredType      string   `json:"inferred_type"`
	UsefulForQuestion bool     `json:"useful_for_question"`
	SampleValues      []string `json:"sample_values"`
}

// ResourceEvaluation is the terminal verdict on one resource.
type ResourceEvaluation struct {
	URL             string       `json:"url"`
	Name            string       `json:"name"`
	Usable          bool         `json:"usable"`
	UsabilityReason string       `json:"usability_reason"`
	Summary         string       `json:"summary"`
	Columns         []ColumnInfo `json:"columns"`
}

// DatasetSummary is one dataset's usability verdict: the resource to query,
// supporting resources, and the evaluations that justified the pick.
// Immutable once produced.
type DatasetSummary struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	BestResourceURL       string               `json:"best_resource_url"`
	SecondaryResourceURLs []string             `json:"secondary_resource_urls"`
	Rationale             string               `json:"rationale"`
	ResourceEvaluations   []ResourceEvaluation `json:"resource_evaluations"`
}

// QuerySummary holds the outcome of the SQL stage.
type QuerySummary struct {
	ExecutedQueries  []string `json:"executed_queries"`
	ResultTable      string   `json:"result_table"`
	NarrativeSummary string   `json:"narrative_summary"`
}

var (
	errDatasetAlreadySelected = errors.New("dataset already selected")
	errSummaryAlreadySet      = errors.New("query summary already set")
)

// WorkflowState is the accumulator threaded through one research request.
// Stages never write to it concurrently; fan-out results are merged through
// the methods below after each barrier.
type WorkflowState struct {
	UserQuery         string
	PastQueries       []string
	CandidateDatasets []DatasetSummary
	SelectedDataset   *DatasetSummary
	QuerySummary      *QuerySummary
	FinalAnswer       string
}

func NewWorkflowState(userQuery string) *WorkflowState {
	return &WorkflowState{UserQuery: userQuery}
}

// AppendPastQueries logs executed search queries. Append-only; the log is
// advisory prompt context, so duplicates are kept as-is.
func (s *WorkflowState) AppendPastQueries(queries ...string) {
	s.PastQueries = append(s.PastQueries, queries...)
}

// AddCandidates merges new dataset summaries into the candidate set,
// dropping any whose ID is already present. Returns the summaries actually
// added, in input order.
func (s *WorkflowState) AddCandidates(summaries []DatasetSummary) []DatasetSummary {
	added := make([]DatasetSummary, 0, len(summaries))
	for _, summary := range summaries {
		if summary.ID == "" || s.HasCandidate(summary.ID) {
			continue
		}
		s.CandidateDatasets = append(s.CandidateDatasets, summary)
		added = append(added, summary)
	}
	return added
}

func (s *WorkflowState) HasCandidate(id string) bool {
	for _, candidate := range s.CandidateDatasets {
		if candidate.ID == id {
			return true
		}
	}
	return false
}

// Candidate returns the accumulated summary for an ID, if present.
func (s *WorkflowState) Candidate(id string) (DatasetSummary, bool) {
	for _, candidate := range s.CandidateDatasets {
		if candidate.ID == id {
			return candidate, true
		}
	}
	return DatasetSummary{}, false
}

// SelectDataset records the search winner. Set exactly once.
func (s *WorkflowState) SelectDataset(summary DatasetSummary) error {
	if s.SelectedDataset != nil {
		return errDatasetAlreadySelected
	}
	s.SelectedDataset = &summary
	return nil
}

// SetQuerySummary records the SQL stage outcome. Set exactly once.
func (s *WorkflowState) SetQuerySummary(summary QuerySummary) error {
	if s.QuerySummary != nil {
		return errSummaryAlreadySet
	}
	s.QuerySummary = &summary
	return nil
}
