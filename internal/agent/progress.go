package agent

import "time"

// Stage labels the pipeline phase a progress event belongs to.
type Stage string

const (
	StageReformulate  Stage = "reformulate"
	StageSearch       Stage = "search"
	StageDatasetEval  Stage = "dataset_eval"
	StageResourceEval Stage = "resource_eval"
	StageQuery        Stage = "query"
	StageAnswer       Stage = "answer"
)

// Event is one advisory progress notification. Events are telemetry for
// callers watching a run; nothing in the pipeline depends on their delivery.
type Event struct {
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProgressFunc receives events as the pipeline advances. It may be nil.
type ProgressFunc func(Event)

func emit(fn ProgressFunc, stage Stage, message, detail string) {
	if fn == nil {
		return
	}
	fn(Event{Stage: stage, Message: message, Detail: detail, Timestamp: time.Now().UTC()})
}
