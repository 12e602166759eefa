package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"datagov/agent/internal/agent"
	"datagov/agent/internal/config"
	"datagov/agent/internal/oracle"
)

const writeTimeout = 5 * time.Second

// Researcher runs one research request end to end.
type Researcher interface {
	Research(ctx context.Context, question string, fn agent.ProgressFunc) (agent.Outcome, error)
}

type Handler struct {
	cfg        config.Config
	researcher Researcher
	hub        *EventHub
}

func NewHandler(cfg config.Config, researcher Researcher, hub *EventHub) Handler {
	return Handler{cfg: cfg, researcher: researcher, hub: hub}
}

func (h Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type researchRequest struct {
	Question      string `json:"question"`
	ProgressToken string `json:"progress_token,omitempty"`
}

type researchResponse struct {
	Outcome agent.Outcome `json:"outcome"`
}

// Research answers one question, optionally mirroring progress events to
// websocket watchers of the supplied token.
func (h Handler) Research(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	var progress agent.ProgressFunc
	if req.ProgressToken != "" {
		token := req.ProgressToken
		progress = func(event agent.Event) { h.hub.Publish(token, event) }
		defer h.hub.Close(token)
	}

	startedAt := time.Now()
	log.Printf("research start: question_chars=%d progress_token=%t", len([]rune(question)), req.ProgressToken != "")

	outcome, err := h.researcher.Research(r.Context(), question, progress)
	if err != nil {
		h.writeResearchError(w, err, startedAt)
		return
	}

	log.Printf("research done: dataset_found=%t queries=%d elapsed_ms=%d",
		outcome.DatasetFound, len(outcome.ExecutedQueries), time.Since(startedAt).Milliseconds())
	writeJSON(w, http.StatusOK, researchResponse{Outcome: outcome})
}

// ResearchStream answers one question over SSE: progress events as they
// happen, then a result or error event, then done.
func (h Handler) ResearchStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_ = writeSSEEvent(w, map[string]any{"type": "metadata", "question": question})
	flusher.Flush()

	progress := func(event agent.Event) {
		_ = writeSSEEvent(w, map[string]any{
			"type":    "progress",
			"stage":   event.Stage,
			"message": event.Message,
			"detail":  event.Detail,
		})
		flusher.Flush()
	}

	outcome, err := h.researcher.Research(r.Context(), question, progress)
	if err != nil {
		message := "research interrupted"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "research timed out"
		} else if errors.Is(err, context.Canceled) {
			message = "research request canceled"
		}
		log.Printf("research stream failed: err=%v", err)
		_ = writeSSEEvent(w, map[string]any{"type": "error", "message": message})
		_ = writeSSEEvent(w, map[string]any{"type": "done"})
		flusher.Flush()
		return
	}

	_ = writeSSEEvent(w, map[string]any{"type": "result", "outcome": outcome})
	_ = writeSSEEvent(w, map[string]any{"type": "done"})
	flusher.Flush()
}

// Token mints a progress token for the websocket events endpoint.
func (h Handler) Token(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"progress_token": h.hub.NewToken()})
}

func (h Handler) writeResearchError(w http.ResponseWriter, err error, startedAt time.Time) {
	log.Printf("research failed: err=%v elapsed_ms=%d", err, time.Since(startedAt).Milliseconds())

	var schemaErr oracle.SchemaError
	switch {
	case errors.As(err, &schemaErr):
		writeError(w, http.StatusBadGateway, "oracle_schema_mismatch", "the reasoning service returned an unusable response")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "research_timeout", "research did not finish in time")
	default:
		writeError(w, http.StatusBadGateway, "research_failed", "research could not be completed")
	}
}

func writeSSEEvent(w http.ResponseWriter, event map[string]any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
	return err
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}
