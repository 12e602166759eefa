package httpapi

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"datagov/agent/internal/agent"
)

const eventBuffer = 64

// EventHub fans progress events out to websocket watchers, keyed by the
// progress token a research request was started with. Events are advisory:
// a missing or slow watcher never blocks the pipeline.
type EventHub struct {
	mu       sync.Mutex
	watchers map[string][]chan agent.Event
}

func NewEventHub() *EventHub {
	return &EventHub{watchers: make(map[string][]chan agent.Event)}
}

// NewToken mints a progress token callers pass to both the research request
// and the events endpoint.
func (h *EventHub) NewToken() string {
	return uuid.NewString()
}

func (h *EventHub) subscribe(token string) chan agent.Event {
	ch := make(chan agent.Event, eventBuffer)
	h.mu.Lock()
	h.watchers[token] = append(h.watchers[token], ch)
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(token string, ch chan agent.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.watchers[token]
	for i, sub := range subs {
		if sub == ch {
			h.watchers[token] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.watchers[token]) == 0 {
		delete(h.watchers, token)
	}
}

// Publish delivers an event to every watcher of a token, dropping it for
// watchers whose buffer is full.
func (h *EventHub) Publish(token string, event agent.Event) {
	if token == "" {
		return
	}
	h.mu.Lock()
	subs := append([]chan agent.Event(nil), h.watchers[token]...)
	h.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close ends every watcher stream for a token.
func (h *EventHub) Close(token string) {
	h.mu.Lock()
	subs := h.watchers[token]
	delete(h.watchers, token)
	h.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// ResearchEvents upgrades to a websocket and relays progress events for the
// token in the URL until the research run closes the token or the client
// disconnects.
func (h Handler) ResearchEvents(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "progress token is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Printf("research events accept failed: token=%s err=%v", token, err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	ch := h.hub.subscribe(token)
	defer h.hub.unsubscribe(token, ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, conn, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
