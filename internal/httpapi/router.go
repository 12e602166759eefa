package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"datagov/agent/internal/agent"
	"datagov/agent/internal/config"
)

func NewRouter(cfg config.Config) http.Handler {
	service := agent.NewDefaultService(cfg, nil)
	return NewRouterWith(cfg, service)
}

// NewRouterWith builds the router around an injected researcher, letting
// tests swap the pipeline out.
func NewRouterWith(cfg config.Config, researcher Researcher) http.Handler {
	hub := NewEventHub()
	h := NewHandler(cfg, researcher, hub)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/research", h.Research)
		v1.Post("/research/stream", h.ResearchStream)
		v1.Post("/research/token", h.Token)
		v1.Get("/research/events/{token}", h.ResearchEvents)
	})

	return r
}
