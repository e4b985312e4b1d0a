package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/middleware"
)

// NewRouter builds the ops router with request IDs, panic recovery, request
// logging and tracing.
func NewRouter(h *Handlers, serviceName string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(Logger)
	r.Use(govotel.HTTPMiddleware(serviceName))
	MountRoutes(r, h)
	return r
}

// MountRoutes registers the ops endpoints on r.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/pool-status", h.PoolStatus)
	r.Get("/slow-queries", h.SlowQueries)
}
