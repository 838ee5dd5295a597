// Package httpapi is the thin HTTP surface over the orchestrator. Handlers
// translate between JSON and orchestrator calls; all lifecycle decisions
// stay in the orchestrator.
package httpapi

import (
	"github.com/go-chi/chi/v5"

	"github.com/clrke/claude-web/internal/logging"
	"github.com/clrke/claude-web/internal/orchestrator"
)

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(orc *orchestrator.Orchestrator, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	h := NewSessionHandler(orc)

	r.Get("/health", h.Health)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/expired", h.Expired)
		r.Route("/{project}/{feature}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Edit)
			r.Post("/retry", h.Retry)
			r.Post("/backout", h.Backout)
		})
	})

	r.Route("/projects/{project}", func(r chi.Router) {
		r.Get("/queue", h.Queue)
		r.Post("/resume", h.Resume)
	})

	return r
}
