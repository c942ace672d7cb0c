/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the schedule frontend

ROUTE GROUPS:
  /api/requests/*       Request queue (submit, pending, denied, decisions)
  /api/entries/*        Approved day-rows (list, add, edit, delete)
  /api/employees/*      Balance queries
  /health               Liveness probe

SECURITY NOTE:
  No authentication middleware. The service runs behind the scheduling
  app's gateway, which owns auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.SubmitRequest)
			r.Get("/pending", h.ListPending)
			r.Get("/denied", h.ListDenied)
			r.Delete("/denied", h.ClearDenied)
			r.Post("/{id}/approve", h.Approve)
			r.Post("/{id}/deny", h.Deny)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Put("/{id}", h.UpdateEntry)
			r.Delete("/{id}", h.DeleteEntry)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/{id}/trimesters", h.GetTrimesters)
			r.Get("/{id}/remaining", h.GetRemaining)
		})
	})

	r.Get("/health", h.Health)

	return r
}
