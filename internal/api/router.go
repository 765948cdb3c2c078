package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/flashsync/internal/flashcards"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *flashcards.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Reconciliation.
	r.Post("/reconcile", h.ReconcileAll)
	r.Post("/reconcile/*", h.ReconcileConcept)

	// Concepts and depths.
	r.Get("/concepts", h.ListConcepts)
	r.Get("/depth/*", h.Depth)

	// Settings.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.UpdateSettings)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
