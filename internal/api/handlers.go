package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/flashcards"
	"github.com/starford/flashsync/internal/frontmatter"
)

// Handler holds API route handlers.
type Handler struct {
	svc *flashcards.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *flashcards.Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. concepts%2FGravity.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeDomainError maps domain errors onto HTTP statuses. Anything
// unrecognised is logged and reported as 500.
func writeDomainError(w http.ResponseWriter, op, path string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrNotConfigured):
		writeJSON(w, http.StatusBadRequest, errorBody("path is not in a concept folder"))
	case errors.Is(err, apperr.ErrCyclicGraph),
		errors.Is(err, apperr.ErrDepthLimit),
		errors.Is(err, apperr.ErrInvalidInput),
		errors.Is(err, frontmatter.ErrInvalid):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("path", path), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ReconcileAll handles POST /api/reconcile.
//
//	@Summary		Reconcile every flashcard in every concept folder
//	@Tags			reconcile
//	@Produce		json
//	@Success		200	{object}	Report
//	@Security		BearerAuth
//	@Router			/reconcile [post]
func (h *Handler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.ReconcileAll(r.Context())
	if err != nil {
		slog.Error("reconcile all failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ReconcileConcept handles POST /api/reconcile/*.
//
//	@Summary		Reconcile the flashcard of one concept
//	@Tags			reconcile
//	@Produce		json
//	@Param			path	path		string	true	"Concept path"
//	@Success		200		{object}	Outcome
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reconcile/{path} [post]
func (h *Handler) ReconcileConcept(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	out, err := h.svc.ReconcileConcept(r.Context(), path)
	if err != nil {
		writeDomainError(w, "reconcile concept", path, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ListConcepts handles GET /api/concepts.
//
//	@Summary		List concept notes with their flashcards and depths
//	@Tags			concepts
//	@Produce		json
//	@Success		200	{object}	ConceptListResponse
//	@Security		BearerAuth
//	@Router			/concepts [get]
func (h *Handler) ListConcepts(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListConcepts(r.Context())
	if err != nil {
		slog.Error("list concepts failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if items == nil {
		items = []ConceptInfo{}
	}
	writeJSON(w, http.StatusOK, ConceptListResponse{Concepts: items, Total: len(items)})
}

// Depth handles GET /api/depth/*.
//
//	@Summary		Get the depth of a note
//	@Tags			concepts
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	DepthResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/depth/{path} [get]
func (h *Handler) Depth(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	d, err := h.svc.Depth(r.Context(), path)
	if err != nil {
		writeDomainError(w, "depth", path, err)
		return
	}
	writeJSON(w, http.StatusOK, DepthResponse{Path: path, Depth: d})
}

// GetSettings handles GET /api/settings.
//
//	@Summary		Get the concept folder mappings
//	@Tags			settings
//	@Produce		json
//	@Success		200	{object}	SettingsDTO
//	@Security		BearerAuth
//	@Router			/settings [get]
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Settings()
	writeJSON(w, http.StatusOK, SettingsDTO{Mappings: st.Mappings})
}

// UpdateSettings handles PUT /api/settings.
//
//	@Summary		Replace the concept folder mappings
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SettingsDTO	true	"New mappings"
//	@Success		200		{object}	SettingsDTO
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/settings [put]
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpdateSettings(r.Context(), flashcards.Settings{Mappings: req.Mappings}); err != nil {
		writeDomainError(w, "update settings", "", err)
		return
	}
	st := h.svc.Settings()
	writeJSON(w, http.StatusOK, SettingsDTO{Mappings: st.Mappings})
}
