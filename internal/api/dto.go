package api

import (
	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/flashcards"
	"github.com/starford/flashsync/internal/reconcile"
)

// Report is the summary of a reconcile-all run (aliased from the domain layer).
type Report = flashcards.Report

// Outcome is the result of reconciling one concept (aliased from the domain layer).
type Outcome = reconcile.Outcome

// ConceptInfo describes one concept note (aliased from the domain layer).
type ConceptInfo = flashcards.ConceptInfo

// ConceptListResponse wraps the concept listing.
type ConceptListResponse struct {
	Concepts []ConceptInfo `json:"concepts" validate:"required"`
	Total    int           `json:"total" example:"12" validate:"required"`
}

// DepthResponse is the depth of one note.
type DepthResponse struct {
	Path  string `json:"path" example:"physics/concepts/Orbits.md" validate:"required"`
	Depth int    `json:"depth" example:"2" validate:"required"`
}

// SettingsDTO is the request and response body of the settings endpoints.
type SettingsDTO struct {
	Mappings []concept.Mapping `json:"mappings" validate:"required"`
}
