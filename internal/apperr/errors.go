// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotConfigured reports a path that is not under any configured concept folder.
	ErrNotConfigured = errors.New("not configured")
	// ErrInvalidInput reports a depth query on something that is not a note.
	ErrInvalidInput = errors.New("invalid input")
	ErrCyclicGraph  = errors.New("cyclic concept graph")
	ErrDepthLimit   = errors.New("concept depth limit exceeded")
)
