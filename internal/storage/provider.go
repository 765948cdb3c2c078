// Package storage defines the vault file-system abstraction.
package storage

import "github.com/starford/flashsync/internal/models"

// TransformFunc maps the current content of a note to its replacement.
type TransformFunc func(current []byte) ([]byte, error)

// Provider is the interface for vault file operations.
// All paths are relative to the vault root and use forward slashes.
type Provider interface {
	// List returns metadata for every .md file under dir.
	List(dir string) ([]models.NoteMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Process atomically replaces the content of an existing note with fn's result.
	Process(path string, fn TransformFunc) error
	// Create writes a new file and fails with apperr.ErrAlreadyExists if path is taken.
	Create(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath, refusing to overwrite.
	Move(oldPath, newPath string) error
	// Stat resolves path to a File, Folder or Missing entry.
	Stat(path string) (models.Entry, error)
	// Children returns the direct children of the folder at dir, sorted by name.
	Children(dir string) ([]models.Entry, error)
}
