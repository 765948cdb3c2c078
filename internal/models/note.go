// Package models defines the domain types for flashsync.
package models

import (
	"path"
	"strings"
	"time"
)

// EntryKind tags what a vault path resolved to.
type EntryKind int

const (
	Missing EntryKind = iota
	File
	Folder
)

func (k EntryKind) String() string {
	switch k {
	case File:
		return "file"
	case Folder:
		return "folder"
	default:
		return "missing"
	}
}

// Entry is the result of every path resolution against the vault.
// Callers switch on Kind instead of probing the file system again.
type Entry struct {
	Kind EntryKind `json:"kind"`
	Path string    `json:"path"`
}

// IsNote reports whether the entry is a Markdown file.
func (e Entry) IsNote() bool {
	return e.Kind == File && IsNotePath(e.Path)
}

// Name returns the final path element.
func (e Entry) Name() string {
	return path.Base(e.Path)
}

// IsNotePath reports whether p has a Markdown extension.
func IsNotePath(p string) bool {
	return strings.EqualFold(path.Ext(p), ".md")
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
