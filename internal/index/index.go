package index

import "github.com/starford/flashsync/internal/models"

// LinkCache is the read side of the index used by the depth calculator and
// the reconciler. Consumers should depend on this interface rather than
// the concrete *DB type.
type LinkCache interface {
	// OutgoingLinks returns the link targets recorded for path, in document
	// order. ok is false when the note is not indexed at all.
	OutgoingLinks(path string) (links []string, ok bool, err error)
	// ResolveLink resolves a link as written in sourcePath to a note.
	ResolveLink(link, sourcePath string) (models.Entry, error)
	// BasenameCount returns how many indexed notes share the file name of path.
	BasenameCount(path string) (int, error)
}

// NoteIndex defines the full set of index operations.
type NoteIndex interface {
	LinkCache
	UpsertNote(n NoteRow, links []string) error
	DeleteNote(path string) error
	GetChecksum(path string) (string, error)
	GetNote(path string) (*NoteRow, error)
	AllPaths() (map[string]struct{}, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
