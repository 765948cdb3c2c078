package concept

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/starford/flashsync/internal/apperr"
)

// Defaults for the flashcard naming scheme.
const (
	DefaultFlashcardPrefix = "F "
	DefaultPlaceholderName = "Untitled"
)

// NoMapping is returned by Classify for paths outside every concept folder.
const NoMapping = -1

// Classifier maps note paths to configured mappings. Mappings may be
// replaced at runtime with SetMappings.
type Classifier struct {
	mu          sync.RWMutex
	mappings    []Mapping
	prefix      string
	placeholder *regexp.Regexp
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithFlashcardPrefix sets the marker prepended to flashcard file names.
func WithFlashcardPrefix(prefix string) Option {
	return func(c *Classifier) { c.prefix = prefix }
}

// WithPlaceholderName sets the host's default name for untitled notes.
func WithPlaceholderName(name string) Option {
	return func(c *Classifier) { c.placeholder = placeholderRe(name) }
}

// NewClassifier returns a classifier over mappings. Folders are normalised;
// the slice is copied.
func NewClassifier(mappings []Mapping, opts ...Option) *Classifier {
	c := &Classifier{
		mappings:    normalise(mappings),
		prefix:      DefaultFlashcardPrefix,
		placeholder: placeholderRe(DefaultPlaceholderName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalise(mappings []Mapping) []Mapping {
	out := make([]Mapping, len(mappings))
	for i, m := range mappings {
		m.ConceptFolder = cleanFolder(m.ConceptFolder)
		m.FlashcardFolder = cleanFolder(m.FlashcardFolder)
		out[i] = m
	}
	return out
}

// SetMappings validates and replaces the configured mappings.
func (c *Classifier) SetMappings(mappings []Mapping) error {
	if err := ValidateMappings(mappings); err != nil {
		return fmt.Errorf("concept: set mappings: %w: %w", apperr.ErrInvalidInput, err)
	}
	ms := normalise(mappings)
	c.mu.Lock()
	c.mappings = ms
	c.mu.Unlock()
	return nil
}

func placeholderRe(name string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `( [0-9]+)?\.md$`)
}

// Mappings returns a copy of the configured mappings.
func (c *Classifier) Mappings() []Mapping {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Mapping(nil), c.mappings...)
}

// Classify returns the index of the first mapping whose concept folder
// contains p, or NoMapping.
func (c *Classifier) Classify(p string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return classify(c.mappings, p)
}

func classify(mappings []Mapping, p string) int {
	for i, m := range mappings {
		if isSubPath(m.ConceptFolder, p) {
			return i
		}
	}
	return NoMapping
}

// Mapping returns the mapping at index i, as returned by Classify.
func (c *Classifier) Mapping(i int) (Mapping, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.mappings) {
		return Mapping{}, false
	}
	return c.mappings[i], true
}

// IsConcept reports whether p lies under any concept folder.
func (c *Classifier) IsConcept(p string) bool {
	return c.Classify(p) != NoMapping
}

// MappingFor returns the mapping that owns conceptPath.
func (c *Classifier) MappingFor(conceptPath string) (Mapping, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := classify(c.mappings, conceptPath)
	if i == NoMapping {
		return Mapping{}, fmt.Errorf("concept: %s is not in any concept folder: %w", conceptPath, apperr.ErrNotConfigured)
	}
	return c.mappings[i], nil
}

// FlashcardName returns the flashcard file name for a concept file name.
func (c *Classifier) FlashcardName(conceptName string) string {
	return c.prefix + conceptName
}

// FlashcardPath returns the deterministic flashcard path paired with conceptPath.
func (c *Classifier) FlashcardPath(conceptPath string) (string, error) {
	m, err := c.MappingFor(conceptPath)
	if err != nil {
		return "", err
	}
	return path.Join(m.FlashcardFolder, c.FlashcardName(path.Base(conceptPath))), nil
}

// TagFamily returns the tag prefix configured for conceptPath.
func (c *Classifier) TagFamily(conceptPath string) (string, error) {
	m, err := c.MappingFor(conceptPath)
	if err != nil {
		return "", err
	}
	return m.TagPrefix, nil
}

// IsPlaceholder reports whether a file name is the host's default name for
// a note that has not been titled yet ("Untitled.md", "Untitled 2.md").
func (c *Classifier) IsPlaceholder(name string) bool {
	return c.placeholder.MatchString(path.Base(name))
}

// isSubPath reports whether child lies strictly below parent: the relative
// path must be non-empty, must not climb out with "..", and must not be absolute.
func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(filepath.FromSlash(parent), filepath.FromSlash(child))
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if rel == "" || rel == "." {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	return !filepath.IsAbs(rel)
}
