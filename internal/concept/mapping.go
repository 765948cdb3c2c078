// Package concept classifies vault paths against the configured concept
// folders and derives the paired flashcard locations.
package concept

import (
	"fmt"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Mapping pairs one concept folder with its flashcard folder, flashcard
// template and tag family.
type Mapping struct {
	ConceptFolder   string `yaml:"concept_folder" json:"concept_folder"`
	FlashcardFolder string `yaml:"flashcard_folder" json:"flashcard_folder"`
	TemplatePath    string `yaml:"template_path" json:"template_path"`
	TagPrefix       string `yaml:"tag_prefix" json:"tag_prefix"`
}

// Validate validates a single mapping.
func (m Mapping) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.ConceptFolder, validation.Required),
		validation.Field(&m.FlashcardFolder, validation.Required),
		validation.Field(&m.TagPrefix, validation.Required,
			validation.By(noWhitespace)),
	)
}

func noWhitespace(value interface{}) error {
	s, _ := value.(string)
	if strings.ContainsAny(s, " \t\n") {
		return fmt.Errorf("must not contain whitespace")
	}
	return nil
}

// ValidateMappings checks every mapping and the relations between them:
// concept folders are distinct and no flashcard folder lies inside a
// concept folder, where its own edits would be taken for concept edits.
func ValidateMappings(ms []Mapping) error {
	if len(ms) == 0 {
		return fmt.Errorf("at least one mapping is required")
	}
	seen := make(map[string]int, len(ms))
	for i, m := range ms {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
		folder := cleanFolder(m.ConceptFolder)
		if j, dup := seen[folder]; dup {
			return fmt.Errorf("mapping %d: concept folder %q already used by mapping %d", i, m.ConceptFolder, j)
		}
		seen[folder] = i
	}
	for i, m := range ms {
		card := cleanFolder(m.FlashcardFolder)
		for _, other := range ms {
			c := cleanFolder(other.ConceptFolder)
			if card == c || isSubPath(c, card) {
				return fmt.Errorf("mapping %d: flashcard folder %q is inside concept folder %q", i, m.FlashcardFolder, other.ConceptFolder)
			}
		}
	}
	return nil
}

// FromLists builds mappings from the legacy space-separated parallel lists.
// The lists must have the same number of entries; templates may be empty.
func FromLists(concepts, flashcards, templates, tags string) ([]Mapping, error) {
	cs := strings.Fields(concepts)
	fs := strings.Fields(flashcards)
	ts := strings.Fields(templates)
	gs := strings.Fields(tags)

	if len(fs) != len(cs) || len(gs) != len(cs) {
		return nil, fmt.Errorf("legacy lists differ in length: %d concept folders, %d flashcard folders, %d tags",
			len(cs), len(fs), len(gs))
	}
	if len(ts) != 0 && len(ts) != len(cs) {
		return nil, fmt.Errorf("legacy lists differ in length: %d concept folders, %d templates", len(cs), len(ts))
	}

	out := make([]Mapping, len(cs))
	for i := range cs {
		out[i] = Mapping{ConceptFolder: cs[i], FlashcardFolder: fs[i], TagPrefix: gs[i]}
		if len(ts) > 0 {
			out[i].TemplatePath = ts[i]
		}
	}
	return out, nil
}

// cleanFolder normalises a configured folder: forward slashes, no trailing
// slash, no leading "./".
func cleanFolder(p string) string {
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "/")
}
