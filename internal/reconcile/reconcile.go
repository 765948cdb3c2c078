// Package reconcile brings a flashcard's frontmatter in line with its
// concept: the depth tag of the concept's tag family and the back-reference
// to the concept. Every fix reads the note, diffs, and writes only when
// something changed, so repeated runs are no-ops.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/frontmatter"
	"github.com/starford/flashsync/internal/index"
	"github.com/starford/flashsync/internal/storage"
)

// Frontmatter keys owned by the reconciler.
const (
	TagsKey          = "tags"
	BackReferenceKey = "flashcard-for"
)

// DepthSource computes concept depths.
type DepthSource interface {
	Depth(ctx context.Context, path string) (int, error)
}

// Reconciler rewrites flashcard frontmatter.
type Reconciler struct {
	store      storage.Provider
	depth      DepthSource
	classifier *concept.Classifier
	links      index.LinkCache
	format     LinkFormat
	logger     *slog.Logger
}

// New creates a Reconciler. An empty format means FormatWikilink.
func New(store storage.Provider, depth DepthSource, classifier *concept.Classifier, links index.LinkCache, format LinkFormat, logger *slog.Logger) *Reconciler {
	if format == "" {
		format = FormatWikilink
	}
	return &Reconciler{
		store:      store,
		depth:      depth,
		classifier: classifier,
		links:      links,
		format:     format,
		logger:     logger,
	}
}

// Outcome summarises one reconciliation.
type Outcome struct {
	Depth                int  `json:"depth"`
	TagsUpdated          bool `json:"tags_updated"`
	BackReferenceUpdated bool `json:"back_reference_updated"`
}

// Changed reports whether anything was written.
func (o Outcome) Changed() bool {
	return o.TagsUpdated || o.BackReferenceUpdated
}

// Reconcile fixes the depth tag, then the back-reference. The tag write is
// complete before the back-reference is read.
func (r *Reconciler) Reconcile(ctx context.Context, flashcardPath, conceptPath string) (Outcome, error) {
	var out Outcome
	d, changed, err := r.fixTags(ctx, flashcardPath, conceptPath)
	if err != nil {
		return out, err
	}
	out.Depth, out.TagsUpdated = d, changed

	if out.BackReferenceUpdated, err = r.FixBackReference(ctx, flashcardPath, conceptPath); err != nil {
		return out, err
	}
	if out.Changed() {
		r.logger.Info("reconcile: flashcard updated",
			slog.String("flashcard", flashcardPath),
			slog.String("concept", conceptPath),
			slog.Int("depth", out.Depth),
			slog.Bool("tags", out.TagsUpdated),
			slog.Bool("back_reference", out.BackReferenceUpdated))
	}
	return out, nil
}

// FixTags normalises the first tag of the concept's family to
// "<family>/<depth>", appending one when no tag matches. Other tags and
// header fields are left untouched. A depth failure aborts before any write.
func (r *Reconciler) FixTags(ctx context.Context, flashcardPath, conceptPath string) (bool, error) {
	_, changed, err := r.fixTags(ctx, flashcardPath, conceptPath)
	return changed, err
}

func (r *Reconciler) fixTags(ctx context.Context, flashcardPath, conceptPath string) (int, bool, error) {
	family, err := r.classifier.TagFamily(conceptPath)
	if err != nil {
		return 0, false, err
	}
	d, err := r.depth.Depth(ctx, conceptPath)
	if err != nil {
		return 0, false, err
	}
	want := family + "/" + strconv.Itoa(d)

	changed := false
	err = r.store.Process(flashcardPath, func(current []byte) ([]byte, error) {
		h, body, err := frontmatter.Parse(current)
		if err != nil {
			return nil, fmt.Errorf("reconcile: %s: %w", flashcardPath, err)
		}
		if !setDepthTag(h, family, want) {
			return current, nil
		}
		changed = true
		text, err := frontmatter.Stringify(body, h)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	})
	if err != nil {
		return d, false, fmt.Errorf("reconcile: fix tags: %w", err)
	}
	return d, changed, nil
}

// setDepthTag applies the tag rule to h and reports whether it changed.
func setDepthTag(h *frontmatter.Header, family, want string) bool {
	seq := h.Sequence(TagsKey)
	for _, item := range seq.Content {
		if item.Kind != yaml.ScalarNode || !strings.HasPrefix(item.Value, family) {
			continue
		}
		if item.Value == want {
			return h.Modified()
		}
		item.Value = want
		item.Tag = "!!str"
		h.Touch()
		return true
	}
	seq.Content = append(seq.Content, &yaml.Node{
		Kind:  yaml.ScalarNode,
		Tag:   "!!str",
		Value: want,
		Style: itemStyle(seq),
	})
	h.Touch()
	return true
}

// itemStyle copies the quoting of the existing items so an appended tag
// looks like its neighbours.
func itemStyle(seq *yaml.Node) yaml.Style {
	for _, item := range seq.Content {
		if item.Kind == yaml.ScalarNode {
			return item.Style &^ (yaml.FlowStyle | yaml.TaggedStyle)
		}
	}
	return 0
}

// FixBackReference sets the flashcard's back-reference to the concept's
// canonical link text when it differs.
func (r *Reconciler) FixBackReference(ctx context.Context, flashcardPath, conceptPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	link, err := r.LinkText(conceptPath, flashcardPath)
	if err != nil {
		return false, err
	}

	changed := false
	err = r.store.Process(flashcardPath, func(current []byte) ([]byte, error) {
		h, body, err := frontmatter.Parse(current)
		if err != nil {
			return nil, fmt.Errorf("reconcile: %s: %w", flashcardPath, err)
		}
		if !h.SetString(BackReferenceKey, link, yaml.DoubleQuotedStyle) {
			return current, nil
		}
		changed = true
		text, err := frontmatter.Stringify(body, h)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	})
	if err != nil {
		return false, fmt.Errorf("reconcile: fix back-reference: %w", err)
	}
	return changed, nil
}
