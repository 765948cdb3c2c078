package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"reflect"
	"strings"
	"testing"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/frontmatter"
	"github.com/starford/flashsync/internal/models"
	"github.com/starford/flashsync/internal/storage"
)

const (
	gravity      = "physics/concepts/Gravity.md"
	orbits       = "physics/concepts/Orbits.md"
	gravityCard  = "physics/cards/F Gravity.md"
	orbitsCard   = "physics/cards/F Orbits.md"
	physicsTag   = "#flashcard/physics"
	gravityTagV1 = "#flashcard/physics/1"
)

// countingStore counts writes that actually change a note.
type countingStore struct {
	storage.Provider
	writes int
}

func (c *countingStore) Process(p string, fn storage.TransformFunc) error {
	return c.Provider.Process(p, func(cur []byte) ([]byte, error) {
		next, err := fn(cur)
		if err == nil && !bytes.Equal(cur, next) {
			c.writes++
		}
		return next, err
	})
}

type fakeDepth map[string]int

func (f fakeDepth) Depth(_ context.Context, p string) (int, error) {
	d, ok := f[p]
	if !ok {
		return 0, fmt.Errorf("depth: %s: %w", p, apperr.ErrCyclicGraph)
	}
	return d, nil
}

// fakeLinks counts basenames over a fixed set of note paths.
type fakeLinks []string

func (f fakeLinks) OutgoingLinks(string) ([]string, bool, error) { return nil, false, nil }

func (f fakeLinks) ResolveLink(link, _ string) (models.Entry, error) {
	return models.Entry{Kind: models.Missing, Path: link}, nil
}

func (f fakeLinks) BasenameCount(p string) (int, error) {
	n := 0
	for _, q := range f {
		if strings.EqualFold(path.Base(q), path.Base(p)) {
			n++
		}
	}
	return n, nil
}

type env struct {
	store *countingStore
	r     *Reconciler
}

func newEnv(t *testing.T, depths fakeDepth, format LinkFormat, notes ...string) *env {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store := &countingStore{Provider: fs}
	cls := concept.NewClassifier([]concept.Mapping{{
		ConceptFolder:   "physics/concepts",
		FlashcardFolder: "physics/cards",
		TagPrefix:       physicsTag,
	}})
	if len(notes) == 0 {
		notes = []string{gravity, orbits}
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return &env{store: store, r: New(store, depths, cls, fakeLinks(notes), format, logger)}
}

func (e *env) put(t *testing.T, p, content string) {
	t.Helper()
	if err := e.store.Provider.Write(p, []byte(content)); err != nil {
		t.Fatal(err)
	}
}

func (e *env) get(t *testing.T, p string) string {
	t.Helper()
	b, err := e.store.Read(p)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func tagsOf(t *testing.T, content string) []string {
	t.Helper()
	h, _, err := frontmatter.Parse([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, n := range h.Sequence(TagsKey).Content {
		out = append(out, n.Value)
	}
	return out
}

func TestReconcile_GravityLeaf(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 1}, "")
	e.put(t, gravityCard, "---\ntags:\n  - \"#other\"\n---\nWhat is gravity?\n")

	out, err := e.r.Reconcile(context.Background(), gravityCard, gravity)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !out.TagsUpdated || !out.BackReferenceUpdated || out.Depth != 1 {
		t.Errorf("outcome = %+v", out)
	}
	want := "---\ntags:\n  - \"#other\"\n  - \"#flashcard/physics/1\"\nflashcard-for: \"[[Gravity]]\"\n---\nWhat is gravity?\n"
	if got := e.get(t, gravityCard); got != want {
		t.Errorf("flashcard =\n%s\nwant\n%s", got, want)
	}
}

func TestReconcile_OrbitsRewritesInPlace(t *testing.T) {
	e := newEnv(t, fakeDepth{orbits: 2}, "")
	e.put(t, orbitsCard, "---\ntags: [\"#flashcard/physics/1\", \"#misc\"]\nflashcard-for: \"[[Orbits]]\"\n---\nQ\n")

	out, err := e.r.Reconcile(context.Background(), orbitsCard, orbits)
	if err != nil {
		t.Fatal(err)
	}
	if !out.TagsUpdated || out.BackReferenceUpdated {
		t.Errorf("outcome = %+v", out)
	}
	if got, want := tagsOf(t, e.get(t, orbitsCard)), []string{"#flashcard/physics/2", "#misc"}; !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 1}, "")
	e.put(t, gravityCard, "---\ntitle: Gravity\ntags: []\n---\nQ\n")

	if _, err := e.r.Reconcile(context.Background(), gravityCard, gravity); err != nil {
		t.Fatal(err)
	}
	first := e.get(t, gravityCard)
	writes := e.store.writes

	out, err := e.r.Reconcile(context.Background(), gravityCard, gravity)
	if err != nil {
		t.Fatal(err)
	}
	if out.Changed() || e.store.writes != writes {
		t.Errorf("second run wrote: outcome=%+v writes=%d->%d", out, writes, e.store.writes)
	}
	if e.get(t, gravityCard) != first {
		t.Error("second run changed content")
	}
}

func TestReconcile_AlreadyValidIsByteIdentical(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 1}, "")
	content := "---\n# keep me\ntitle:   'Gravity'   \ntags:\n    - \"#flashcard/physics/1\"\nflashcard-for: \"[[Gravity]]\"\n---\nBody\n"
	e.put(t, gravityCard, content)

	out, err := e.r.Reconcile(context.Background(), gravityCard, gravity)
	if err != nil {
		t.Fatal(err)
	}
	if out.Changed() || e.store.writes != 0 {
		t.Errorf("valid flashcard rewritten: %+v", out)
	}
	if got := e.get(t, gravityCard); got != content {
		t.Errorf("content changed:\n%s", got)
	}
}

func TestFixTags_FirstMatchOnly(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 2}, "")
	e.put(t, gravityCard, "---\ntags:\n  - \"#flashcard/physics/9\"\n  - \"#flashcard/physics/7\"\n---\n")

	changed, err := e.r.FixTags(context.Background(), gravityCard, gravity)
	if err != nil || !changed {
		t.Fatalf("FixTags = %v, %v", changed, err)
	}
	want := []string{"#flashcard/physics/2", "#flashcard/physics/7"}
	if got := tagsOf(t, e.get(t, gravityCard)); !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
}

func TestFixTags_FirstMatchValidStops(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 2}, "")
	e.put(t, gravityCard, "---\ntags:\n  - \"#flashcard/physics/2\"\n  - \"#flashcard/physics/7\"\n---\n")

	changed, err := e.r.FixTags(context.Background(), gravityCard, gravity)
	if err != nil || changed || e.store.writes != 0 {
		t.Errorf("FixTags = %v, %v (writes %d)", changed, err, e.store.writes)
	}
}

func TestFixTags_CreatesOrConvertsTags(t *testing.T) {
	cases := []struct {
		name, content string
		want          []string
	}{
		{"no header", "Question\n", []string{gravityTagV1}},
		{"no tags key", "---\ntitle: x\n---\nQ\n", []string{gravityTagV1}},
		{"null tags", "---\ntags:\n---\nQ\n", []string{gravityTagV1}},
		{"scalar tags", "---\ntags: \"#a, #b\"\n---\nQ\n", []string{"#a", "#b", gravityTagV1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, fakeDepth{gravity: 1}, "")
			e.put(t, gravityCard, tc.content)
			changed, err := e.r.FixTags(context.Background(), gravityCard, gravity)
			if err != nil || !changed {
				t.Fatalf("FixTags = %v, %v", changed, err)
			}
			got := e.get(t, gravityCard)
			if tags := tagsOf(t, got); !reflect.DeepEqual(tags, tc.want) {
				t.Errorf("tags = %v, want %v", tags, tc.want)
			}
			if !strings.HasSuffix(got, "Q\n") && !strings.HasSuffix(got, "Question\n") {
				t.Errorf("body lost: %q", got)
			}
		})
	}
}

func TestReconcile_PreservesUnrelatedFields(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 3}, "")
	e.put(t, gravityCard, "---\ntitle: Gravity card # inline\naliases:\n- grav\nsummary: >\n    folded text\ntags:\n  - \"#flashcard/physics/1\"\n  - other\ndue: 2024-01-02\n---\nBody\n")

	if _, err := e.r.Reconcile(context.Background(), gravityCard, gravity); err != nil {
		t.Fatal(err)
	}
	want := "---\ntitle: Gravity card # inline\naliases:\n- grav\nsummary: >\n    folded text\n" +
		"tags:\n  - \"#flashcard/physics/3\"\n  - other\ndue: 2024-01-02\nflashcard-for: \"[[Gravity]]\"\n---\nBody\n"
	if got := e.get(t, gravityCard); got != want {
		t.Errorf("flashcard =\n%q\nwant\n%q", got, want)
	}
}

func TestReconcile_DepthErrorWritesNothing(t *testing.T) {
	e := newEnv(t, fakeDepth{}, "")
	content := "---\ntags: []\n---\nQ\n"
	e.put(t, gravityCard, content)

	_, err := e.r.Reconcile(context.Background(), gravityCard, gravity)
	if !errors.Is(err, apperr.ErrCyclicGraph) {
		t.Fatalf("err = %v, want ErrCyclicGraph", err)
	}
	if e.store.writes != 0 || e.get(t, gravityCard) != content {
		t.Error("flashcard written despite depth failure")
	}
}

func TestReconcile_InvalidHeaderWritesNothing(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 1}, "")
	content := "---\ntags: [unclosed\n---\nQ\n"
	e.put(t, gravityCard, content)

	_, err := e.r.Reconcile(context.Background(), gravityCard, gravity)
	if !errors.Is(err, frontmatter.ErrInvalid) {
		t.Fatalf("err = %v, want frontmatter.ErrInvalid", err)
	}
	if e.get(t, gravityCard) != content {
		t.Error("flashcard with invalid header was rewritten")
	}
}

func TestReconcile_NotConfigured(t *testing.T) {
	e := newEnv(t, fakeDepth{"elsewhere/X.md": 1}, "")
	e.put(t, gravityCard, "---\n---\n")
	_, err := e.r.Reconcile(context.Background(), gravityCard, "elsewhere/X.md")
	if !errors.Is(err, apperr.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestReconcile_MissingFlashcard(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 1}, "")
	if _, err := e.r.Reconcile(context.Background(), gravityCard, gravity); err == nil {
		t.Error("expected error for missing flashcard")
	}
}

func TestFixBackReference_KeepsQuoting(t *testing.T) {
	e := newEnv(t, fakeDepth{gravity: 1}, "")
	e.put(t, gravityCard, "---\nflashcard-for: '[[Old]]'\n---\n")

	changed, err := e.r.FixBackReference(context.Background(), gravityCard, gravity)
	if err != nil || !changed {
		t.Fatalf("FixBackReference = %v, %v", changed, err)
	}
	if got := e.get(t, gravityCard); got != "---\nflashcard-for: '[[Gravity]]'\n---\n" {
		t.Errorf("flashcard = %q", got)
	}
}

func TestLinkText(t *testing.T) {
	cases := []struct {
		name    string
		format  LinkFormat
		notes   []string
		concept string
		card    string
		want    string
	}{
		{"unique wikilink", FormatWikilink, []string{gravity}, gravity, gravityCard, "[[Gravity]]"},
		{"ambiguous wikilink", FormatWikilink, []string{gravity, "chem/Gravity.md"}, gravity, gravityCard, "[[physics/concepts/Gravity]]"},
		{"markdown", FormatMarkdown, nil, "physics/concepts/Planetary Orbits.md", "physics/cards/F Planetary Orbits.md", "[Planetary Orbits](../concepts/Planetary%20Orbits.md)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, fakeDepth{}, tc.format, tc.notes...)
			got, err := e.r.LinkText(tc.concept, tc.card)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("LinkText = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseLinkFormat(t *testing.T) {
	for in, want := range map[string]LinkFormat{"": FormatWikilink, "Wikilink": FormatWikilink, "markdown": FormatMarkdown} {
		got, err := ParseLinkFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseLinkFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLinkFormat("html"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
