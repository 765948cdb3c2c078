package flashcards

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/depth"
	"github.com/starford/flashsync/internal/frontmatter"
	"github.com/starford/flashsync/internal/index"
	"github.com/starford/flashsync/internal/notice"
	"github.com/starford/flashsync/internal/reconcile"
	"github.com/starford/flashsync/internal/sse"
	"github.com/starford/flashsync/internal/storage"
	"github.com/starford/flashsync/internal/testutil"
)

const (
	conceptDir = "physics/concepts"
	cardDir    = "physics/cards"
	template   = "templates/card.md"

	gravity     = conceptDir + "/Gravity.md"
	orbits      = conceptDir + "/Orbits.md"
	gravityCard = cardDir + "/F Gravity.md"
	orbitsCard  = cardDir + "/F Orbits.md"
)

// fakeClock records delayed moves and fires them on demand.
type fakeClock struct {
	timers []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Fire runs every timer that is neither stopped nor fired.
func (c *fakeClock) Fire() {
	for _, t := range append([]*fakeTimer(nil), c.timers...) {
		if t.stopped || t.fired {
			continue
		}
		t.fired = true
		t.f()
	}
}

type pubRecorder struct {
	mu     sync.Mutex
	events []sse.Event
}

func (p *pubRecorder) Publish(e sse.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *pubRecorder) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type env struct {
	store   storage.Provider
	db      *index.DB
	svc     *Service
	clock   *fakeClock
	notices *notice.Recorder
	pub     *pubRecorder
}

func newEnv(t *testing.T, mappings ...concept.Mapping) *env {
	t.Helper()
	_, store := testutil.TestVault(t)
	db := testutil.TestDB(t)
	if len(mappings) == 0 {
		mappings = []concept.Mapping{{
			ConceptFolder:   conceptDir,
			FlashcardFolder: cardDir,
			TemplatePath:    template,
			TagPrefix:       "#flashcard/physics",
		}}
	}
	logger := testutil.QuietLogger()
	cls := concept.NewClassifier(mappings)
	calc := depth.New(db, store.Stat)
	rec := reconcile.New(store, calc, cls, db, reconcile.FormatWikilink, logger)

	e := &env{store: store, db: db, clock: &fakeClock{}, notices: &notice.Recorder{}, pub: &pubRecorder{}}
	e.svc = NewService(store, cls, rec, calc, e.notices, logger,
		WithAfterFunc(e.clock.AfterFunc), WithPublisher(e.pub))
	t.Cleanup(e.svc.Close)
	return e
}

func (e *env) write(t *testing.T, p, content string) {
	t.Helper()
	testutil.WriteNote(t, e.store, e.db, p, content)
}

func (e *env) read(t *testing.T, p string) string {
	t.Helper()
	return testutil.ReadNote(t, e.store, p)
}

func (e *env) exists(t *testing.T, p string) bool {
	t.Helper()
	return testutil.Exists(t, e.store, p)
}

func (e *env) noticeMessages() []string {
	var out []string
	for _, n := range e.notices.Notices() {
		out = append(out, n.Message)
	}
	return out
}

func header(t *testing.T, content string) (tags []string, backRef string) {
	t.Helper()
	h, _, err := frontmatter.Parse([]byte(content))
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := h.Lookup(reconcile.TagsKey); ok {
		for _, item := range n.Content {
			tags = append(tags, item.Value)
		}
	}
	backRef, _ = h.String(reconcile.BackReferenceKey)
	return tags, backRef
}

func TestHandleChanged_ReconcilesLeaf(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "Gravity pulls.\n")
	e.write(t, gravityCard, "---\ntags:\n  - \"#other\"\n---\nWhat is gravity?\n")

	if err := e.svc.HandleChanged(context.Background(), gravity); err != nil {
		t.Fatal(err)
	}
	tags, ref := header(t, e.read(t, gravityCard))
	if want := []string{"#other", "#flashcard/physics/1"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
	if ref != "[[Gravity]]" {
		t.Errorf("flashcard-for = %q", ref)
	}
	if got := e.pub.types(); len(got) != 1 || got[0] != sse.TypeFlashcardUpdated {
		t.Errorf("published = %v", got)
	}
}

func TestHandleChanged_DepthFollowsLinks(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "Gravity pulls.\n")
	e.write(t, orbits, "Orbits depend on [[Gravity]] and [[Nowhere]].\n")
	e.write(t, orbitsCard, "---\ntags:\n  - \"#flashcard/physics/1\"\nflashcard-for: \"[[Orbits]]\"\n---\nQ\n")

	if err := e.svc.HandleChanged(context.Background(), orbits); err != nil {
		t.Fatal(err)
	}
	tags, _ := header(t, e.read(t, orbitsCard))
	if want := []string{"#flashcard/physics/2"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
}

func TestHandleChanged_MissingFlashcardNotifies(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "x")

	if err := e.svc.HandleChanged(context.Background(), gravity); err != nil {
		t.Fatal(err)
	}
	msgs := e.noticeMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Flashcard file does not exist at "+gravityCard) {
		t.Errorf("notices = %v", msgs)
	}
}

func TestHandleChanged_PlaceholderSkippedSilently(t *testing.T) {
	e := newEnv(t)
	for _, p := range []string{conceptDir + "/Untitled.md", conceptDir + "/Untitled 3.md"} {
		e.write(t, p, "")
		if err := e.svc.HandleChanged(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	if msgs := e.noticeMessages(); len(msgs) != 0 {
		t.Errorf("notices = %v, want none", msgs)
	}
}

func TestHandleChanged_ExemptSkippedSilently(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "---\nno-flashcard: true\n---\nx")
	card := "---\ntags: []\n---\n"
	e.write(t, gravityCard, card)

	if err := e.svc.HandleChanged(context.Background(), gravity); err != nil {
		t.Fatal(err)
	}
	if got := e.read(t, gravityCard); got != card {
		t.Errorf("exempt concept's flashcard changed: %q", got)
	}
	if msgs := e.noticeMessages(); len(msgs) != 0 {
		t.Errorf("notices = %v", msgs)
	}
}

func TestHandleChanged_OnlyBooleanTrueExempts(t *testing.T) {
	for _, v := range []string{`"true"`, "yes", "false", "1"} {
		t.Run(v, func(t *testing.T) {
			e := newEnv(t)
			e.write(t, gravity, "---\nno-flashcard: "+v+"\n---\nx")
			e.write(t, gravityCard, "---\ntags: []\n---\n")

			if err := e.svc.HandleChanged(context.Background(), gravity); err != nil {
				t.Fatal(err)
			}
			if tags, _ := header(t, e.read(t, gravityCard)); len(tags) != 1 {
				t.Errorf("no-flashcard: %s should not exempt; tags = %v", v, tags)
			}
		})
	}
}

func TestHandleChanged_IgnoresNonConcepts(t *testing.T) {
	e := newEnv(t)
	e.write(t, "journal/today.md", "x")
	e.write(t, gravityCard, "---\n---\n")
	for _, p := range []string{"journal/today.md", gravityCard, conceptDir + "/diagram.png"} {
		if err := e.svc.HandleChanged(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	if msgs := e.noticeMessages(); len(msgs) != 0 {
		t.Errorf("notices = %v", msgs)
	}
}

func TestHandleChanged_CycleNotifiesWithoutWrite(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "[[Orbits]]")
	e.write(t, orbits, "[[Gravity]]")
	card := "---\ntags: []\n---\n"
	e.write(t, gravityCard, card)

	if err := e.svc.HandleChanged(context.Background(), gravity); err != nil {
		t.Fatalf("cycle should be a notice, got %v", err)
	}
	if got := e.read(t, gravityCard); got != card {
		t.Errorf("flashcard written despite cycle: %q", got)
	}
	msgs := e.noticeMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "cyclic") {
		t.Errorf("notices = %v", msgs)
	}
}

func TestHandleRenamed_PlaceholderBirth(t *testing.T) {
	e := newEnv(t)
	e.write(t, template, "---\ntags:\n  - \"#card\"\n---\nQuestion?\n")
	e.write(t, gravity, "")
	e.write(t, orbits, "Orbits need [[Gravity]].\n")

	if err := e.svc.HandleRenamed(context.Background(), orbits, conceptDir+"/Untitled.md"); err != nil {
		t.Fatal(err)
	}
	got := e.read(t, orbitsCard)
	tags, ref := header(t, got)
	if want := []string{"#card", "#flashcard/physics/2"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("tags = %v, want %v", tags, want)
	}
	if ref != "[[Orbits]]" {
		t.Errorf("flashcard-for = %q", ref)
	}
	if !strings.HasSuffix(got, "---\nQuestion?\n") {
		t.Errorf("template body lost: %q", got)
	}
	if types := e.pub.types(); len(types) == 0 || types[0] != sse.TypeFlashcardCreated {
		t.Errorf("published = %v", types)
	}
	if len(e.noticeMessages()) != 0 {
		t.Errorf("notices = %v", e.noticeMessages())
	}
}

func TestHandleRenamed_NumberedPlaceholderBirth(t *testing.T) {
	e := newEnv(t)
	e.write(t, template, "Q\n")
	e.write(t, gravity, "")

	if err := e.svc.HandleRenamed(context.Background(), gravity, conceptDir+"/Untitled 2.md"); err != nil {
		t.Fatal(err)
	}
	if !e.exists(t, gravityCard) {
		t.Fatal("flashcard not created")
	}
}

func TestHandleRenamed_PlaceholderToPlaceholderIgnored(t *testing.T) {
	e := newEnv(t)
	e.write(t, template, "Q\n")
	e.write(t, conceptDir+"/Untitled 1.md", "")

	if err := e.svc.HandleRenamed(context.Background(), conceptDir+"/Untitled 1.md", conceptDir+"/Untitled.md"); err != nil {
		t.Fatal(err)
	}
	if e.exists(t, cardDir+"/F Untitled 1.md") {
		t.Error("flashcard created for a placeholder name")
	}
}

func TestHandleRenamed_BirthWithoutTemplate(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "")

	if err := e.svc.HandleRenamed(context.Background(), gravity, conceptDir+"/Untitled.md"); err != nil {
		t.Fatal(err)
	}
	msgs := e.noticeMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Could not read content for flashcard at "+gravityCard) {
		t.Errorf("notices = %v", msgs)
	}
	tags, ref := header(t, e.read(t, gravityCard))
	if !reflect.DeepEqual(tags, []string{"#flashcard/physics/1"}) || ref != "[[Gravity]]" {
		t.Errorf("tags = %v, ref = %q", tags, ref)
	}
}

func TestHandleRenamed_BirthKeepsExistingFlashcard(t *testing.T) {
	e := newEnv(t)
	e.write(t, template, "Template\n")
	e.write(t, gravity, "")
	e.write(t, gravityCard, "My own card\n")

	if err := e.svc.HandleRenamed(context.Background(), gravity, conceptDir+"/Untitled.md"); err != nil {
		t.Fatal(err)
	}
	msgs := e.noticeMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "already exists") {
		t.Errorf("notices = %v", msgs)
	}
	got := e.read(t, gravityCard)
	if !strings.HasSuffix(got, "My own card\n") || strings.Contains(got, "Template") {
		t.Errorf("existing flashcard replaced: %q", got)
	}
	if tags, _ := header(t, got); len(tags) != 1 {
		t.Errorf("existing flashcard not reconciled: %q", got)
	}
}

func TestHandleRenamed_MovesFlashcardAfterDelay(t *testing.T) {
	e := newEnv(t)
	planetary := conceptDir + "/Planetary Orbits.md"
	planetaryCard := cardDir + "/F Planetary Orbits.md"
	e.write(t, gravity, "")
	e.write(t, planetary, "See [[Gravity]].\n")
	e.write(t, orbitsCard, "---\ntags:\n  - \"#flashcard/physics/1\"\nflashcard-for: \"[[Orbits]]\"\n---\nQ\n")

	if err := e.svc.HandleRenamed(context.Background(), planetary, orbits); err != nil {
		t.Fatal(err)
	}

	// Reconciled at the old location, not yet moved.
	tags, ref := header(t, e.read(t, orbitsCard))
	if !reflect.DeepEqual(tags, []string{"#flashcard/physics/2"}) || ref != "[[Planetary Orbits]]" {
		t.Errorf("old flashcard: tags = %v, ref = %q", tags, ref)
	}
	if e.exists(t, planetaryCard) {
		t.Fatal("flashcard moved before the delay elapsed")
	}
	if e.svc.PendingMoves() != 1 || len(e.clock.timers) != 1 || e.clock.timers[0].d != DefaultRenameDelay {
		t.Fatalf("pending = %d, timers = %d", e.svc.PendingMoves(), len(e.clock.timers))
	}

	e.clock.Fire()

	if e.exists(t, orbitsCard) || !e.exists(t, planetaryCard) {
		t.Error("flashcard not moved after the delay")
	}
	if e.svc.PendingMoves() != 0 {
		t.Error("move still pending")
	}
	types := e.pub.types()
	if types[len(types)-1] != sse.TypeFlashcardMoved {
		t.Errorf("published = %v", types)
	}
}

func TestHandleRenamed_SecondRenameSupersedes(t *testing.T) {
	e := newEnv(t)
	b := conceptDir + "/B.md"
	c := conceptDir + "/C.md"
	e.write(t, b, "")
	e.write(t, c, "")
	e.write(t, cardDir+"/F A.md", "---\ntags: []\n---\n")

	if err := e.svc.HandleRenamed(context.Background(), b, conceptDir+"/A.md"); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.HandleRenamed(context.Background(), c, b); err != nil {
		t.Fatal(err)
	}
	if msgs := e.noticeMessages(); len(msgs) != 0 {
		t.Fatalf("second rename should find the pending flashcard: %v", msgs)
	}
	if e.svc.PendingMoves() != 1 || !e.clock.timers[0].stopped {
		t.Fatalf("first move not superseded: pending = %d", e.svc.PendingMoves())
	}

	e.clock.Fire()

	if !e.exists(t, cardDir+"/F C.md") || e.exists(t, cardDir+"/F A.md") || e.exists(t, cardDir+"/F B.md") {
		t.Error("flashcard should end at F C.md")
	}
	if _, ref := header(t, e.read(t, cardDir+"/F C.md")); ref != "[[C]]" {
		t.Errorf("flashcard-for = %q, want [[C]]", ref)
	}
}

func TestHandleRenamed_RenameBackCancelsMove(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "")
	e.write(t, conceptDir+"/Weight.md", "")
	e.write(t, gravityCard, "---\ntags: []\n---\n")

	if err := e.svc.HandleRenamed(context.Background(), conceptDir+"/Weight.md", gravity); err != nil {
		t.Fatal(err)
	}
	if err := e.svc.HandleRenamed(context.Background(), gravity, conceptDir+"/Weight.md"); err != nil {
		t.Fatal(err)
	}
	if e.svc.PendingMoves() != 0 {
		t.Errorf("pending = %d, want 0", e.svc.PendingMoves())
	}
	e.clock.Fire()
	if !e.exists(t, gravityCard) {
		t.Error("flashcard moved away although the concept was renamed back")
	}
}

func TestHandleRenamed_MissingFlashcardNotifies(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "")

	if err := e.svc.HandleRenamed(context.Background(), gravity, conceptDir+"/Old.md"); err != nil {
		t.Fatal(err)
	}
	msgs := e.noticeMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Could not find flashcard file to rename at "+cardDir+"/F Old.md") {
		t.Errorf("notices = %v", msgs)
	}
	if e.svc.PendingMoves() != 0 {
		t.Error("move scheduled without a flashcard")
	}
}

func TestHandleRenamed_ExemptIgnored(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "---\nno-flashcard: true\n---\n")

	if err := e.svc.HandleRenamed(context.Background(), gravity, conceptDir+"/Untitled.md"); err != nil {
		t.Fatal(err)
	}
	if e.exists(t, gravityCard) || len(e.noticeMessages()) != 0 {
		t.Error("exempt concept produced a flashcard or notice")
	}
}

func TestHandleRenamed_MoveTargetExists(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "")
	e.write(t, orbitsCard, "---\ntags: []\n---\n")
	e.write(t, gravityCard, "taken\n")

	if err := e.svc.HandleRenamed(context.Background(), gravity, orbits); err != nil {
		t.Fatal(err)
	}
	e.clock.Fire()

	msgs := e.noticeMessages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "already exists") {
		t.Errorf("notices = %v", msgs)
	}
	if e.read(t, gravityCard) != "taken\n" {
		t.Error("existing flashcard overwritten by move")
	}
}

func TestClose_CancelsPendingMoves(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "")
	e.write(t, orbitsCard, "---\ntags: []\n---\n")

	if err := e.svc.HandleRenamed(context.Background(), gravity, orbits); err != nil {
		t.Fatal(err)
	}
	e.svc.Close()
	if e.svc.PendingMoves() != 0 || !e.clock.timers[0].stopped {
		t.Error("Close left a pending move")
	}
	e.clock.Fire()
	if !e.exists(t, orbitsCard) {
		t.Error("cancelled move ran")
	}
}

func TestHandleChanged_FindsPendingFlashcard(t *testing.T) {
	e := newEnv(t)
	e.write(t, gravity, "")
	e.write(t, orbitsCard, "---\ntags: []\n---\n")

	if err := e.svc.HandleRenamed(context.Background(), gravity, orbits); err != nil {
		t.Fatal(err)
	}
	e.write(t, gravity, "Now links [[Mass]].\n")
	e.write(t, conceptDir+"/Mass.md", "")
	if err := e.svc.HandleChanged(context.Background(), gravity); err != nil {
		t.Fatal(err)
	}
	if msgs := e.noticeMessages(); len(msgs) != 0 {
		t.Errorf("notices = %v", msgs)
	}
	if tags, _ := header(t, e.read(t, orbitsCard)); !reflect.DeepEqual(tags, []string{"#flashcard/physics/2"}) {
		t.Errorf("tags = %v", tags)
	}
}

func TestHandleEvent_Dispatch(t *testing.T) {
	e := newEnv(t)
	e.write(t, template, "Q\n")
	e.write(t, gravity, "")

	ctx := context.Background()
	if err := e.svc.HandleEvent(ctx, index.Event{Kind: index.EventRenamed, Path: gravity, OldPath: conceptDir + "/Untitled.md"}); err != nil {
		t.Fatal(err)
	}
	if !e.exists(t, gravityCard) {
		t.Fatal("renamed event did not create the flashcard")
	}
	if err := e.svc.HandleEvent(ctx, index.Event{Kind: index.EventDeleted, Path: gravity}); err != nil {
		t.Fatal(err)
	}
	if !e.exists(t, gravityCard) {
		t.Error("delete event removed the flashcard")
	}
}
