// Package flashcards reacts to concept note events: it creates a flashcard
// when a placeholder note gets its real name, keeps flashcards reconciled on
// every change, and moves them along when their concept is renamed.
package flashcards

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/frontmatter"
	"github.com/starford/flashsync/internal/models"
	"github.com/starford/flashsync/internal/notice"
	"github.com/starford/flashsync/internal/parser"
	"github.com/starford/flashsync/internal/reconcile"
	"github.com/starford/flashsync/internal/sse"
	"github.com/starford/flashsync/internal/storage"
)

// DefaultRenameDelay lets the link cache settle before a flashcard is moved.
const DefaultRenameDelay = 200 * time.Millisecond

// Depther computes concept depths.
type Depther interface {
	Depth(ctx context.Context, path string) (int, error)
}

// Publisher receives flashcard lifecycle events.
type Publisher interface {
	Publish(event sse.Event)
}

// Service is the event orchestrator. Handlers and delayed moves run one at
// a time under mu.
type Service struct {
	mu sync.Mutex

	store      storage.Provider
	classifier *concept.Classifier
	rec        *reconcile.Reconciler
	depth      Depther
	notifier   notice.Notifier
	pub        Publisher
	logger     *slog.Logger

	renameDelay  time.Duration
	afterFunc    AfterFunc
	pending      map[string]*pendingMove // keyed by destination flashcard path
	settingsPath string
}

// Option configures a Service.
type Option func(*Service)

// WithRenameDelay sets how long a flashcard move waits after its concept
// was renamed.
func WithRenameDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.renameDelay = d
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for delayed moves.
func WithAfterFunc(f AfterFunc) Option {
	return func(s *Service) { s.afterFunc = f }
}

// WithPublisher sends flashcard events to pub.
func WithPublisher(pub Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

// NewService creates the orchestrator.
func NewService(store storage.Provider, classifier *concept.Classifier, rec *reconcile.Reconciler, depth Depther, notifier notice.Notifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		classifier:  classifier,
		rec:         rec,
		depth:       depth,
		notifier:    notifier,
		logger:      logger,
		renameDelay: DefaultRenameDelay,
		afterFunc:   realAfterFunc,
		pending:     make(map[string]*pendingMove),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HandleChanged reconciles the flashcard of a changed concept note.
// Notes outside the concept folders and exempt notes are ignored.
func (s *Service) HandleChanged(ctx context.Context, conceptPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.classifier.IsConcept(conceptPath) || !models.IsNotePath(conceptPath) {
		return nil
	}
	exempt, err := s.isExempt(conceptPath)
	if err != nil || exempt {
		return err
	}

	cardPath, err := s.classifier.FlashcardPath(conceptPath)
	if err != nil {
		s.warn(ctx, conceptPath, "%v", err)
		return nil
	}
	current, ok, err := s.locate(cardPath)
	if err != nil {
		return err
	}
	if !ok {
		if s.classifier.IsPlaceholder(conceptPath) {
			return nil
		}
		s.warn(ctx, conceptPath, "Flashcard file does not exist at %s", cardPath)
		return nil
	}
	_, err = s.reconcile(ctx, current, conceptPath)
	return err
}

// HandleRenamed handles a concept note that moved from oldPath to newPath.
// A rename away from a placeholder name creates the flashcard; any other
// rename reconciles the existing flashcard and schedules its move.
func (s *Service) HandleRenamed(ctx context.Context, newPath, oldPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.classifier.IsConcept(newPath) || !models.IsNotePath(newPath) {
		s.logger.Debug("flashcards: rename outside concept folders", slog.String("path", newPath))
		return nil
	}
	exempt, err := s.isExempt(newPath)
	if err != nil || exempt {
		return err
	}

	if s.classifier.IsPlaceholder(oldPath) {
		if s.classifier.IsPlaceholder(newPath) {
			return nil
		}
		return s.birth(ctx, newPath)
	}
	return s.follow(ctx, newPath, oldPath)
}

// birth creates the flashcard of a freshly named concept from its template.
func (s *Service) birth(ctx context.Context, conceptPath string) error {
	m, err := s.classifier.MappingFor(conceptPath)
	if err != nil {
		s.warn(ctx, conceptPath, "%v", err)
		return nil
	}
	cardPath, err := s.classifier.FlashcardPath(conceptPath)
	if err != nil {
		s.warn(ctx, conceptPath, "%v", err)
		return nil
	}

	var content []byte
	if m.TemplatePath != "" {
		content, err = s.store.Read(m.TemplatePath)
	}
	if m.TemplatePath == "" || err != nil {
		s.warn(ctx, conceptPath, "Could not read content for flashcard at %s", cardPath)
		content = nil
	}

	switch err := s.store.Create(cardPath, content); {
	case errors.Is(err, apperr.ErrAlreadyExists):
		s.warn(ctx, conceptPath, "Flashcard already exists at %s, keeping it", cardPath)
	case err != nil:
		return fmt.Errorf("flashcards: create %s: %w", cardPath, err)
	default:
		s.logger.Info("flashcards: created", slog.String("flashcard", cardPath), slog.String("concept", conceptPath))
		s.publish(sse.TypeFlashcardCreated, map[string]string{"path": cardPath, "concept": conceptPath})
	}

	_, err = s.reconcile(ctx, cardPath, conceptPath)
	return err
}

// follow reconciles the flashcard at its old location and schedules the
// move to the location derived from the new concept name.
func (s *Service) follow(ctx context.Context, newPath, oldPath string) error {
	newCard, err := s.classifier.FlashcardPath(newPath)
	if err != nil {
		s.warn(ctx, newPath, "%v", err)
		return nil
	}
	oldCard, err := s.classifier.FlashcardPath(oldPath)
	if err != nil {
		// Moved in from outside the concept folders: look next to the new card.
		oldCard = path.Join(path.Dir(newCard), s.classifier.FlashcardName(path.Base(oldPath)))
	}

	current, ok, err := s.locate(oldCard)
	if err != nil {
		return err
	}
	if !ok {
		s.warn(ctx, newPath, "Could not find flashcard file to rename at %s", oldCard)
		return nil
	}

	if _, err := s.reconcile(ctx, current, newPath); err != nil {
		return err
	}
	if current == newCard {
		// Renamed back before the move ran.
		s.cancelFrom(current)
		return nil
	}
	s.schedule(current, newCard)
	return nil
}

// reconcile runs the reconciler and turns graph and configuration
// failures into notices. Store failures are returned.
func (s *Service) reconcile(ctx context.Context, cardPath, conceptPath string) (reconcile.Outcome, error) {
	out, err := s.rec.Reconcile(ctx, cardPath, conceptPath)
	if err == nil {
		s.publishUpdated(cardPath, conceptPath, out)
		return out, nil
	}
	if isSoft(err) {
		s.warn(ctx, conceptPath, "Could not reconcile %s: %v", cardPath, err)
		return out, nil
	}
	return out, err
}

// publishUpdated announces a flashcard the reconciler rewrote.
func (s *Service) publishUpdated(cardPath, conceptPath string, out reconcile.Outcome) {
	if out.Changed() {
		s.publish(sse.TypeFlashcardUpdated, map[string]any{"path": cardPath, "concept": conceptPath, "depth": out.Depth})
	}
}

// isSoft reports failures that abort one note without being I/O errors.
func isSoft(err error) bool {
	return errors.Is(err, apperr.ErrNotConfigured) ||
		errors.Is(err, apperr.ErrInvalidInput) ||
		errors.Is(err, apperr.ErrCyclicGraph) ||
		errors.Is(err, apperr.ErrDepthLimit) ||
		errors.Is(err, frontmatter.ErrInvalid)
}

// isExempt reports whether the note opts out with `no-flashcard: true`.
// A note that no longer exists is treated as exempt.
func (s *Service) isExempt(conceptPath string) (bool, error) {
	data, err := s.store.Read(conceptPath)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("flashcards: read %s: %w", conceptPath, err)
	}
	res, err := parser.Parse(data)
	if err != nil {
		return false, err
	}
	return res.NoFlashcard, nil
}

// locate returns where the flashcard for cardPath currently lives. A card
// whose move is still pending is found at its source.
func (s *Service) locate(cardPath string) (string, bool, error) {
	if mv, ok := s.pending[cardPath]; ok {
		cardPath = mv.from
	}
	e, err := s.store.Stat(cardPath)
	if err != nil {
		return "", false, err
	}
	return cardPath, e.Kind == models.File, nil
}

func (s *Service) warn(ctx context.Context, p, format string, args ...any) {
	s.notifier.Notify(ctx, notice.New(notice.LevelWarn, p, format, args...))
}

func (s *Service) publish(typ string, data any) {
	if s.pub != nil {
		s.pub.Publish(sse.Event{Type: typ, Data: data})
	}
}
