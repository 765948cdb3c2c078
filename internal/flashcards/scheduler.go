package flashcards

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/sse"
)

// Timer is the part of *time.Timer used for delayed moves.
type Timer interface {
	Stop() bool
}

// AfterFunc runs f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// pendingMove is a flashcard waiting to follow its renamed concept.
type pendingMove struct {
	from  string
	to    string
	timer Timer
}

// schedule moves the flashcard at from to to after the rename delay. A
// move already pending for the same flashcard is superseded, so a quick
// second rename moves the original file straight to the latest name.
// Callers hold s.mu.
func (s *Service) schedule(from, to string) {
	s.cancelFrom(from)
	mv := &pendingMove{from: from, to: to}
	mv.timer = s.afterFunc(s.renameDelay, func() { s.runMove(mv) })
	s.pending[to] = mv
	s.logger.Debug("flashcards: move scheduled",
		slog.String("from", from), slog.String("to", to),
		slog.Duration("delay", s.renameDelay))
}

// cancelFrom drops any pending move of the flashcard at from.
// Callers hold s.mu.
func (s *Service) cancelFrom(from string) {
	for key, mv := range s.pending {
		if mv.from == from {
			mv.timer.Stop()
			delete(s.pending, key)
			s.logger.Debug("flashcards: move superseded",
				slog.String("from", mv.from), slog.String("to", mv.to))
		}
	}
}

// runMove performs a scheduled move unless it was cancelled meanwhile.
func (s *Service) runMove(mv *pendingMove) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[mv.to] != mv {
		return
	}
	delete(s.pending, mv.to)

	ctx := context.Background()
	if err := s.store.Move(mv.from, mv.to); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			s.warn(ctx, mv.to, "Could not rename flashcard %s: %s already exists", mv.from, mv.to)
			return
		}
		s.logger.Error("flashcards: move failed",
			slog.String("from", mv.from), slog.String("to", mv.to),
			slog.String("error", err.Error()))
		s.warn(ctx, mv.from, "Could not rename flashcard %s to %s", mv.from, mv.to)
		return
	}
	s.logger.Info("flashcards: moved", slog.String("from", mv.from), slog.String("to", mv.to))
	s.publish(sse.TypeFlashcardMoved, map[string]string{"from": mv.from, "to": mv.to})
}

// PendingMoves returns the number of scheduled flashcard moves.
func (s *Service) PendingMoves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels every pending move.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, mv := range s.pending {
		mv.timer.Stop()
		delete(s.pending, key)
		s.logger.Warn("flashcards: pending move cancelled",
			slog.String("from", mv.from), slog.String("to", mv.to))
	}
}
