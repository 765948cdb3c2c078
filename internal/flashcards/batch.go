package flashcards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/models"
	"github.com/starford/flashsync/internal/notice"
	"github.com/starford/flashsync/internal/reconcile"
)

// Report summarises a ReconcileAll run.
type Report struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

// ReconcileAll reconciles the flashcard of every direct child note of every
// concept folder. Problems with one folder or note are reported as notices
// and never stop the run; only context cancellation does.
func (s *Service) ReconcileAll(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rep Report
	for _, m := range s.classifier.Mappings() {
		folder, err := s.store.Stat(m.ConceptFolder)
		if err != nil {
			s.warn(ctx, m.ConceptFolder, "Could not find concept folder at %s", m.ConceptFolder)
			continue
		}
		switch folder.Kind {
		case models.Missing:
			s.warn(ctx, m.ConceptFolder, "Could not find concept folder at %s", m.ConceptFolder)
			continue
		case models.File:
			s.warn(ctx, m.ConceptFolder, "Concepts path is not a folder: %s", m.ConceptFolder)
			continue
		}

		children, err := s.store.Children(folder.Path)
		if err != nil {
			s.warn(ctx, m.ConceptFolder, "Could not list concept folder %s", m.ConceptFolder)
			continue
		}
		for _, child := range children {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			if !child.IsNote() {
				continue
			}
			s.reconcileOne(ctx, child.Path, &rep)
		}
	}

	s.logger.Info("flashcards: reconcile all done",
		slog.Int("checked", rep.Checked),
		slog.Int("updated", rep.Updated),
		slog.Int("skipped", rep.Skipped),
		slog.Int("missing", rep.Missing),
		slog.Int("failed", rep.Failed))
	s.notifier.Notify(ctx, notice.New(notice.LevelInfo, "",
		"Checked %d flashcards: %d updated, %d missing, %d failed", rep.Checked, rep.Updated, rep.Missing, rep.Failed))
	return rep, nil
}

func (s *Service) reconcileOne(ctx context.Context, conceptPath string, rep *Report) {
	exempt, err := s.isExempt(conceptPath)
	if err != nil {
		rep.Failed++
		s.warn(ctx, conceptPath, "Could not read %s", conceptPath)
		return
	}
	if exempt {
		rep.Skipped++
		return
	}
	cardPath, err := s.classifier.FlashcardPath(conceptPath)
	if err != nil {
		rep.Failed++
		s.warn(ctx, conceptPath, "%v", err)
		return
	}
	current, ok, err := s.locate(cardPath)
	if err != nil {
		rep.Failed++
		s.warn(ctx, conceptPath, "Could not stat %s", cardPath)
		return
	}
	if !ok {
		rep.Missing++
		s.warn(ctx, conceptPath, "Could not find flashcard file at %s", cardPath)
		return
	}

	out, err := s.rec.Reconcile(ctx, current, conceptPath)
	if err != nil {
		rep.Failed++
		s.warn(ctx, conceptPath, "Could not reconcile %s: %v", current, err)
		return
	}
	rep.Checked++
	if out.Changed() {
		rep.Updated++
	}
	s.publishUpdated(current, conceptPath, out)
}

// ReconcileConcept reconciles one concept on demand. Unlike the event
// handlers it reports every problem as an error.
func (s *Service) ReconcileConcept(ctx context.Context, conceptPath string) (reconcile.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cardPath, err := s.classifier.FlashcardPath(conceptPath)
	if err != nil {
		return reconcile.Outcome{}, err
	}
	e, err := s.store.Stat(conceptPath)
	if err != nil {
		return reconcile.Outcome{}, err
	}
	if !e.IsNote() {
		return reconcile.Outcome{}, fmt.Errorf("flashcards: concept %s: %w", conceptPath, apperr.ErrNotFound)
	}
	exempt, err := s.isExempt(conceptPath)
	if err != nil {
		return reconcile.Outcome{}, err
	}
	if exempt {
		return reconcile.Outcome{}, fmt.Errorf("flashcards: %s is marked no-flashcard: %w", conceptPath, apperr.ErrInvalidInput)
	}
	current, ok, err := s.locate(cardPath)
	if err != nil {
		return reconcile.Outcome{}, err
	}
	if !ok {
		return reconcile.Outcome{}, fmt.Errorf("flashcards: flashcard %s: %w", cardPath, apperr.ErrNotFound)
	}
	out, err := s.rec.Reconcile(ctx, current, conceptPath)
	if err != nil {
		return out, err
	}
	s.publishUpdated(current, conceptPath, out)
	return out, nil
}

// ConceptInfo describes one concept note and its flashcard.
type ConceptInfo struct {
	Path            string `json:"path"`
	Flashcard       string `json:"flashcard"`
	FlashcardExists bool   `json:"flashcard_exists"`
	Depth           int    `json:"depth,omitempty"`
	Exempt          bool   `json:"exempt"`
	Error           string `json:"error,omitempty"`
}

// ListConcepts returns every direct child note of the concept folders with
// its depth. Depth failures are reported per concept.
func (s *Service) ListConcepts(ctx context.Context) ([]ConceptInfo, error) {
	var out []ConceptInfo
	for _, m := range s.classifier.Mappings() {
		folder, err := s.store.Stat(m.ConceptFolder)
		if err != nil {
			return nil, err
		}
		if folder.Kind != models.Folder {
			continue
		}
		children, err := s.store.Children(folder.Path)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if !child.IsNote() {
				continue
			}
			info, err := s.describe(ctx, child.Path)
			if err != nil {
				return nil, err
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *Service) describe(ctx context.Context, conceptPath string) (ConceptInfo, error) {
	info := ConceptInfo{Path: conceptPath}
	cardPath, err := s.classifier.FlashcardPath(conceptPath)
	if err != nil {
		return info, err
	}
	info.Flashcard = cardPath

	s.mu.Lock()
	current, ok, err := s.locate(cardPath)
	s.mu.Unlock()
	if err != nil {
		return info, err
	}
	info.Flashcard, info.FlashcardExists = current, ok

	if info.Exempt, err = s.isExempt(conceptPath); err != nil {
		return info, err
	}
	d, err := s.depth.Depth(ctx, conceptPath)
	if err != nil {
		if ctx.Err() != nil {
			return info, ctx.Err()
		}
		info.Error = err.Error()
		return info, nil
	}
	info.Depth = d
	return info, nil
}

// Depth returns the depth of a note. A path with nothing on it fails with
// apperr.ErrNotFound.
func (s *Service) Depth(ctx context.Context, notePath string) (int, error) {
	e, err := s.store.Stat(notePath)
	if err != nil {
		return 0, err
	}
	if e.Kind == models.Missing {
		return 0, fmt.Errorf("flashcards: depth %s: %w", notePath, apperr.ErrNotFound)
	}
	return s.depth.Depth(ctx, notePath)
}
