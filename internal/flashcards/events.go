package flashcards

import (
	"context"
	"log/slog"

	"github.com/starford/flashsync/internal/index"
)

// HandleEvent dispatches a watcher event. Deleted notes are logged only;
// their flashcards are left in place.
func (s *Service) HandleEvent(ctx context.Context, ev index.Event) error {
	switch ev.Kind {
	case index.EventCreated, index.EventUpdated:
		return s.HandleChanged(ctx, ev.Path)
	case index.EventRenamed:
		return s.HandleRenamed(ctx, ev.Path, ev.OldPath)
	case index.EventDeleted:
		if s.classifier.IsConcept(ev.Path) {
			s.logger.Debug("flashcards: concept deleted", slog.String("path", ev.Path))
		}
	}
	return nil
}
