package flashcards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/flashsync/internal/apperr"
	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/pkg/config"
)

// Settings is the user-editable part of the configuration, persisted apart
// from the main config file.
type Settings struct {
	Mappings []concept.Mapping `yaml:"mappings" json:"mappings"`
}

// Validate validates the settings.
func (s *Settings) Validate() error {
	return concept.ValidateMappings(s.Mappings)
}

// WithSettingsPath persists settings changes to path.
func WithSettingsPath(path string) Option {
	return func(s *Service) { s.settingsPath = path }
}

// LoadSettings reads a settings file.
func LoadSettings(path string) (Settings, error) {
	var st Settings
	if err := config.Load(path, &st); err != nil {
		return Settings{}, fmt.Errorf("flashcards: load settings: %w", err)
	}
	return st, nil
}

// Settings returns the active settings.
func (s *Service) Settings() Settings {
	return Settings{Mappings: s.classifier.Mappings()}
}

// UpdateSettings validates st, saves it when a settings path is configured
// and makes it active. Invalid settings fail with apperr.ErrInvalidInput and
// leave the active ones untouched.
func (s *Service) UpdateSettings(ctx context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := st.Validate(); err != nil {
		return fmt.Errorf("flashcards: settings: %w: %w", apperr.ErrInvalidInput, err)
	}
	if s.settingsPath != "" {
		if err := config.Save(s.settingsPath, &st); err != nil {
			return fmt.Errorf("flashcards: save settings: %w", err)
		}
	}
	if err := s.classifier.SetMappings(st.Mappings); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "flashcards: settings updated",
		slog.Int("mappings", len(st.Mappings)),
		slog.String("path", s.settingsPath))
	return nil
}
