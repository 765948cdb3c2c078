package internal

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/starford/flashsync/internal/concept"
	"github.com/starford/flashsync/internal/depth"
	"github.com/starford/flashsync/internal/flashcards"
	"github.com/starford/flashsync/internal/index"
	"github.com/starford/flashsync/internal/notice"
	"github.com/starford/flashsync/internal/reconcile"
	"github.com/starford/flashsync/internal/storage"
)

// components are the long-lived parts shared by every command.
type components struct {
	store storage.Provider
	db    *index.DB
	svc   *flashcards.Service
}

func (c *components) Close() {
	c.svc.Close()
	if err := c.db.Close(); err != nil {
		slog.Warn("close index failed", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger initializes the structured JSON logger and makes it the default.
func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// mappings returns the saved settings when the settings file exists and the
// configured mappings otherwise.
func (a *application) mappings(logger *slog.Logger) ([]concept.Mapping, error) {
	fc := a.config.Flashcards
	if fc.SettingsPath != "" {
		_, err := os.Stat(fc.SettingsPath)
		switch {
		case err == nil:
			st, err := flashcards.LoadSettings(fc.SettingsPath)
			if err != nil {
				return nil, err
			}
			logger.Info("Settings loaded",
				slog.String("settings_path", fc.SettingsPath),
				slog.Int("mappings", len(st.Mappings)))
			return st.Mappings, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("stat settings: %w", err)
		}
	}
	if len(fc.Mappings) == 0 {
		return nil, fmt.Errorf("no concept folders configured: set flashcards.mappings or save settings to %s", fc.SettingsPath)
	}
	return fc.Mappings, nil
}

// build opens the vault and the index, syncs the index and assembles the
// flashcard service.
func (a *application) build(logger *slog.Logger, notifier notice.Notifier, opts ...flashcards.Option) (*components, error) {
	cfg := a.config

	mappings, err := a.mappings(logger)
	if err != nil {
		return nil, err
	}
	format, err := reconcile.ParseLinkFormat(cfg.Flashcards.LinkFormat)
	if err != nil {
		return nil, err
	}

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	classifier := concept.NewClassifier(mappings, cfg.Flashcards.ClassifierOptions()...)
	calc := depth.New(db, store.Stat, depth.WithMaxDepth(cfg.Flashcards.MaxDepth))
	rec := reconcile.New(store, calc, classifier, db, format, logger)

	opts = append([]flashcards.Option{
		flashcards.WithRenameDelay(cfg.Flashcards.RenameDelay),
		flashcards.WithSettingsPath(cfg.Flashcards.SettingsPath),
	}, opts...)
	svc := flashcards.NewService(store, classifier, rec, calc, notifier, logger, opts...)

	return &components{store: store, db: db, svc: svc}, nil
}
