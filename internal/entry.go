// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/flashsync/internal/api"
	"github.com/starford/flashsync/internal/flashcards"
	"github.com/starford/flashsync/internal/index"
	"github.com/starford/flashsync/internal/mcpserver"
	"github.com/starford/flashsync/internal/notice"
	"github.com/starford/flashsync/internal/sse"
)

// Run starts the daemon: the vault watcher, the flashcard service and the
// HTTP API.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	notifier := notice.Multi{notice.NewLog(logger), notice.NewBroadcast(broker)}
	c, err := app.build(logger, notifier, flashcards.WithPublisher(broker))
	if err != nil {
		return err
	}
	defer c.Close()

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the vault watcher. Events are handled in order on its goroutine.
	g.Go(func() error {
		err := index.Watch(gCtx, c.db, c.store, cfg.Vault.Path, logger, func(ev index.Event) {
			broker.PublishNoteEvent(string(ev.Kind), ev.Path, ev.OldPath)
			if err := c.svc.HandleEvent(gCtx, ev); err != nil {
				logger.Error("flashcards: handle event failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("path", ev.Path),
					slog.String("error", err.Error()))
			}
		})
		if err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Stops the watcher.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// Reconcile syncs the index and reconciles every flashcard once.
func Reconcile(ctx context.Context, opts ...Option) (flashcards.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return flashcards.Report{}, err
	}
	logger := app.newLogger()

	c, err := app.build(logger, notice.NewLog(logger))
	if err != nil {
		return flashcards.Report{}, err
	}
	defer c.Close()

	return c.svc.ReconcileAll(ctx)
}

// Depth syncs the index and computes the depth of the note at path.
func Depth(ctx context.Context, path string, opts ...Option) (int, error) {
	app, err := newApplication(opts)
	if err != nil {
		return 0, err
	}
	logger := app.newLogger()

	c, err := app.build(logger, notice.NewLog(logger))
	if err != nil {
		return 0, err
	}
	defer c.Close()

	return c.svc.Depth(ctx, path)
}

// ServeMCP serves the flashcard tools over stdio. The watcher keeps the
// link index current; flashcards change only when a tool asks for it.
func ServeMCP(ctx context.Context, version string, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.newLogger()

	c, err := app.build(logger, notice.NewLog(logger))
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	defer func() {
		cancel()
		<-done
	}()
	go func() {
		defer close(done)
		if err := index.Watch(ctx, c.db, c.store, app.config.Vault.Path, logger, nil); err != nil {
			logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}()

	return mcpserver.New(c.svc, version).ServeStdio()
}
