// Package app wires all components together and manages their
// lifecycle: the HTTP server and the follow-up scheduler run until the
// context is cancelled, then shut down gracefully.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/server"
)

// App represents the application and manages its components' lifecycle.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	srv       *server.Server
	scheduler *Scheduler
}

// New creates the application orchestrator.
func New(logger *slog.Logger, cfg *config.Config, db *sqlx.DB, store database.Store, srv *server.Server, scheduler *Scheduler) *App {
	return &App{
		logger:    logger.With("component", "app"),
		cfg:       cfg,
		db:        db,
		store:     store,
		srv:       srv,
		scheduler: scheduler,
	}
}

// Run starts all components and blocks until the context is cancelled
// or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	httpServer := &http.Server{
		Addr:    a.cfg.Server.Addr,
		Handler: a.srv.Router(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", "addr", a.cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown failed", "error", err)
			return fmt.Errorf("http shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
