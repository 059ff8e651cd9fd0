// Package main contains the entrypoint for the CRM bot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tesivil/crmbot/internal/agenda"
	"github.com/tesivil/crmbot/internal/app"
	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/followup"
	"github.com/tesivil/crmbot/internal/gemini"
	"github.com/tesivil/crmbot/internal/geocode"
	"github.com/tesivil/crmbot/internal/ingest"
	"github.com/tesivil/crmbot/internal/logger"
	"github.com/tesivil/crmbot/internal/server"
	"github.com/tesivil/crmbot/internal/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components, handles
// graceful shutdown, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		log.Error("Failed to load timezone", "timezone", cfg.Scheduler.Timezone, "error", err)
		return 1
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	oracle, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	sender := whatsapp.NewClient(cfg.WhatsApp, log)
	geocoder := geocode.NewClient(cfg.Geocode, log)

	submitter := agenda.NewSubmitter(cfg.Agenda, log)
	protocol := agenda.NewProtocol(oracle, geocoder, sender, submitter, cfg.Agenda, loc, log)

	gate := ingest.NewGate(store, oracle, sender, cfg.Bot, log)
	processor := ingest.NewProcessor(store, gate, protocol, cfg.Agenda.OperatorJID, log)

	srv := server.New(store, processor, oracle, sender, cfg.Server, log)

	tasks := followup.RegisterAllTasks(followup.TaskDeps{
		Logger:   log,
		Store:    store,
		Oracle:   oracle,
		Sender:   sender,
		Config:   &cfg.Scheduler,
		Location: loc,
	})
	sched, err := app.NewScheduler(log, &cfg.Scheduler, tasks)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	application := app.New(log, cfg, db, store, srv, sched)

	log.Info("Starting CRM bot...")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Application stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
