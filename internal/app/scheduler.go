package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/followup"
)

// Scheduler manages the follow-up sweeps using gocron. The two sweep
// tiers run on fixed intervals; analysis and reminders run on cron
// expressions from the configuration.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	taskMap   map[string]followup.ScheduledTaskFunc
	mu        sync.Mutex
	running   bool
}

// NewScheduler creates a scheduler over the registered tasks.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, taskMap map[string]followup.ScheduledTaskFunc) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With("component", "scheduler"),
		cfg:       cfg,
		taskMap:   taskMap,
	}, nil
}

// Start schedules all tasks and starts the scheduler ticking.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	jobs := []struct {
		name string
		def  gocron.JobDefinition
	}{
		{followup.TaskAntiGhosting, gocron.DurationJob(s.cfg.GhostingInterval)},
		{followup.TaskRevival, gocron.DurationJob(s.cfg.RevivalInterval)},
		{followup.TaskNightlyAnalysis, gocron.CronJob(s.cfg.AnalysisCron, false)},
		{followup.TaskReminders, gocron.CronJob(s.cfg.RemindersCron, false)},
	}

	scheduled := 0
	for _, job := range jobs {
		taskFunc, exists := s.taskMap[job.name]
		if !exists {
			s.logger.Warn("Task not found in registry, skipping", "task_name", job.name)
			continue
		}

		_, err := s.scheduler.NewJob(
			job.def,
			gocron.NewTask(
				func(ctx context.Context, name string) {
					s.logger.Info("Running scheduled task", "task_name", name)
					start := time.Now()
					if taskErr := taskFunc(ctx); taskErr != nil {
						s.logger.Error("Scheduled task failed", "task_name", name, "error", taskErr)
					}
					s.logger.Info("Finished scheduled task", "task_name", name, "duration", time.Since(start))
				},
				context.Background(),
				job.name,
			),
			gocron.WithName(job.name),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule task %q: %w", job.name, err)
		}
		scheduled++
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "tasks_scheduled", scheduled)
	return nil
}

// Stop gracefully stops the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}
	s.running = false
	return err
}
