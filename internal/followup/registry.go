package followup

import "context"

// ScheduledTaskFunc defines the standard signature for all scheduled
// tasks. The context provided by the scheduler should be respected for
// cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names, used as scheduler job names.
const (
	TaskAntiGhosting    = "anti_ghosting"
	TaskRevival         = "revival"
	TaskNightlyAnalysis = "nightly_analysis"
	TaskReminders       = "reminders"
)

// RegisterAllTasks initializes and returns all scheduled tasks keyed by
// name. The scheduler decides when each one runs.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := map[string]ScheduledTaskFunc{
		TaskAntiGhosting:    newAntiGhostingTask(deps),
		TaskRevival:         newRevivalTask(deps),
		TaskNightlyAnalysis: newNightlyAnalysisTask(deps),
		TaskReminders:       newRemindersTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
