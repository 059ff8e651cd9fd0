// Package followup implements the scheduled re-engagement tiers: the
// fast anti-ghosting sweep, the slow revival of imported leads, the
// nightly AI chat analysis, and the reminder dispatcher.
package followup

import (
	"log/slog"
	"time"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/gemini"
	"github.com/tesivil/crmbot/internal/whatsapp"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Oracle   gemini.Client
	Sender   whatsapp.Sender
	Config   *config.SchedulerConfig
	Location *time.Location
}
