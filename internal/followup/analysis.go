package followup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/gemini"
)

const analysisHistoryLimit = 50

// newNightlyAnalysisTask creates the nightly audit: every conversation
// with recent traffic is classified by the oracle, and qualifying ones
// get a follow-up or appointment date scheduled.
func newNightlyAnalysisTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", TaskNightlyAnalysis)
	cfg := deps.Config

	return func(ctx context.Context) error {
		now := time.Now().UTC()
		candidates, err := deps.Store.ListAnalysisCandidates(ctx, now.Add(-cfg.AnalysisWindow))
		if err != nil {
			return fmt.Errorf("failed to list analysis candidates: %w", err)
		}
		log.InfoContext(ctx, "Nightly analysis starting", "candidates", len(candidates))

		for _, conv := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}

			last, err := deps.Store.LastMessage(ctx, conv.ID)
			if err != nil || last == nil {
				continue
			}
			lastID := last.ExternalID
			if lastID == "" {
				lastID = strconv.FormatInt(last.ID, 10)
			}
			// Nothing new since the previous run, the verdict stands.
			if conv.LastAnalyzedMessageID == lastID {
				continue
			}

			history, err := deps.Store.GetHistory(ctx, conv.ID, analysisHistoryLimit)
			if err != nil {
				log.ErrorContext(ctx, "Failed to load history", "conversation_id", conv.ID, "error", err)
				continue
			}

			analysis, err := deps.Oracle.ClassifyFollowUp(ctx, history, now.In(deps.Location))
			if err != nil {
				log.ErrorContext(ctx, "Chat classification failed", "conversation_id", conv.ID, "error", err)
				continue
			}

			followUpDate := ComputeFollowUpDate(analysis, now)
			if err := deps.Store.SaveFollowUpAnalysis(ctx, conv.ID, analysis.Intent, followUpDate, analysis.Reasoning, lastID); err != nil {
				log.ErrorContext(ctx, "Failed to save analysis", "conversation_id", conv.ID, "error", err)
				continue
			}

			if followUpDate != nil {
				log.InfoContext(ctx, "Follow-up scheduled", "conversation_id", conv.ID,
					"intent", analysis.Intent, "at", followUpDate.UTC().Format(time.RFC3339))
			} else {
				log.DebugContext(ctx, "No action scheduled", "conversation_id", conv.ID, "intent", analysis.Intent)
			}

			select {
			case <-time.After(cfg.AnalysisDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		log.InfoContext(ctx, "Nightly analysis finished")
		return nil
	}
}

// ComputeFollowUpDate turns an oracle verdict into a concrete send time,
// or nil when the intent needs no scheduled send.
//
// Date rules: oracle-provided dates in the past are pushed to tomorrow
// 17:00 UTC; NO_REPLY lands tomorrow at 15:00 UTC (morning in Mexico);
// QUOTE_FOLLOWUP lands three days out at 17:00 UTC, skipping Sunday.
func ComputeFollowUpDate(analysis *gemini.FollowUpAnalysis, now time.Time) *time.Time {
	switch analysis.Intent {
	case database.IntentAppointment, database.IntentFutureContact:
		iso := analysis.AppointmentDateISO
		if iso == "" {
			iso = analysis.FollowUpDateISO
		}
		if iso == "" {
			return nil
		}
		t, err := time.Parse(time.RFC3339, iso)
		if err != nil {
			return nil
		}
		if !t.After(now) {
			t = atUTCHour(now.AddDate(0, 0, 1), 17)
		}
		return &t

	case database.IntentNoReply:
		t := atUTCHour(now.AddDate(0, 0, 1), 15)
		return &t

	case database.IntentQuoteFollowUp:
		// Quote dates surface on the dashboard for a human to act on;
		// the dispatcher intent list deliberately excludes them, so this
		// never auto-sends.
		t := atUTCHour(now.AddDate(0, 0, 3), 17)
		if t.Weekday() == time.Sunday {
			t = t.AddDate(0, 0, 1)
		}
		return &t
	}

	return nil
}

func atUTCHour(day time.Time, hour int) time.Time {
	d := day.UTC()
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, time.UTC)
}
