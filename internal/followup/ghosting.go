package followup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tesivil/crmbot/internal/database"
)

// newAntiGhostingTask creates the fast-tier sweep: recently contacted
// clients who went quiet for a few hours get one nudge, then the
// conversation moves to GHOST under admin ownership.
func newAntiGhostingTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", TaskAntiGhosting)
	cfg := deps.Config
	var running atomic.Bool

	return func(ctx context.Context) error {
		// UTC instant: the store compares it against UTC-written rows.
		now := time.Now().UTC()
		if !WithinBusinessHours(now, deps.Location, cfg.BusinessHourStart, cfg.BusinessHourEnd) {
			return nil
		}
		if !running.CompareAndSwap(false, true) {
			log.WarnContext(ctx, "Previous run still in progress, skipping")
			return nil
		}
		defer running.Store(false)

		if err := waitJitter(ctx, cfg.JitterMin, cfg.JitterMax); err != nil {
			return err
		}

		candidates, err := deps.Store.ListGhostCandidates(ctx, now, cfg.GhostingMinQuiet, cfg.GhostingMaxQuiet, cfg.GhostingBatch)
		if err != nil {
			return fmt.Errorf("failed to list ghosting candidates: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}
		log.InfoContext(ctx, "Ghosting candidates found", "count", len(candidates))

		for _, conv := range candidates {
			// The jitter window is long enough for a candidate to have
			// replied or been picked up by a human, re-check.
			fresh, err := deps.Store.GetConversation(ctx, conv.ID)
			if err != nil || fresh == nil || fresh.Status != database.StatusContacted {
				continue
			}

			log.InfoContext(ctx, "Nudging quiet client", "conversation_id", conv.ID, "peer", conv.PeerID)
			deps.Sender.SendText(ctx, conv.PeerID, cfg.GhostScript, 0)

			if err := deps.Store.MarkGhosted(ctx, conv.ID, true); err != nil {
				log.ErrorContext(ctx, "Failed to mark conversation ghosted", "conversation_id", conv.ID, "error", err)
			}

			select {
			case <-time.After(cfg.GhostingSendDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
}
