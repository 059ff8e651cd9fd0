package followup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// newRevivalTask creates the slow-tier sweep: one imported legacy lead
// per run, oldest first, gets the revival script and leaves the queue.
func newRevivalTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", TaskRevival)
	cfg := deps.Config
	var running atomic.Bool

	return func(ctx context.Context) error {
		now := time.Now().UTC()
		if !WithinBusinessHours(now, deps.Location, cfg.BusinessHourStart, cfg.BusinessHourEnd) {
			return nil
		}
		if !running.CompareAndSwap(false, true) {
			return nil
		}
		defer running.Store(false)

		if err := waitJitter(ctx, cfg.JitterMin, cfg.JitterMax); err != nil {
			return err
		}

		conv, err := deps.Store.OldestImported(ctx)
		if err != nil {
			return fmt.Errorf("failed to find imported lead: %w", err)
		}
		if conv == nil {
			log.DebugContext(ctx, "Revival queue empty")
			return nil
		}

		log.InfoContext(ctx, "Reviving imported lead", "conversation_id", conv.ID, "peer", conv.PeerID)
		deps.Sender.SendText(ctx, conv.PeerID, cfg.RevivalScript, 0)

		// GHOST without admin handoff: the reply, if any, will pull the
		// conversation back through the normal ingestion path.
		if err := deps.Store.MarkGhosted(ctx, conv.ID, false); err != nil {
			return fmt.Errorf("failed to retire imported lead %d: %w", conv.ID, err)
		}
		return nil
	}
}
