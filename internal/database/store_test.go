package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })

	return NewStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUpsertInboundNewPeer(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}
	if conv.Status != StatusNew || conv.AssignedToRole != RoleBot {
		t.Errorf("new peer = %s/%s, want NEW/BOT", conv.Status, conv.AssignedToRole)
	}
	if conv.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", conv.UnreadCount)
	}
	if conv.DisplayName != "Juan" {
		t.Errorf("display name = %q", conv.DisplayName)
	}
}

func TestUpsertInboundOwnMessageTakesOwnership(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "", true)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}
	if conv.Status != StatusOpen || conv.AssignedToRole != RoleAdmin {
		t.Errorf("own first message = %s/%s, want OPEN/ADMIN", conv.Status, conv.AssignedToRole)
	}
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", conv.UnreadCount)
	}
	if conv.DisplayName != "Cliente Nuevo" {
		t.Errorf("display name = %q, want placeholder", conv.DisplayName)
	}
}

func TestUpsertInboundExistingAccumulatesUnread(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}
	second, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second upsert created a new row: %d vs %d", second.ID, first.ID)
	}
	if second.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", second.UnreadCount)
	}

	// An operator reply resets the counter and takes the conversation.
	third, err := store.UpsertInbound(ctx, "5213312345678", "", true)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}
	if third.UnreadCount != 0 || third.Status != StatusOpen || third.AssignedToRole != RoleAdmin {
		t.Errorf("after own message: unread=%d status=%s role=%s", third.UnreadCount, third.Status, third.AssignedToRole)
	}
}

func TestMessageDeduplication(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}

	exists, err := store.MessageExists(ctx, "EXT1")
	if err != nil {
		t.Fatalf("MessageExists() error: %v", err)
	}
	if exists {
		t.Fatal("message reported before being saved")
	}

	msg := &Message{ConversationID: conv.ID, ExternalID: "EXT1", SenderType: SenderClient, Content: "Hola"}
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() error: %v", err)
	}
	if msg.ID == 0 {
		t.Error("saved message did not receive an id")
	}

	exists, err = store.MessageExists(ctx, "EXT1")
	if err != nil {
		t.Fatalf("MessageExists() error: %v", err)
	}
	if !exists {
		t.Error("saved message not found by external id")
	}

	if _, err := store.MessageExists(ctx, ""); err == nil {
		t.Error("empty external id must be rejected")
	}
}

func TestUpdateStatusStampsTechOnce(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}

	assigned, err := store.UpdateStatus(ctx, conv.ID, StatusTechPool, RoleTech)
	if err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if !assigned.TechAssignedAt.Valid {
		t.Fatal("tech assignment timestamp not stamped")
	}
	stamp := assigned.TechAssignedAt.Time

	// A later re-assignment must not move the visibility boundary.
	again, err := store.UpdateStatus(ctx, conv.ID, StatusTechPool, RoleTech)
	if err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	if !again.TechAssignedAt.Valid || !again.TechAssignedAt.Time.Equal(stamp) {
		t.Errorf("tech stamp moved: %v -> %v", stamp, again.TechAssignedAt.Time)
	}
}

func TestUpdateStatusRejectsUnknownValues(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.UpdateStatus(ctx, 1, Status("NOPE"), ""); err == nil {
		t.Error("unknown status accepted")
	}
	if _, err := store.UpdateStatus(ctx, 1, StatusOpen, Role("NOPE")); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestFollowUpLifecycle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}

	due := now.Add(-time.Hour)
	if err := store.SaveFollowUpAnalysis(ctx, conv.ID, IntentNoReply, &due, "client went quiet", "EXT9"); err != nil {
		t.Fatalf("SaveFollowUpAnalysis() error: %v", err)
	}

	pending, err := store.ListDueFollowUps(ctx, now)
	if err != nil {
		t.Fatalf("ListDueFollowUps() error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != conv.ID {
		t.Fatalf("due follow-ups = %v, want the analyzed conversation", pending)
	}

	if err := store.MarkFollowUpSent(ctx, conv.ID, "SENT1"); err != nil {
		t.Fatalf("MarkFollowUpSent() error: %v", err)
	}
	after, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if after.FollowUpStatus != FollowUpSent || after.Intent != IntentAwaitingReply {
		t.Errorf("after send: status=%q intent=%q", after.FollowUpStatus, after.Intent)
	}

	remaining, err := store.ListDueFollowUps(ctx, now)
	if err != nil {
		t.Fatalf("ListDueFollowUps() error: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("sent follow-up still listed as due")
	}
}

func TestCancelFollowUp(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}

	due := now.Add(-time.Minute)
	if err := store.SaveFollowUpAnalysis(ctx, conv.ID, IntentSoftFollowUp, &due, "", "EXT9"); err != nil {
		t.Fatalf("SaveFollowUpAnalysis() error: %v", err)
	}
	if err := store.CancelFollowUp(ctx, conv.ID); err != nil {
		t.Fatalf("CancelFollowUp() error: %v", err)
	}

	pending, err := store.ListDueFollowUps(ctx, now)
	if err != nil {
		t.Fatalf("ListDueFollowUps() error: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("cancelled follow-up still due")
	}

	after, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if after.FollowUpStatus != FollowUpCancelled {
		t.Errorf("follow-up status = %q, want %q", after.FollowUpStatus, FollowUpCancelled)
	}
}

func TestGetMessagesSinceBoundary(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}

	boundary := time.Now().UTC().Truncate(time.Second)
	msgs := []*Message{
		{ConversationID: conv.ID, ExternalID: "OLD", SenderType: SenderClient, Content: "antes", CreatedAt: boundary.Add(-time.Hour)},
		{ConversationID: conv.ID, ExternalID: "EDGE", SenderType: SenderClient, Content: "justo", CreatedAt: boundary},
		{ConversationID: conv.ID, ExternalID: "NEW", SenderType: SenderAgent, Content: "después", CreatedAt: boundary.Add(time.Hour)},
	}
	for _, m := range msgs {
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage(%s) error: %v", m.ExternalID, err)
		}
	}

	visible, err := store.GetMessagesSince(ctx, conv.ID, boundary)
	if err != nil {
		t.Fatalf("GetMessagesSince() error: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("visible messages = %d, want 2 (boundary is inclusive)", len(visible))
	}
	if visible[0].ExternalID != "EDGE" || visible[1].ExternalID != "NEW" {
		t.Errorf("visible order = %s, %s", visible[0].ExternalID, visible[1].ExternalID)
	}
}

func TestGhostCandidateWindow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conv, err := store.UpsertInbound(ctx, "5213312345678", "Juan", false)
	if err != nil {
		t.Fatalf("UpsertInbound() error: %v", err)
	}
	if err := store.MarkContacted(ctx, conv.ID); err != nil {
		t.Fatalf("MarkContacted() error: %v", err)
	}

	// Freshly contacted: inside the quiet minimum, not a candidate.
	fresh, err := store.ListGhostCandidates(ctx, now, 20*time.Hour, 72*time.Hour, 5)
	if err != nil {
		t.Fatalf("ListGhostCandidates() error: %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("fresh conversation listed as ghost candidate")
	}

	// A day later it has gone quiet long enough.
	later := now.Add(26 * time.Hour)
	stale, err := store.ListGhostCandidates(ctx, later, 20*time.Hour, 72*time.Hour, 5)
	if err != nil {
		t.Fatalf("ListGhostCandidates() error: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != conv.ID {
		t.Errorf("stale conversation not listed, got %d candidates", len(stale))
	}

	if err := store.MarkGhosted(ctx, conv.ID, true); err != nil {
		t.Fatalf("MarkGhosted() error: %v", err)
	}
	after, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if after.Status != StatusGhost || after.AssignedToRole != RoleAdmin {
		t.Errorf("after ghosting: %s/%s, want GHOST/ADMIN", after.Status, after.AssignedToRole)
	}
}
