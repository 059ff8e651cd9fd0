package followup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/tesivil/crmbot/internal/database"
)

func dueConv(id int64, intent database.Intent, followUpAt time.Time) *database.Conversation {
	return &database.Conversation{
		ID:             id,
		PeerID:         "5213312345678",
		Intent:         intent,
		FollowUpStatus: database.FollowUpPending,
		FollowUpDate:   sql.NullTime{Time: followUpAt, Valid: true},
	}
}

func clientMessage(at time.Time) *database.Message {
	return &database.Message{ID: 1, SenderType: database.SenderClient, Content: "hola", CreatedAt: at}
}

func TestFollowUpCancelledWhenPeerWroteAfterSchedule(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &fakeStore{
		due:     []*database.Conversation{dueConv(5, database.IntentNoReply, now.Add(-2*time.Hour))},
		lastMsg: clientMessage(now.Add(-90 * time.Minute)),
	}
	sender := &fakeSender{id: "OUT1"}
	deps := taskDeps(store, sender)

	if err := sendDueFollowUps(context.Background(), deps, testLogger(), now); err != nil {
		t.Fatalf("sendDueFollowUps() error: %v", err)
	}

	// The client already answered after the nudge was scheduled; it is
	// stale even though their message aged past the grace period.
	if len(sender.sent) != 0 {
		t.Errorf("follow-up sent despite peer activity after the scheduled time: %v", sender.sent)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != 5 {
		t.Errorf("follow-up not cancelled, cancellations = %v", store.cancelled)
	}
	if len(store.sentMarks) != 0 {
		t.Errorf("follow-up marked sent: %v", store.sentMarks)
	}
}

func TestFollowUpCancelledWithinGraceAge(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	// Scheduled after the client's last message, but the client spoke
	// only 30 minutes ago; the conversation is live.
	store := &fakeStore{
		due:     []*database.Conversation{dueConv(6, database.IntentSoftFollowUp, now.Add(-10*time.Minute))},
		lastMsg: clientMessage(now.Add(-30 * time.Minute)),
	}
	sender := &fakeSender{id: "OUT1"}
	deps := taskDeps(store, sender)

	if err := sendDueFollowUps(context.Background(), deps, testLogger(), now); err != nil {
		t.Fatalf("sendDueFollowUps() error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("follow-up sent inside the grace age: %v", sender.sent)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != 6 {
		t.Errorf("follow-up not cancelled, cancellations = %v", store.cancelled)
	}
}

func TestFollowUpCancelledWhenWeSpokeLast(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &fakeStore{
		due: []*database.Conversation{dueConv(7, database.IntentNoReply, now.Add(-2*time.Hour))},
		lastMsg: &database.Message{
			ID: 2, SenderType: database.SenderAgent, Content: "ya lo vi", CreatedAt: now.Add(-5 * time.Hour),
		},
	}
	sender := &fakeSender{id: "OUT1"}
	deps := taskDeps(store, sender)

	if err := sendDueFollowUps(context.Background(), deps, testLogger(), now); err != nil {
		t.Fatalf("sendDueFollowUps() error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("follow-up sent over a human reply: %v", sender.sent)
	}
	if len(store.cancelled) != 1 || store.cancelled[0] != 7 {
		t.Errorf("follow-up not cancelled, cancellations = %v", store.cancelled)
	}
}

func TestFollowUpSentWhenPeerStayedQuiet(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &fakeStore{
		due:     []*database.Conversation{dueConv(8, database.IntentNoReply, now.Add(-time.Hour))},
		lastMsg: clientMessage(now.Add(-3 * time.Hour)),
	}
	sender := &fakeSender{id: "OUT1"}
	deps := taskDeps(store, sender)

	if err := sendDueFollowUps(context.Background(), deps, testLogger(), now); err != nil {
		t.Fatalf("sendDueFollowUps() error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != followUpNoReplyMsg {
		t.Errorf("follow-up script not sent, got %v", sender.sent)
	}
	if len(store.sentMarks) != 1 || store.sentMarks[0] != 8 {
		t.Errorf("follow-up not marked sent, marks = %v", store.sentMarks)
	}
	if len(store.cancelled) != 0 {
		t.Errorf("quiet-peer follow-up cancelled: %v", store.cancelled)
	}
}
