package followup

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ghostCall struct {
	id          int64
	handToAdmin bool
}

// fakeStore implements the slices of database.Store the sweep tasks
// touch. The enter/release channels let a test hold a run open in the
// middle of its store call.
type fakeStore struct {
	database.Store

	mu        sync.Mutex
	listCalls int
	enter     chan struct{}
	release   chan struct{}

	candidates []*database.Conversation
	fresh      map[int64]*database.Conversation
	ghosted    []ghostCall

	due       []*database.Conversation
	lastMsg   *database.Message
	cancelled []int64
	sentMarks []int64
}

func (f *fakeStore) ListGhostCandidates(ctx context.Context, now time.Time, olderThan, youngerThan time.Duration, limit int) ([]*database.Conversation, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.enter != nil {
		f.enter <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.candidates, nil
}

func (f *fakeStore) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeStore) GetConversation(ctx context.Context, id int64) (*database.Conversation, error) {
	return f.fresh[id], nil
}

func (f *fakeStore) MarkGhosted(ctx context.Context, id int64, handToAdmin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ghosted = append(f.ghosted, ghostCall{id: id, handToAdmin: handToAdmin})
	return nil
}

func (f *fakeStore) ListDueFollowUps(ctx context.Context, now time.Time) ([]*database.Conversation, error) {
	return f.due, nil
}

func (f *fakeStore) LastMessage(ctx context.Context, id int64) (*database.Message, error) {
	return f.lastMsg, nil
}

func (f *fakeStore) CancelFollowUp(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeStore) MarkFollowUpSent(ctx context.Context, id int64, sentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentMarks = append(f.sentMarks, id)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	id   string
}

func (f *fakeSender) SendText(ctx context.Context, peerID, text string, forcedDelay time.Duration) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.id
}

func schedulerConfig() *config.SchedulerConfig {
	return &config.SchedulerConfig{
		BusinessHourStart: 0,
		BusinessHourEnd:   24,
		GhostingBatch:     3,
		GhostingMinQuiet:  2 * time.Hour,
		GhostingMaxQuiet:  24 * time.Hour,
		FollowUpMinAge:    time.Hour,
		GhostScript:       "¿Sigues interesado en tu revisión?",
		RevivalScript:     "Hola, retomamos tu solicitud pendiente.",
	}
}

func taskDeps(store *fakeStore, sender *fakeSender) TaskDeps {
	return TaskDeps{
		Logger:   testLogger(),
		Store:    store,
		Sender:   sender,
		Config:   schedulerConfig(),
		Location: time.UTC,
	}
}

func TestAntiGhostingNudgesAndHandsOff(t *testing.T) {
	t.Parallel()

	conv := &database.Conversation{ID: 1, PeerID: "5213312345678", Status: database.StatusContacted}
	store := &fakeStore{
		candidates: []*database.Conversation{conv},
		fresh:      map[int64]*database.Conversation{1: conv},
	}
	sender := &fakeSender{id: "OUT1"}
	task := newAntiGhostingTask(taskDeps(store, sender))

	if err := task(context.Background()); err != nil {
		t.Fatalf("task error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != schedulerConfig().GhostScript {
		t.Errorf("ghost script not sent, got %v", sender.sent)
	}
	if len(store.ghosted) != 1 || store.ghosted[0] != (ghostCall{id: 1, handToAdmin: true}) {
		t.Errorf("conversation not ghosted with admin handoff, got %v", store.ghosted)
	}
}

func TestAntiGhostingReverifiesBeforeSending(t *testing.T) {
	t.Parallel()

	// Selected as CONTACTED, but by send time a human took it over.
	stale := &database.Conversation{ID: 2, PeerID: "5213312345678", Status: database.StatusContacted}
	taken := &database.Conversation{ID: 2, PeerID: "5213312345678", Status: database.StatusOpen}
	store := &fakeStore{
		candidates: []*database.Conversation{stale},
		fresh:      map[int64]*database.Conversation{2: taken},
	}
	sender := &fakeSender{id: "OUT1"}
	task := newAntiGhostingTask(taskDeps(store, sender))

	if err := task(context.Background()); err != nil {
		t.Fatalf("task error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("nudge sent to a conversation that changed hands: %v", sender.sent)
	}
	if len(store.ghosted) != 0 {
		t.Errorf("changed conversation was ghosted: %v", store.ghosted)
	}
}

func TestAntiGhostingSkipsOverlappingRun(t *testing.T) {
	t.Parallel()

	// enter is buffered so runs after the release do not block sending.
	store := &fakeStore{
		enter:   make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	sender := &fakeSender{}
	task := newAntiGhostingTask(taskDeps(store, sender))

	done := make(chan error, 1)
	go func() { done <- task(context.Background()) }()
	<-store.enter

	// Second tick while the first is mid-flight: no work, no queueing.
	if err := task(context.Background()); err != nil {
		t.Fatalf("overlapping tick error: %v", err)
	}
	if got := store.listCallCount(); got != 1 {
		t.Errorf("store queried %d times, want 1 (overlap must be skipped)", got)
	}

	close(store.release)
	if err := <-done; err != nil {
		t.Fatalf("first run error: %v", err)
	}

	// With the first run finished, the next tick works again.
	if err := task(context.Background()); err != nil {
		t.Fatalf("follow-up tick error: %v", err)
	}
	if got := store.listCallCount(); got != 2 {
		t.Errorf("store queried %d times after release, want 2", got)
	}
}
