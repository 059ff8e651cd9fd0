package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/ingest"
)

// fakeStore implements the slices of database.Store the HTTP surface
// exercises in these tests.
type fakeStore struct {
	database.Store

	exists   bool
	upserted *database.Conversation
	saved    int
	listed   []*database.Conversation
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	return f.exists, nil
}

func (f *fakeStore) UpsertInbound(ctx context.Context, peerID, displayName string, fromMe bool) (*database.Conversation, error) {
	return f.upserted, nil
}

func (f *fakeStore) SaveMessage(ctx context.Context, m *database.Message) error {
	f.saved++
	return nil
}

func (f *fakeStore) ListConversations(ctx context.Context, status database.Status, limit int) ([]*database.Conversation, error) {
	return f.listed, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr:      ":0",
		APIKey:    "dashboard-key",
		RateLimit: 1000,
	}
}

func newTestServer(store *fakeStore) http.Handler {
	log := testLogger()
	proc := ingest.NewProcessor(store, nil, nil, "5213326395038", log)
	return New(store, proc, nil, nil, serverConfig(), log).Router()
}

func postWebhook(t *testing.T, h http.Handler, body string) (int, map[string]string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return rec.Code, got
}

func TestWebhookStoresMessage(t *testing.T) {
	t.Parallel()

	store := &fakeStore{upserted: &database.Conversation{
		ID: 1, PeerID: "5213312345678", AssignedToRole: database.RoleAdmin,
	}}
	h := newTestServer(store)

	code, got := postWebhook(t, h, `{"event":"messages.upsert","data":{
		"key":{"remoteJid":"5213312345678@s.whatsapp.net","fromMe":false,"id":"W1"},
		"pushName":"Juan","message":{"conversation":"Hola"}}}`)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if got["status"] != "stored" {
		t.Errorf(`response status = %q, want "stored"`, got["status"])
	}
	if store.saved != 1 {
		t.Errorf("saved messages = %d, want 1", store.saved)
	}
}

func TestWebhookDuplicateDelivery(t *testing.T) {
	t.Parallel()

	store := &fakeStore{exists: true}
	h := newTestServer(store)

	code, got := postWebhook(t, h, `{"event":"messages.upsert","data":{
		"key":{"remoteJid":"5213312345678@s.whatsapp.net","fromMe":false,"id":"W1"},
		"message":{"conversation":"Hola"}}}`)

	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if got["status"] != "duplicate_ignored" {
		t.Errorf(`response status = %q, want "duplicate_ignored"`, got["status"])
	}
	if store.saved != 0 {
		t.Errorf("duplicate delivery must not be saved, saves = %d", store.saved)
	}
}

func TestWebhookAlwaysAnswers200(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus string
	}{
		{
			name:       "group chat",
			body:       `{"event":"messages.upsert","data":{"key":{"remoteJid":"123@g.us","id":"G1"},"message":{"conversation":"x"}}}`,
			wantStatus: "ignored_group_or_status",
		},
		{
			name:       "uninteresting event",
			body:       `{"event":"presence.update","data":{"key":{"remoteJid":"1@s.whatsapp.net","id":"P1"}}}`,
			wantStatus: "ignored",
		},
		{
			name:       "malformed body",
			body:       "not json at all",
			wantStatus: "ignored",
		},
		{
			name:       "delivery without message",
			body:       `{"event":"messages.upsert","data":{"key":{"remoteJid":"1@s.whatsapp.net","id":"N1"}}}`,
			wantStatus: "ignored",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newTestServer(&fakeStore{})
			code, got := postWebhook(t, h, tc.body)
			if code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (gateway redelivers on anything else)", code)
			}
			if got["status"] != tc.wantStatus {
				t.Errorf(`response status = %q, want %q`, got["status"], tc.wantStatus)
			}
		})
	}
}

func TestDashboardRequiresAppKey(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeStore{listed: []*database.Conversation{}})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/", nil)
	req.Header.Set("x-app-key", "wrong-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/", nil)
	req.Header.Set("x-app-key", "dashboard-key")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d, want 200", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["status"] != "OK" {
		t.Errorf(`health status = %q, want "OK"`, got["status"])
	}
}
