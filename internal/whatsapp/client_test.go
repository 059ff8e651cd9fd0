package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tesivil/crmbot/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTypingDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want time.Duration
	}{
		{name: "empty", text: "", want: 2 * time.Second},
		{name: "one word", text: "Hola", want: 2*time.Second + 500*time.Millisecond},
		{name: "four words", text: "Buen día, ¿cómo está?", want: 4 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := TypingDuration(tc.text); got != tc.want {
				t.Errorf("TypingDuration(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestSendTextWithoutPresence(t *testing.T) {
	t.Parallel()

	var paths []string
	var gotKey string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		gotKey = r.Header.Get("apikey")

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if body["number"] != "5213312345678" {
			t.Errorf("number = %v", body["number"])
		}

		json.NewEncoder(w).Encode(map[string]any{"key": map[string]string{"id": "MSG123"}})
	}))
	defer gateway.Close()

	sender := NewClient(config.WhatsAppConfig{
		BaseURL:  gateway.URL,
		APIKey:   "gw-key",
		Instance: "main",
		Timeout:  5 * time.Second,
	}, testLogger())

	id := sender.SendText(context.Background(), "5213312345678", "Hola", -1)
	if id != "MSG123" {
		t.Errorf("SendText() = %q, want MSG123", id)
	}
	if gotKey != "gw-key" {
		t.Errorf("apikey header = %q, want gw-key", gotKey)
	}
	// A negative delay relays the text directly with no presence calls.
	if len(paths) != 1 || paths[0] != "/message/sendText/main" {
		t.Errorf("requests = %v, want only the sendText call", paths)
	}
}

func TestSendTextGatewayFailure(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance disconnected", http.StatusBadGateway)
	}))
	defer gateway.Close()

	sender := NewClient(config.WhatsAppConfig{
		BaseURL:  gateway.URL,
		APIKey:   "gw-key",
		Instance: "main",
		Timeout:  5 * time.Second,
	}, testLogger())

	if id := sender.SendText(context.Background(), "5213312345678", "Hola", -1); id != "" {
		t.Errorf("SendText() = %q, want empty id on gateway failure", id)
	}
}
