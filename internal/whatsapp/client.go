// Package whatsapp implements the Evolution API transport used to send
// messages and presence updates to WhatsApp peers.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tesivil/crmbot/internal/config"
)

// Presence times: a human takes roughly half a second per word to type,
// plus a moment to read the incoming message first.
const (
	typingPerWord = 500 * time.Millisecond
	typingBase    = 2 * time.Second
)

// Sender sends outbound WhatsApp messages. Implementations never
// propagate transport failures to callers; a failed send returns an
// empty message id.
type Sender interface {
	// SendText delivers text to peerID after simulating typing.
	// forcedDelay overrides the computed typing time when > 0; pass a
	// negative value to skip the presence dance entirely (operator
	// relays should not look like the bot is typing).
	// Returns the gateway message id, or "" when the send failed.
	SendText(ctx context.Context, peerID, text string, forcedDelay time.Duration) string
}

type client struct {
	httpClient *http.Client
	log        *slog.Logger
	baseURL    string
	apiKey     string
	instance   string
}

// NewClient creates an Evolution API client from configuration.
func NewClient(cfg config.WhatsAppConfig, log *slog.Logger) Sender {
	return &client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("component", "whatsapp_client"),
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		instance:   cfg.Instance,
	}
}

// TypingDuration computes how long the bot pretends to type text.
func TypingDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	return typingBase + time.Duration(words)*typingPerWord
}

func (c *client) SendText(ctx context.Context, peerID, text string, forcedDelay time.Duration) string {
	if forcedDelay >= 0 {
		delay := forcedDelay
		if delay == 0 {
			delay = TypingDuration(text)
		}
		c.setPresence(ctx, peerID, "composing", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ""
		}
	}

	id, err := c.postSendText(ctx, peerID, text)
	if err != nil {
		// Outbound failures must not break the calling flow. The peer
		// simply does not get this message.
		c.log.ErrorContext(ctx, "Failed to send WhatsApp message", "peer", peerID, "error", err)
		return ""
	}

	if forcedDelay >= 0 {
		c.setPresence(ctx, peerID, "available", 0)
	}

	c.log.InfoContext(ctx, "WhatsApp message sent", "peer", peerID, "message_id", id)
	return id
}

func (c *client) setPresence(ctx context.Context, peerID, presence string, delay time.Duration) {
	body := map[string]any{
		"number":   peerID,
		"presence": presence,
		"delay":    delay.Milliseconds(),
	}
	if _, err := c.post(ctx, "/chat/sendPresence/"+c.instance, body); err != nil {
		// Presence is cosmetic, log and move on.
		c.log.WarnContext(ctx, "Failed to update presence", "peer", peerID, "presence", presence, "error", err)
	}
}

func (c *client) postSendText(ctx context.Context, peerID, text string) (string, error) {
	body := map[string]any{
		"number": peerID,
		"text":   text,
	}
	raw, err := c.post(ctx, "/message/sendText/"+c.instance, body)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse send response: %w", err)
	}
	return parsed.Key.ID, nil
}

func (c *client) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to gateway failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.log.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
