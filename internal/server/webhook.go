package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/tesivil/crmbot/internal/ingest"
)

const maxWebhookBody = 1 << 20

// handleWebhook ingests one gateway delivery. It always answers 200:
// any other status makes the gateway redeliver, and redeliveries of a
// poison payload would loop forever.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to read webhook body", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ev, err := ingest.Normalize(body)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrIgnoredEvent), errors.Is(err, ingest.ErrNoMessage):
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		case errors.Is(err, ingest.ErrIgnoredPeer):
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored_group_or_status"})
		default:
			s.log.WarnContext(r.Context(), "Malformed webhook delivery", "error", err)
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		}
		return
	}

	result, err := s.processor.Process(r.Context(), ev)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Webhook processing failed", "external_id", ev.ExternalID, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"error": "internal error handled"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": result})
}
