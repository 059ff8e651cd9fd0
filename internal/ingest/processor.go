package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tesivil/crmbot/internal/database"
)

// Processing outcome tokens reported back in the webhook response body.
const (
	ResultDuplicate = "duplicate_ignored"
	ResultIgnored   = "ignored"
	ResultStored    = "stored"
	ResultAgenda    = "agenda_handled"
	ResultReplied   = "bot_replied"
	ResultHandoff   = "handed_off"
)

// AgendaHandler intercepts operator messages to drive the appointment
// draft protocol.
type AgendaHandler interface {
	HandleMessage(ctx context.Context, peerID, kind, text string) bool
}

// Processor drives one normalized event through the ingestion pipeline.
type Processor struct {
	store       database.Store
	gate        *Gate
	agenda      AgendaHandler
	log         *slog.Logger
	operatorJID string
}

// NewProcessor wires the ingestion pipeline.
func NewProcessor(store database.Store, gate *Gate, agenda AgendaHandler, operatorJID string, log *slog.Logger) *Processor {
	return &Processor{
		store:       store,
		gate:        gate,
		agenda:      agenda,
		log:         log.With("component", "ingest"),
		operatorJID: operatorJID,
	}
}

// Process ingests one event: deduplicate, persist, then route to the
// agenda protocol or the bot gate. The returned token describes what
// happened; err is only returned for storage failures.
func (p *Processor) Process(ctx context.Context, ev *Event) (string, error) {
	exists, err := p.store.MessageExists(ctx, ev.ExternalID)
	if err != nil {
		return "", fmt.Errorf("failed to check message existence: %w", err)
	}
	if exists {
		p.log.DebugContext(ctx, "Duplicate delivery ignored", "external_id", ev.ExternalID)
		return ResultDuplicate, nil
	}

	conv, err := p.store.UpsertInbound(ctx, ev.PeerID, ev.DisplayName, ev.FromMe)
	if err != nil {
		return "", fmt.Errorf("failed to upsert conversation: %w", err)
	}

	sender := database.SenderClient
	if ev.FromMe {
		sender = database.SenderAgent
	}
	msg := &database.Message{
		ConversationID: conv.ID,
		ExternalID:     ev.ExternalID,
		SenderType:     sender,
		Kind:           ev.Kind,
		Content:        ev.Content,
	}
	if err := p.store.SaveMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to save message: %w", err)
	}

	// Operator messages (own sends, or anything in the operator chat)
	// may drive the agenda protocol instead of the client-facing gate.
	if ev.FromMe || strings.Contains(ev.PeerID, p.operatorJID) {
		if p.agenda != nil && p.agenda.HandleMessage(ctx, ev.PeerID, ev.Kind, ev.Content) {
			return ResultAgenda, nil
		}
		return ResultStored, nil
	}

	if conv.AssignedToRole != database.RoleBot || conv.Status.Terminal() {
		return ResultStored, nil
	}

	return p.gate.Handle(ctx, conv, ev), nil
}
