package ingest

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tesivil/crmbot/internal/config"
	"github.com/tesivil/crmbot/internal/database"
	"github.com/tesivil/crmbot/internal/gemini"
	"github.com/tesivil/crmbot/internal/whatsapp"
)

// Gate decides how bot-owned conversations respond to a client message:
// canned greeting for fresh ad clicks, an oracle-written reply, or a
// handoff to a human.
type Gate struct {
	store  database.Store
	oracle gemini.Client
	sender whatsapp.Sender
	log    *slog.Logger
	cfg    config.BotConfig
}

// NewGate wires the bot decision gate.
func NewGate(store database.Store, oracle gemini.Client, sender whatsapp.Sender, cfg config.BotConfig, log *slog.Logger) *Gate {
	return &Gate{
		store:  store,
		oracle: oracle,
		sender: sender,
		log:    log.With("component", "gate"),
		cfg:    cfg,
	}
}

// Handle routes one client message. Never returns an error: any oracle
// failure downgrades to a handoff so the client is not left talking to
// a broken bot.
func (g *Gate) Handle(ctx context.Context, conv *database.Conversation, ev *Event) string {
	history, err := g.store.GetHistory(ctx, conv.ID, g.cfg.HistoryLimit)
	if err != nil {
		g.log.ErrorContext(ctx, "Failed to load history, handing off", "conversation_id", conv.ID, "error", err)
		return g.handoff(ctx, conv)
	}

	// Ad-click fast path: a brand-new chat opening with a campaign
	// phrase gets the canned greeting without burning an oracle call.
	if g.isAdClick(history, ev.Content) {
		g.log.InfoContext(ctx, "Ad-click greeting", "conversation_id", conv.ID)
		return g.reply(ctx, conv, g.cfg.Greeting)
	}

	decision, err := g.oracle.AnalyzeIntent(ctx, history, ev.Content)
	if err != nil {
		g.log.ErrorContext(ctx, "Oracle failed, handing off", "conversation_id", conv.ID, "error", err)
		return g.handoff(ctx, conv)
	}

	switch decision.Decision {
	case gemini.DecisionReply:
		g.log.InfoContext(ctx, "Bot replying", "conversation_id", conv.ID, "reason", decision.Reason)
		return g.reply(ctx, conv, decision.Message)
	default:
		g.log.InfoContext(ctx, "Handing off to admin", "conversation_id", conv.ID,
			"decision", decision.Decision, "reason", decision.Reason)
		return g.handoff(ctx, conv)
	}
}

// isAdClick reports whether the chat is fresh (the incoming message is
// at most the second ever) and the text matches a campaign phrase.
func (g *Gate) isAdClick(history []*database.Message, text string) bool {
	if len(history) > 2 {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range g.cfg.AdClickPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func (g *Gate) reply(ctx context.Context, conv *database.Conversation, text string) string {
	id := g.sender.SendText(ctx, conv.PeerID, text, 0)
	if id != "" {
		msg := &database.Message{
			ConversationID: conv.ID,
			ExternalID:     id,
			SenderType:     database.SenderBot,
			Kind:           KindText,
			Content:        text,
		}
		if err := g.store.SaveMessage(ctx, msg); err != nil {
			g.log.ErrorContext(ctx, "Failed to persist bot reply", "conversation_id", conv.ID, "error", err)
		}
	}
	if err := g.store.MarkContacted(ctx, conv.ID); err != nil {
		g.log.ErrorContext(ctx, "Failed to mark conversation contacted", "conversation_id", conv.ID, "error", err)
	}
	return ResultReplied
}

func (g *Gate) handoff(ctx context.Context, conv *database.Conversation) string {
	if err := g.store.HandoffToAdmin(ctx, conv.ID); err != nil {
		g.log.ErrorContext(ctx, "Failed to hand conversation to admin", "conversation_id", conv.ID, "error", err)
	}
	return ResultHandoff
}
