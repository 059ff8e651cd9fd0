package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tesivil/crmbot/internal/database"
)

const (
	listLimit        = 50
	historyLimit     = 200
	techSummaryScope = 40
)

func idFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	status := database.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	convs, err := s.store.ListConversations(r.Context(), status, listLimit)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// handleGetHistory returns the full message history and clears the
// unread counter, the operator is looking at the chat now.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	if err := s.store.MarkRead(r.Context(), id); err != nil {
		s.log.ErrorContext(r.Context(), "Failed to mark conversation read", "conversation_id", id, "error", err)
	}

	msgs, err := s.store.GetHistory(r.Context(), id, historyLimit)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to load history", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendManualRequest struct {
	Content    string `json:"content"`
	IsInternal bool   `json:"is_internal"`
	SenderName string `json:"sender_name"`
}

// handleSendManual relays a dashboard message to the client. Internal
// notes are stored but never sent.
func (s *Server) handleSendManual(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req sendManualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var sentID string
	if !req.IsInternal {
		outgoing := req.Content
		if req.SenderName != "" {
			outgoing = fmt.Sprintf("*_%s escribió el siguiente mensaje:_* %s", req.SenderName, req.Content)
		}
		sentID = s.sender.SendText(r.Context(), conv.PeerID, outgoing, 0)
	}
	if sentID == "" {
		sentID = fmt.Sprintf("local-%d-%d", id, time.Now().UnixNano())
	}

	msg := &database.Message{
		ConversationID: id,
		ExternalID:     sentID,
		SenderType:     database.SenderAgent,
		Kind:           "TEXT",
		Content:        req.Content,
		IsInternal:     req.IsInternal,
	}
	if err := s.store.SaveMessage(r.Context(), msg); err != nil {
		s.log.ErrorContext(r.Context(), "Failed to save manual message", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if err := s.store.TouchLastInteraction(r.Context(), id); err != nil {
		s.log.ErrorContext(r.Context(), "Failed to touch last interaction", "conversation_id", id, "error", err)
	}

	writeJSON(w, http.StatusOK, msg)
}

type updateStatusRequest struct {
	Status         database.Status `json:"status"`
	AssignedToRole database.Role   `json:"assigned_to_role"`
}

// handleUpdateStatus moves a conversation between lifecycle states.
// Handing a chat to a technician also kicks off the briefing summary.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	if req.AssignedToRole != "" && !req.AssignedToRole.Valid() {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}

	conv, err := s.store.UpdateStatus(r.Context(), id, req.Status, req.AssignedToRole)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to update status", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	if req.AssignedToRole == database.RoleTech || req.Status == database.StatusTechPool {
		go s.generateTechSummary(conv.ID)
	}

	writeJSON(w, http.StatusOK, conv)
}

// generateTechSummary builds the technician briefing in the background.
// Failures are logged and swallowed, the handoff itself already happened.
func (s *Server) generateTechSummary(conversationID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	history, err := s.store.GetHistory(ctx, conversationID, techSummaryScope)
	if err != nil {
		s.log.Error("Failed to load history for tech summary", "conversation_id", conversationID, "error", err)
		return
	}
	if len(history) < 2 {
		s.log.Debug("History too short for tech summary", "conversation_id", conversationID)
		return
	}

	summary, err := s.oracle.GenerateTechSummary(ctx, history)
	if err != nil {
		s.log.Error("Tech summary generation failed", "conversation_id", conversationID, "error", err)
		return
	}

	if err := s.store.SaveTechSummary(ctx, conversationID, summary); err != nil {
		s.log.Error("Failed to save tech summary", "conversation_id", conversationID, "error", err)
		return
	}
	s.log.Info("Tech summary saved", "conversation_id", conversationID)
}

type byPhoneRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

// handleGetOrCreateByPhone resolves a phone number to a conversation,
// creating a technician-pool chat when none exists yet.
func (s *Server) handleGetOrCreateByPhone(w http.ResponseWriter, r *http.Request) {
	var req byPhoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	clean := normalizePhone(req.Phone)
	if clean == "" {
		writeError(w, http.StatusBadRequest, "phone must contain digits")
		return
	}

	name := req.Name
	if name == "" {
		name = "Cliente Nuevo"
	}

	conv, err := s.store.GetOrCreateByPhone(r.Context(), clean, name)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to get or create by phone", "phone", clean, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// normalizePhone strips non-digits and adds the Mexican mobile prefix
// to bare 10-digit numbers.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if len(clean) == 10 {
		clean = "521" + clean
	}
	return clean
}

// handleTechView returns the restricted technician window: the AI
// briefing plus only the messages exchanged since the tech handoff.
func (s *Server) handleTechView(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	since := time.Now().UTC()
	if conv.TechAssignedAt.Valid {
		since = conv.TechAssignedAt.Time
	}

	msgs, err := s.store.GetMessagesSince(r.Context(), id, since)
	if err != nil {
		s.log.ErrorContext(r.Context(), "Failed to load tech view", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"display_name":    conv.DisplayName,
		"tech_summary":    conv.TechSummary,
		"messages":        msgs,
	})
}
