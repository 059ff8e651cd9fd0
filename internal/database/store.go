package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the data access interface for conversations and messages.
// Methods accept context.Context for cancellation and timeouts. The store
// owns the conflict policy required by the webhook pipeline: unread counts
// are incremented additively in SQL and the technician assignment
// timestamp is stamped at most once.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// MessageExists reports whether a message with the given external id
	// was already recorded. Used for webhook deduplication and must be
	// consulted before any state mutation for the same event.
	MessageExists(ctx context.Context, externalID string) (bool, error)

	// SaveMessage inserts a new immutable message record.
	SaveMessage(ctx context.Context, message *Message) error

	// GetConversationByPeer retrieves a conversation by peer id.
	// Returns nil, nil if not found.
	GetConversationByPeer(ctx context.Context, peerID string) (*Conversation, error)

	// GetConversation retrieves a conversation by primary key.
	// Returns nil, nil if not found.
	GetConversation(ctx context.Context, id int64) (*Conversation, error)

	// UpsertInbound creates or touches the conversation for an inbound
	// event. New peers start in NEW/BOT (or OPEN/ADMIN when the event was
	// sent by us). Existing conversations get last_interaction refreshed,
	// the display name updated from the latest payload, and the unread
	// counter incremented additively for genuine peer messages (reset for
	// our own outbound).
	UpsertInbound(ctx context.Context, peerID, displayName string, fromMe bool) (*Conversation, error)

	// GetOrCreateByPhone finds a conversation by its normalized phone
	// peer id, creating it in TECH_POOL/TECH when absent.
	GetOrCreateByPhone(ctx context.Context, peerID, displayName string) (*Conversation, error)

	// ListConversations returns the most recently active conversations,
	// optionally filtered by status.
	ListConversations(ctx context.Context, status Status, limit int) ([]*Conversation, error)

	// GetHistory returns a conversation's messages in insertion order.
	GetHistory(ctx context.Context, conversationID int64, limit int) ([]*Message, error)

	// GetMessagesSince returns messages created at or after the given
	// time, in insertion order. Backs the technician-safe view.
	GetMessagesSince(ctx context.Context, conversationID int64, since time.Time) ([]*Message, error)

	// LastMessage returns the newest message of a conversation.
	// Returns nil, nil when the conversation has no messages.
	LastMessage(ctx context.Context, conversationID int64) (*Message, error)

	// MarkRead resets the unread counter to zero.
	MarkRead(ctx context.Context, conversationID int64) error

	// MarkContacted records a successful bot reply: status CONTACTED,
	// unread cleared, last_interaction refreshed.
	MarkContacted(ctx context.Context, conversationID int64) error

	// HandoffToAdmin flips ownership to a human: role ADMIN, status OPEN,
	// unread incremented so the conversation surfaces in the inbox.
	HandoffToAdmin(ctx context.Context, conversationID int64) error

	// UpdateStatus applies an explicit administrative ownership change.
	// When the new role is TECH or the new status is TECH_POOL, the
	// technician assignment timestamp is stamped once (idempotent).
	UpdateStatus(ctx context.Context, conversationID int64, status Status, role Role) (*Conversation, error)

	// TouchLastInteraction refreshes last_interaction to now.
	TouchLastInteraction(ctx context.Context, conversationID int64) error

	// SaveTechSummary stores the generated technician summary.
	SaveTechSummary(ctx context.Context, conversationID int64, summary string) error

	// ListGhostCandidates returns up to limit CONTACTED conversations
	// whose last interaction falls inside the (olderThan, youngerThan)
	// staleness window: gone quiet but not yet abandoned.
	ListGhostCandidates(ctx context.Context, now time.Time, olderThan, youngerThan time.Duration, limit int) ([]*Conversation, error)

	// OldestImported returns the coldest IMPORTED_OLD conversation.
	// Returns nil, nil when the revival list is empty.
	OldestImported(ctx context.Context) (*Conversation, error)

	// MarkGhosted moves a conversation to GHOST after a re-engagement
	// send, optionally handing ownership to ADMIN.
	MarkGhosted(ctx context.Context, conversationID int64, handToAdmin bool) error

	// ListAnalysisCandidates returns non-terminal conversations with
	// message activity inside the trailing window. Conversations already
	// in AWAITING_REPLY are only returned when a message arrived after
	// the last analysis.
	ListAnalysisCandidates(ctx context.Context, since time.Time) ([]*Conversation, error)

	// SaveFollowUpAnalysis persists the analyzer verdict: intent,
	// optional follow-up date (status PENDING when set), reasoning, and
	// the idempotency marker. When the intent is APPOINTMENT the
	// appointment fields are set as well.
	SaveFollowUpAnalysis(ctx context.Context, conversationID int64, intent Intent, followUpDate *time.Time, reasoning, analyzedMessageID string) error

	// ListDueFollowUps returns conversations whose pending follow-up time
	// has arrived and whose intent is an active kind.
	ListDueFollowUps(ctx context.Context, now time.Time) ([]*Conversation, error)

	// CancelFollowUp clears a pending follow-up because the peer already
	// re-engaged (or a human intervened).
	CancelFollowUp(ctx context.Context, conversationID int64) error

	// MarkFollowUpSent records a fired follow-up: status SENT, intent
	// AWAITING_REPLY, and the sent message id as the analysis marker.
	MarkFollowUpSent(ctx context.Context, conversationID int64, sentMessageID string) error

	// ListAppointmentsOnDay returns conversations with a pending
	// appointment whose date (in loc) falls on day. statuses narrows the
	// reminder stage.
	ListAppointmentsOnDay(ctx context.Context, day time.Time, loc *time.Location, statuses []string) ([]*Conversation, error)

	// MarkAppointmentReminded advances the appointment reminder stage and
	// records the reminder message id as the analysis marker. Setting
	// techRole also hands the conversation to the technician role.
	MarkAppointmentReminded(ctx context.Context, conversationID int64, status, sentMessageID string, techRole bool) error
}

// sqlxStore implements Store using sqlx over SQLite.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

const conversationColumns = `id, peer_id, display_name, phone, status, assigned_to_role, intent,
	unread_count, last_interaction, appointment_date, appointment_status,
	follow_up_date, follow_up_status, follow_up_reason,
	last_analyzed_message_id, last_analysis_at, tech_summary, tech_assigned_at,
	created_at, updated_at`

const messageColumns = `id, conversation_id, external_id, sender_type, kind, content, is_internal, created_at`

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) MessageExists(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, fmt.Errorf("external_id cannot be empty")
	}

	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM messages WHERE external_id = ? LIMIT 1`, externalID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking message existence", "external_id", externalID, "error", err)
		return false, fmt.Errorf("failed to check message %q: %w", externalID, err)
	}
	return true, nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ConversationID == 0 {
		return fmt.Errorf("message must have a non-zero conversation_id")
	}
	if message.ExternalID == "" {
		return fmt.Errorf("message must have a non-empty external_id")
	}
	if message.Kind == "" {
		message.Kind = "TEXT"
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO messages (conversation_id, external_id, sender_type, kind, content, is_internal, created_at)
        VALUES (:conversation_id, :external_id, :sender_type, :kind, :content, :is_internal, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"conversation_id", message.ConversationID, "external_id", message.ExternalID, "error", err)
		return fmt.Errorf("failed to save message %q: %w", message.ExternalID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		message.ID = id
	}

	s.logger.DebugContext(ctx, "Message saved",
		"conversation_id", message.ConversationID, "external_id", message.ExternalID)
	return nil
}

func (s *sqlxStore) GetConversationByPeer(ctx context.Context, peerID string) (*Conversation, error) {
	if peerID == "" {
		return nil, fmt.Errorf("peer_id cannot be empty")
	}

	var conv Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE peer_id = ?`
	err := s.db.GetContext(ctx, &conv, query, peerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting conversation by peer", "peer_id", peerID, "error", err)
		return nil, fmt.Errorf("failed to get conversation for peer %q: %w", peerID, err)
	}
	return &conv, nil
}

func (s *sqlxStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var conv Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	err := s.db.GetContext(ctx, &conv, query, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting conversation", "conversation_id", id, "error", err)
		return nil, fmt.Errorf("failed to get conversation %d: %w", id, err)
	}
	return &conv, nil
}

func (s *sqlxStore) UpsertInbound(ctx context.Context, peerID, displayName string, fromMe bool) (*Conversation, error) {
	if peerID == "" {
		return nil, fmt.Errorf("peer_id cannot be empty")
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var existing Conversation
	err = tx.GetContext(ctx, &existing,
		`SELECT `+conversationColumns+` FROM conversations WHERE peer_id = ?`, peerID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		status := StatusNew
		role := RoleBot
		unread := 1
		if fromMe {
			// An operator typing is treated as taking ownership.
			status = StatusOpen
			role = RoleAdmin
			unread = 0
		}
		name := displayName
		if name == "" {
			name = "Cliente Nuevo"
		}

		res, insErr := tx.ExecContext(ctx, `
            INSERT INTO conversations (peer_id, display_name, phone, status, assigned_to_role, intent,
                unread_count, last_interaction, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			peerID, name, peerID, status, role, IntentNone, unread, now, now, now)
		if insErr != nil {
			s.logger.ErrorContext(ctx, "Error creating conversation", "peer_id", peerID, "error", insErr)
			return nil, fmt.Errorf("failed to create conversation for peer %q: %w", peerID, insErr)
		}
		id, _ := res.LastInsertId()

		if err := tx.GetContext(ctx, &existing,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to reload created conversation %d: %w", id, err)
		}

	case err != nil:
		return nil, fmt.Errorf("failed to load conversation for peer %q: %w", peerID, err)

	default:
		// Refresh the placeholder name from the latest payload; keep a
		// name the operator may have edited by hand.
		nameSQL := `display_name`
		if displayName != "" && existing.DisplayName == "Cliente Nuevo" {
			nameSQL = `?`
		}

		var args []any
		query := `UPDATE conversations SET last_interaction = ?, updated_at = ?, display_name = ` + nameSQL
		args = append(args, now, now)
		if nameSQL == `?` {
			args = append(args, displayName)
		}

		if fromMe {
			query += `, unread_count = 0, status = ?, assigned_to_role = ?`
			args = append(args, StatusOpen, RoleAdmin)
		} else {
			// Additive increment: concurrent writers must not lose counts.
			query += `, unread_count = unread_count + 1`
		}
		query += ` WHERE id = ?`
		args = append(args, existing.ID)

		if _, updErr := tx.ExecContext(ctx, query, args...); updErr != nil {
			s.logger.ErrorContext(ctx, "Error touching conversation", "peer_id", peerID, "error", updErr)
			return nil, fmt.Errorf("failed to touch conversation for peer %q: %w", peerID, updErr)
		}

		if err := tx.GetContext(ctx, &existing,
			`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to reload conversation %d: %w", existing.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	return &existing, nil
}

func (s *sqlxStore) GetOrCreateByPhone(ctx context.Context, peerID, displayName string) (*Conversation, error) {
	conv, err := s.GetConversationByPeer(ctx, peerID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	now := time.Now().UTC()
	name := displayName
	if name == "" {
		name = "Cliente Nuevo"
	}

	res, err := s.db.ExecContext(ctx, `
        INSERT INTO conversations (peer_id, display_name, phone, status, assigned_to_role, intent,
            unread_count, last_interaction, tech_assigned_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		peerID, name, peerID, StatusTechPool, RoleTech, IntentNone, now, now, now, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating conversation by phone", "peer_id", peerID, "error", err)
		return nil, fmt.Errorf("failed to create conversation for phone %q: %w", peerID, err)
	}

	id, _ := res.LastInsertId()
	return s.GetConversation(ctx, id)
}

func (s *sqlxStore) ListConversations(ctx context.Context, status Status, limit int) ([]*Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var convs []*Conversation
	var err error
	if status != "" {
		query := `SELECT ` + conversationColumns + ` FROM conversations WHERE status = ? ORDER BY last_interaction DESC LIMIT ?`
		err = s.db.SelectContext(ctx, &convs, query, status, limit)
	} else {
		query := `SELECT ` + conversationColumns + ` FROM conversations ORDER BY last_interaction DESC LIMIT ?`
		err = s.db.SelectContext(ctx, &convs, query, limit)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing conversations", "status", status, "error", err)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *sqlxStore) GetHistory(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var messages []*Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? ORDER BY id ASC LIMIT ?`
	if err := s.db.SelectContext(ctx, &messages, query, conversationID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting history", "conversation_id", conversationID, "error", err)
		return nil, fmt.Errorf("failed to get history for conversation %d: %w", conversationID, err)
	}
	return messages, nil
}

func (s *sqlxStore) GetMessagesSince(ctx context.Context, conversationID int64, since time.Time) ([]*Message, error) {
	var messages []*Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? AND created_at >= ? ORDER BY id ASC`
	if err := s.db.SelectContext(ctx, &messages, query, conversationID, since); err != nil {
		s.logger.ErrorContext(ctx, "Error getting messages since", "conversation_id", conversationID, "error", err)
		return nil, fmt.Errorf("failed to get messages for conversation %d: %w", conversationID, err)
	}
	return messages, nil
}

func (s *sqlxStore) LastMessage(ctx context.Context, conversationID int64) (*Message, error) {
	var message Message
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? ORDER BY id DESC LIMIT 1`
	err := s.db.GetContext(ctx, &message, query, conversationID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting last message", "conversation_id", conversationID, "error", err)
		return nil, fmt.Errorf("failed to get last message for conversation %d: %w", conversationID, err)
	}
	return &message, nil
}

func (s *sqlxStore) MarkRead(ctx context.Context, conversationID int64) error {
	return s.exec(ctx, "mark read",
		`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), conversationID)
}

func (s *sqlxStore) MarkContacted(ctx context.Context, conversationID int64) error {
	now := time.Now().UTC()
	return s.exec(ctx, "mark contacted",
		`UPDATE conversations SET status = ?, unread_count = 0, last_interaction = ?, updated_at = ? WHERE id = ?`,
		StatusContacted, now, now, conversationID)
}

func (s *sqlxStore) HandoffToAdmin(ctx context.Context, conversationID int64) error {
	return s.exec(ctx, "handoff to admin",
		`UPDATE conversations SET assigned_to_role = ?, status = ?, unread_count = unread_count + 1, updated_at = ? WHERE id = ?`,
		RoleAdmin, StatusOpen, time.Now().UTC(), conversationID)
}

func (s *sqlxStore) UpdateStatus(ctx context.Context, conversationID int64, status Status, role Role) (*Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	now := time.Now().UTC()
	query := `UPDATE conversations SET status = ?, updated_at = ?`
	args := []any{status, now}

	if role != "" {
		if !role.Valid() {
			return nil, fmt.Errorf("invalid role %q", role)
		}
		query += `, assigned_to_role = ?`
		args = append(args, role)
	}

	// Stamp the technician visibility boundary exactly once.
	if role == RoleTech || status == StatusTechPool {
		query += `, tech_assigned_at = COALESCE(tech_assigned_at, ?)`
		args = append(args, now)
	}

	query += ` WHERE id = ?`
	args = append(args, conversationID)

	if err := s.exec(ctx, "update status", query, args...); err != nil {
		return nil, err
	}
	return s.GetConversation(ctx, conversationID)
}

func (s *sqlxStore) TouchLastInteraction(ctx context.Context, conversationID int64) error {
	now := time.Now().UTC()
	return s.exec(ctx, "touch last interaction",
		`UPDATE conversations SET last_interaction = ?, updated_at = ? WHERE id = ?`,
		now, now, conversationID)
}

func (s *sqlxStore) SaveTechSummary(ctx context.Context, conversationID int64, summary string) error {
	return s.exec(ctx, "save tech summary",
		`UPDATE conversations SET tech_summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), conversationID)
}

func (s *sqlxStore) ListGhostCandidates(ctx context.Context, now time.Time, olderThan, youngerThan time.Duration, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 3
	}

	var convs []*Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE status = ? AND last_interaction < ? AND last_interaction > ?
        ORDER BY last_interaction ASC LIMIT ?`
	err := s.db.SelectContext(ctx, &convs, query,
		StatusContacted, now.Add(-olderThan), now.Add(-youngerThan), limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing ghost candidates", "error", err)
		return nil, fmt.Errorf("failed to list ghost candidates: %w", err)
	}
	return convs, nil
}

func (s *sqlxStore) OldestImported(ctx context.Context) (*Conversation, error) {
	var conv Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE status = ? ORDER BY last_interaction ASC LIMIT 1`
	err := s.db.GetContext(ctx, &conv, query, StatusImportedOld)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting oldest imported conversation", "error", err)
		return nil, fmt.Errorf("failed to get oldest imported conversation: %w", err)
	}
	return &conv, nil
}

func (s *sqlxStore) MarkGhosted(ctx context.Context, conversationID int64, handToAdmin bool) error {
	now := time.Now().UTC()
	if handToAdmin {
		return s.exec(ctx, "mark ghosted",
			`UPDATE conversations SET status = ?, assigned_to_role = ?, last_interaction = ?, updated_at = ? WHERE id = ?`,
			StatusGhost, RoleAdmin, now, now, conversationID)
	}
	return s.exec(ctx, "mark ghosted",
		`UPDATE conversations SET status = ?, last_interaction = ?, updated_at = ? WHERE id = ?`,
		StatusGhost, now, now, conversationID)
}

func (s *sqlxStore) ListAnalysisCandidates(ctx context.Context, since time.Time) ([]*Conversation, error) {
	var convs []*Conversation
	query := `SELECT DISTINCT c.id, c.peer_id, c.display_name, c.phone, c.status, c.assigned_to_role, c.intent,
            c.unread_count, c.last_interaction, c.appointment_date, c.appointment_status,
            c.follow_up_date, c.follow_up_status, c.follow_up_reason,
            c.last_analyzed_message_id, c.last_analysis_at, c.tech_summary, c.tech_assigned_at,
            c.created_at, c.updated_at
        FROM conversations c
        JOIN messages m ON m.conversation_id = c.id
        WHERE c.status NOT IN (?, ?)
        AND (c.intent != ? OR m.created_at > COALESCE(c.last_analysis_at, 0))
        AND m.created_at >= ?`
	err := s.db.SelectContext(ctx, &convs, query,
		StatusClosed, StatusBlocked, IntentAwaitingReply, since)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing analysis candidates", "error", err)
		return nil, fmt.Errorf("failed to list analysis candidates: %w", err)
	}
	return convs, nil
}

func (s *sqlxStore) SaveFollowUpAnalysis(ctx context.Context, conversationID int64, intent Intent, followUpDate *time.Time, reasoning, analyzedMessageID string) error {
	now := time.Now().UTC()

	if followUpDate == nil {
		return s.exec(ctx, "save follow-up analysis",
			`UPDATE conversations SET intent = ?, last_analysis_at = ?, last_analyzed_message_id = ?,
                follow_up_reason = ?, updated_at = ? WHERE id = ?`,
			intent, now, analyzedMessageID, reasoning, now, conversationID)
	}

	query := `UPDATE conversations SET intent = ?, follow_up_date = ?, follow_up_status = ?,
        follow_up_reason = ?, last_analysis_at = ?, last_analyzed_message_id = ?, updated_at = ?`
	args := []any{intent, followUpDate.UTC(), FollowUpPending, reasoning, now, analyzedMessageID, now}

	if intent == IntentAppointment {
		query += `, appointment_date = ?, appointment_status = ?`
		args = append(args, followUpDate.UTC(), AppointmentPending)
	}

	query += ` WHERE id = ?`
	args = append(args, conversationID)

	return s.exec(ctx, "save follow-up analysis", query, args...)
}

func (s *sqlxStore) ListDueFollowUps(ctx context.Context, now time.Time) ([]*Conversation, error) {
	var convs []*Conversation
	query := `SELECT ` + conversationColumns + ` FROM conversations
        WHERE follow_up_status = ? AND follow_up_date <= ? AND intent IN (?, ?, ?)`
	err := s.db.SelectContext(ctx, &convs, query,
		FollowUpPending, now.UTC(), IntentNoReply, IntentSoftFollowUp, IntentFutureContact)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing due follow-ups", "error", err)
		return nil, fmt.Errorf("failed to list due follow-ups: %w", err)
	}
	return convs, nil
}

func (s *sqlxStore) CancelFollowUp(ctx context.Context, conversationID int64) error {
	return s.exec(ctx, "cancel follow-up",
		`UPDATE conversations SET follow_up_status = ?, follow_up_date = NULL, updated_at = ? WHERE id = ?`,
		FollowUpCancelled, time.Now().UTC(), conversationID)
}

func (s *sqlxStore) MarkFollowUpSent(ctx context.Context, conversationID int64, sentMessageID string) error {
	now := time.Now().UTC()
	return s.exec(ctx, "mark follow-up sent",
		`UPDATE conversations SET follow_up_status = ?, intent = ?, last_analysis_at = ?,
            last_analyzed_message_id = ?, updated_at = ? WHERE id = ?`,
		FollowUpSent, IntentAwaitingReply, now, sentMessageID, now, conversationID)
}

func (s *sqlxStore) ListAppointmentsOnDay(ctx context.Context, day time.Time, loc *time.Location, statuses []string) ([]*Conversation, error) {
	if len(statuses) == 0 {
		statuses = []string{AppointmentPending}
	}

	dayStart := time.Date(day.In(loc).Year(), day.In(loc).Month(), day.In(loc).Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	query, args, err := sqlx.In(`SELECT `+conversationColumns+` FROM conversations
        WHERE intent = ? AND appointment_status IN (?)
        AND appointment_date >= ? AND appointment_date < ?`,
		IntentAppointment, statuses, dayStart.UTC(), dayEnd.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to build appointment query: %w", err)
	}
	query = s.db.Rebind(query)

	var convs []*Conversation
	if err := s.db.SelectContext(ctx, &convs, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Error listing appointments", "error", err)
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	return convs, nil
}

func (s *sqlxStore) MarkAppointmentReminded(ctx context.Context, conversationID int64, status, sentMessageID string, techRole bool) error {
	now := time.Now().UTC()
	query := `UPDATE conversations SET appointment_status = ?, last_analysis_at = ?,
        last_analyzed_message_id = ?, updated_at = ?`
	args := []any{status, now, sentMessageID, now}
	if techRole {
		query += `, assigned_to_role = ?`
		args = append(args, RoleTech)
	}
	query += ` WHERE id = ?`
	args = append(args, conversationID)

	return s.exec(ctx, "mark appointment reminded", query, args...)
}

// exec runs a single write statement with uniform error logging.
func (s *sqlxStore) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		s.logger.ErrorContext(ctx, "Store write failed", "op", op, "error", err)
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}
