package database

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a conversation. Terminal states
// (CLOSED, BLOCKED) are excluded from every automated flow.
type Status string

const (
	StatusNew         Status = "NEW"
	StatusOpen        Status = "OPEN"
	StatusContacted   Status = "CONTACTED"
	StatusTechPool    Status = "TECH_POOL"
	StatusGhost       Status = "GHOST"
	StatusImportedOld Status = "IMPORTED_OLD"
	StatusClosed      Status = "CLOSED"
	StatusBlocked     Status = "BLOCKED"
)

// Valid reports whether s is a known conversation status.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusOpen, StatusContacted, StatusTechPool,
		StatusGhost, StatusImportedOld, StatusClosed, StatusBlocked:
		return true
	}
	return false
}

// Terminal reports whether the status excludes the conversation from
// all automated flows.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusBlocked
}

// Role identifies who currently owns a conversation.
type Role string

const (
	RoleBot   Role = "BOT"
	RoleAdmin Role = "ADMIN"
	RoleTech  Role = "TECH"
)

// Valid reports whether r is a known ownership role.
func (r Role) Valid() bool {
	return r == RoleBot || r == RoleAdmin || r == RoleTech
}

// Intent is the follow-up classification produced by the nightly analyzer.
type Intent string

const (
	IntentNone             Intent = "NONE"
	IntentAppointment      Intent = "APPOINTMENT"
	IntentFutureContact    Intent = "FUTURE_CONTACT"
	IntentNoReply          Intent = "NO_REPLY"
	IntentQuoteFollowUp    Intent = "QUOTE_FOLLOWUP"
	IntentSoftFollowUp     Intent = "SOFT_FOLLOWUP"
	IntentOperationalAlert Intent = "OPERATIONAL_ALERT"
	IntentAdminTask        Intent = "ADMIN_TASK"
	IntentAwaitingReply    Intent = "AWAITING_REPLY"
)

// Active reports whether the intent makes the conversation eligible for a
// scheduled follow-up send.
func (i Intent) Active() bool {
	return i == IntentNoReply || i == IntentSoftFollowUp || i == IntentFutureContact
}

// Follow-up lifecycle for a scheduled re-engagement send.
const (
	FollowUpPending   = "PENDING"
	FollowUpSent      = "SENT"
	FollowUpCancelled = "CANCELLED_BY_USER"
)

// Appointment reminder lifecycle.
const (
	AppointmentPending          = "PENDING"
	AppointmentRemindedTomorrow = "REMINDED_TOMORROW"
	AppointmentRemindedToday    = "REMINDED_TODAY"
)

// SenderType classifies who produced a message.
type SenderType string

const (
	SenderClient SenderType = "CLIENT"
	SenderAgent  SenderType = "AGENT"
	SenderBot    SenderType = "BOT"
)

// Conversation identifies a remote WhatsApp peer and all orchestration
// state attached to it. One row per peer, unique on PeerID; never
// hard-deleted, only moved between statuses.
type Conversation struct {
	ID          int64  `db:"id"`
	PeerID      string `db:"peer_id"`
	DisplayName string `db:"display_name"`
	Phone       string `db:"phone"`

	Status         Status `db:"status"`
	AssignedToRole Role   `db:"assigned_to_role"`
	Intent         Intent `db:"intent"`
	UnreadCount    int    `db:"unread_count"`

	LastInteraction time.Time `db:"last_interaction"`

	AppointmentDate   sql.NullTime `db:"appointment_date"`
	AppointmentStatus string       `db:"appointment_status"`

	FollowUpDate   sql.NullTime `db:"follow_up_date"`
	FollowUpStatus string       `db:"follow_up_status"`
	FollowUpReason string       `db:"follow_up_reason"`

	LastAnalyzedMessageID string       `db:"last_analyzed_message_id"`
	LastAnalysisAt        sql.NullTime `db:"last_analysis_at"`

	TechSummary    string       `db:"tech_summary"`
	TechAssignedAt sql.NullTime `db:"tech_assigned_at"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Message is one immutable exchanged unit. ExternalID is the gateway's
// message id and drives webhook deduplication.
type Message struct {
	ID             int64      `db:"id"`
	ConversationID int64      `db:"conversation_id"`
	ExternalID     string     `db:"external_id"`
	SenderType     SenderType `db:"sender_type"`
	Kind           string     `db:"kind"`
	Content        string     `db:"content"`
	IsInternal     bool       `db:"is_internal"`
	CreatedAt      time.Time  `db:"created_at"`
}
