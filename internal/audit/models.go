package audit

import (
	"time"

	"lead-qualifier/internal/leads"
)

// Event is an immutable, append-only activity record.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; do not block the pipeline on audit failures.
//
// Storage (Postgres): table agent_activity, INSERT-only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	LeadKey   string `json:"lead_key,omitempty" db:"lead_key"`
	LeadName  string `json:"lead_name,omitempty" db:"lead_name"`
	LeadPhone string `json:"lead_phone,omitempty" db:"lead_phone"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`

	// Status is success/failed for actions and the verdict for lead_processed.
	Status     string      `json:"status" db:"status"`
	ErrorClass leads.Class `json:"error_class,omitempty" db:"error_class"`

	// SpeedToLeadSeconds is set on lead_processed.
	SpeedToLeadSeconds int `json:"speed_to_lead_seconds,omitempty" db:"speed_to_lead_seconds"`

	// Actor is the operator behind command events.
	Actor string `json:"actor,omitempty" db:"actor"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventCallMade      EventType = "call_made"
	EventSMSSent       EventType = "sms_sent"
	EventLeadProcessed EventType = "lead_processed"
	EventLeadError     EventType = "lead_error"
	EventAlert         EventType = "alert"
	EventCommand       EventType = "command"
)

func (t EventType) Valid() bool {
	switch t {
	case EventCallMade, EventSMSSent, EventLeadProcessed, EventLeadError, EventAlert, EventCommand:
		return true
	default:
		return false
	}
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Filter narrows List. Zero values mean no constraint.
type Filter struct {
	Since   time.Time
	Until   time.Time
	Type    EventType
	LeadKey string
	Limit   int
}

func (f Filter) match(e Event) bool {
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.LeadKey != "" && e.LeadKey != f.LeadKey {
		return false
	}
	return true
}
