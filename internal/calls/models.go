package calls

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lead-qualifier/internal/leads"
)

// CallStatus is the provider-reported call progress, normalized.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// ParseProviderStatus maps provider spellings ("no-answer", "in-progress") to CallStatus.
func ParseProviderStatus(s string) CallStatus {
	return CallStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
}

// Terminal reports whether the provider will send no further progress for the call.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// State is the orchestrator's position in the call script.
//
//	INITIATED -> GREETING -> Q1 .. Q5 -> COMPLETING -> FINALIZED
//	INITIATED -> NO_ANSWER | CALL_FAILED
type State string

const (
	StateInitiated  State = "INITIATED"
	StateGreeting   State = "GREETING"
	StateCompleting State = "COMPLETING"
	StateFinalized  State = "FINALIZED"
	StateNoAnswer   State = "NO_ANSWER"
	StateCallFailed State = "CALL_FAILED"
)

// QuestionState returns the state for question n (1-based).
func QuestionState(n int) State { return State(fmt.Sprintf("Q%d", n)) }

// Ended reports whether the call is over from the orchestrator's point of view.
func (s State) Ended() bool {
	switch s {
	case StateCompleting, StateFinalized, StateNoAnswer, StateCallFailed:
		return true
	default:
		return false
	}
}

// Session is the transient state of one outbound call, keyed by provider call id.
// It lives in the correlation store and is owned by the Orchestrator.
type Session struct {
	CallID   string     `json:"call_id"`
	Lead     leads.Lead `json:"lead"`
	State    State      `json:"state"`
	Question int        `json:"question"`

	Answers leads.Answers `json:"answers"`

	ProviderStatus  CallStatus `json:"provider_status,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	InitiatedAt time.Time `json:"initiated_at"`
	GreetedAt   time.Time `json:"greeted_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Greeted reports whether the callee heard the greeting.
func (s Session) Greeted() bool { return !s.GreetedAt.IsZero() }

// Hash field names.
const (
	fieldLead        = "lead"
	fieldLeadKey     = "lead_key"
	fieldState       = "state"
	fieldQuestion    = "question"
	fieldStatus      = "provider_status"
	fieldDuration    = "duration"
	fieldInitiatedAt = "initiated_at"
	fieldGreetedAt   = "greeted_at"
	fieldEndedAt     = "ended_at"
)

func answerField(q int) string  { return fmt.Sprintf("answer_%d", q) }
func timeoutField(q int) string { return fmt.Sprintf("timeouts_%d", q) }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sessionFromHash(callID string, m map[string]string) (Session, error) {
	if len(m) == 0 {
		return Session{}, ErrUnknownCall
	}
	s := Session{
		CallID:         callID,
		State:          State(m[fieldState]),
		ProviderStatus: CallStatus(m[fieldStatus]),
		InitiatedAt:    parseTime(m[fieldInitiatedAt]),
		GreetedAt:      parseTime(m[fieldGreetedAt]),
		EndedAt:        parseTime(m[fieldEndedAt]),
	}
	if raw := m[fieldLead]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.Lead); err != nil {
			return Session{}, fmt.Errorf("calls: decode session lead: %w", err)
		}
	}
	s.Question, _ = strconv.Atoi(m[fieldQuestion])
	s.DurationSeconds, _ = strconv.Atoi(m[fieldDuration])
	for i := range s.Answers {
		s.Answers[i] = m[answerField(i+1)]
	}
	return s, nil
}
