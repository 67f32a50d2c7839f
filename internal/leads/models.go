package leads

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// NumQuestions is the fixed length of the qualification script.
const NumQuestions = 5

// NotCaptured marks an answer slot the caller never filled.
const NotCaptured = "not_captured"

// Answers holds the transcripts for Q1..Q5 in script order.
type Answers [NumQuestions]string

// AllNotCaptured reports whether no question produced a usable transcript.
func (a Answers) AllNotCaptured() bool {
	for _, v := range a {
		if v != "" && v != NotCaptured {
			return false
		}
	}
	return true
}

// Lead is a prospect extracted from a landing-page notification.
// Immutable after parsing.
type Lead struct {
	// Key is the correlation key of the notification the lead came from.
	Key string `json:"key"`

	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	OfficeInterest string `json:"office_interest"`
	Message        string `json:"message,omitempty"`
	CampaignID     string `json:"campaign_id,omitempty"`
	PageName       string `json:"page_name,omitempty"`
	PageURL        string `json:"page_url,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks the fields a lead must carry to be recorded at all.
// A phone that is not dialable still passes; see Dialable.
func (l Lead) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Key, validation.Required),
		validation.Field(&l.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&l.Phone, validation.Required),
		validation.Field(&l.ReceivedAt, validation.Required),
	)
}

// Dialable reports whether the phone is an E.164 number a call can be placed to.
func (l Lead) Dialable() error {
	return validation.Validate(l.Phone, validation.Required, validation.Match(e164Pattern).Error("must be E.164"))
}

// EmailValid reports whether the email is empty or well formed.
func (l Lead) EmailValid() error {
	return validation.Validate(l.Email, is.EmailFormat)
}

// Status is the qualification outcome.
type Status string

const (
	StatusPending     Status = "pending"
	StatusQualified   Status = "qualified"
	StatusUnqualified Status = "unqualified"
	StatusNoAnswer    Status = "no_answer"
	StatusCallFailed  Status = "call_failed"
)

// Verdict is the deterministic result of evaluating a call's answers.
type Verdict struct {
	Status Status   `json:"status"`
	Reason string   `json:"reason,omitempty"`
	Flags  []string `json:"flags,omitempty"`
}

// Qualified reports whether the follow-up should use the booking message.
func (v Verdict) Qualified() bool { return v.Status == StatusQualified }

// Record is the row written to the tabular store once per lead.
// Only SMSSentAt may change after the first write.
type Record struct {
	Lead Lead `json:"lead"`

	CallID              string `json:"call_id,omitempty"`
	CallStatus          string `json:"call_status,omitempty"`
	CallDurationSeconds int    `json:"call_duration_seconds"`

	Answers Answers `json:"answers"`
	Verdict Verdict `json:"verdict"`

	CallInitiatedAt time.Time `json:"call_initiated_at"`
	CallCompletedAt time.Time `json:"call_completed_at"`
	SMSSentAt       time.Time `json:"sms_sent_at"`
	CreatedAt       time.Time `json:"created_at"`

	SpeedToLeadSeconds int `json:"speed_to_lead_seconds"`
}

// SpeedToLead returns whole seconds between receipt and call initiation.
// Never negative; zero when either timestamp is missing.
func SpeedToLead(receivedAt, initiatedAt time.Time) int {
	if receivedAt.IsZero() || initiatedAt.IsZero() {
		return 0
	}
	d := initiatedAt.Sub(receivedAt)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
