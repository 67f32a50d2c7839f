package telephony

import (
	"context"
	"errors"
	"time"
)

// Provider is the provider-agnostic interface used by the pipeline.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Numbers are E.164.
// - Call progress arrives later through webhooks; PlaceCall never blocks on the conversation.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
	SendSMS(ctx context.Context, req SendSMSRequest) (SendSMSResult, error)
}

// PlaceCallRequest starts an outbound call.
type PlaceCallRequest struct {
	To string `json:"to"`

	// AnswerURL is fetched by the provider when the callee picks up.
	AnswerURL string `json:"answer_url"`
	// StatusURL receives lifecycle callbacks (ringing, completed, no-answer...).
	StatusURL string `json:"status_url"`

	// RingTimeout bounds how long the callee's phone rings.
	RingTimeout time.Duration `json:"ring_timeout"`
}

type PlaceCallResult struct {
	// ProviderCallID is the provider's unique identifier for this call.
	ProviderCallID string    `json:"provider_call_id"`
	Status         string    `json:"status"`
	InitiatedAt    time.Time `json:"initiated_at"`
}

type SendSMSRequest struct {
	To        string `json:"to"`
	Body      string `json:"body"`
	StatusURL string `json:"status_url,omitempty"`
}

type SendSMSResult struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Status            string    `json:"status"`
	SentAt            time.Time `json:"sent_at"`
}

// StatusEvent is a call lifecycle callback in provider-agnostic form.
type StatusEvent struct {
	ProviderCallID  string    `json:"provider_call_id"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	AnsweredBy      string    `json:"answered_by,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ErrPermanent marks provider rejections that will not succeed on retry
// (invalid number, unverified caller id, auth failures).
var ErrPermanent = errors.New("telephony: permanent provider error")

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }
