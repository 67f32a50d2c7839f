// Package pipeline implements the queued work: dialing a lead, closing out a
// finished call, and sending the follow-up text.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead-qualifier/internal/alert"
	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/calls"
	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/leads"
	"lead-qualifier/internal/qualify"
	"lead-qualifier/internal/queue"
	"lead-qualifier/internal/sink"
	"lead-qualifier/internal/telephony"
	"lead-qualifier/pkg/logger"
)

type Dialer interface {
	Initiate(ctx context.Context, lead leads.Lead) (calls.Session, error)
	Load(ctx context.Context, callID string) (calls.Session, error)
	MarkFinalized(ctx context.Context, callID string, keep time.Duration) error
	ForceEnd(ctx context.Context, callID string) (calls.Session, error)
}

type RecordWriter interface {
	WriteRecord(ctx context.Context, r leads.Record) (sink.Outcome, error)
	MarkSMSSent(ctx context.Context, leadKey string, at time.Time) (sink.Outcome, error)
}

type FollowupEnqueuer interface {
	EnqueueFollowup(ctx context.Context, payload queue.FollowupSMSPayload) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, req telephony.SendSMSRequest) (telephony.SendSMSResult, error)
}

type Options struct {
	PublicBaseURL string
	BookingLink   string
	Brand         string

	// ClaimTTL bounds how long a lead stays claimed for dialing, and how long
	// its guard hash is kept after the last write.
	ClaimTTL time.Duration
	// FinalizedTTL is how long a closed session is kept for inspection.
	FinalizedTTL time.Duration

	Now func() time.Time
}

// Lead-state hash fields.
const (
	fieldCallID      = "call_id"
	fieldFinalizedAt = "finalized_at"
	fieldSMSSentAt   = "sms_sent_at"
)

func claimKey(leadKey string) string { return "call_claim:" + leadKey }

type Handlers struct {
	store     correlation.Store
	dialer    Dialer
	records   RecordWriter
	followups FollowupEnqueuer
	sms       SMSSender
	activity  *audit.Service
	alerter   alert.Alerter
	opt       Options
}

var _ queue.Handlers = (*Handlers)(nil)

func NewHandlers(store correlation.Store, dialer Dialer, records RecordWriter, followups FollowupEnqueuer, sms SMSSender, activity *audit.Service, alerter alert.Alerter, opt Options) *Handlers {
	if opt.ClaimTTL <= 0 {
		opt.ClaimTTL = 7 * 24 * time.Hour
	}
	if opt.FinalizedTTL <= 0 {
		opt.FinalizedTTL = time.Hour
	}
	if opt.Brand == "" {
		opt.Brand = "Mesh Cowork"
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Handlers{store: store, dialer: dialer, records: records, followups: followups, sms: sms, activity: activity, alerter: alerter, opt: opt}
}

// ProcessLead places the qualification call. At most one call is ever placed
// per lead: redeliveries see the claim or the recorded call id and stop.
func (h *Handlers) ProcessLead(ctx context.Context, p queue.ProcessLeadPayload, attempt queue.Attempt) error {
	lead := p.Lead
	log := logger.From(ctx).With("lead_key", lead.Key)
	if lead.Key == "" {
		return queue.SkipRetry(errors.New("pipeline: lead key missing"))
	}

	state, err := h.store.GetAll(ctx, correlation.LeadKey(lead.Key))
	if err != nil {
		return h.fail(ctx, lead.Key, err)
	}
	if state[fieldCallID] != "" || state[fieldFinalizedAt] != "" {
		log.Info("lead already called", "call_id", state[fieldCallID])
		return nil
	}

	claimed, err := h.store.MarkIfNew(ctx, claimKey(lead.Key), h.opt.ClaimTTL)
	if err != nil {
		return h.fail(ctx, lead.Key, err)
	}
	if !claimed {
		log.Warn("lead claimed by another attempt")
		return nil
	}

	sess, err := h.dialer.Initiate(ctx, lead)
	if err != nil && sess.CallID != "" {
		// The phone is ringing but the call may not be tracked. Dialing again
		// would call the lead twice, so the webhooks play the fallback and the
		// lead is recorded here unless its session did get stored.
		h.activity.RecordCallMade(ctx, lead, sess.CallID, nil)
		_ = h.fail(ctx, lead.Key, err)
		if _, lerr := h.dialer.Load(ctx, sess.CallID); lerr == nil {
			return nil
		}
		return h.recordSessionLost(ctx, lead, sess)
	}
	if err != nil {
		h.activity.RecordCallMade(ctx, lead, "", err)
		if attempt.Final() || telephony.IsPermanent(err) {
			log.Error("call initiation failed; recording call_failed", "class", leads.ClassOf(err), "retry", attempt.Retry, "err", err)
			return h.recordCallFailed(ctx, lead)
		}
		log.Warn("call initiation failed; will retry", "retry", attempt.Retry, "max_retry", attempt.MaxRetry, "err", err)
		if rerr := h.store.Release(ctx, claimKey(lead.Key)); rerr != nil {
			log.Error("claim release failed", "err", rerr)
		}
		return err
	}

	h.activity.RecordCallMade(ctx, lead, sess.CallID, nil)
	log.Info("qualification call placed", "call_id", sess.CallID,
		"speed_to_lead", leads.SpeedToLead(lead.ReceivedAt, sess.InitiatedAt))
	return nil
}

func (h *Handlers) recordCallFailed(ctx context.Context, lead leads.Lead) error {
	now := h.opt.Now().UTC()
	rec := leads.Record{
		Lead:       lead,
		CallStatus: string(calls.CallStatusFailed),
		Verdict: leads.Verdict{
			Status: leads.StatusCallFailed,
			Reason: "Call could not be placed",
		},
		CreatedAt: now,
	}
	return h.finish(ctx, rec)
}

func (h *Handlers) recordSessionLost(ctx context.Context, lead leads.Lead, sess calls.Session) error {
	now := h.opt.Now().UTC()
	initiated := sess.InitiatedAt
	if initiated.IsZero() {
		initiated = now
	}
	rec := leads.Record{
		Lead:       lead,
		CallID:     sess.CallID,
		CallStatus: string(calls.CallStatusFailed),
		Verdict: leads.Verdict{
			Status: leads.StatusCallFailed,
			Reason: "Call placed but session lost",
		},
		CallInitiatedAt:    initiated,
		CreatedAt:          now,
		SpeedToLeadSeconds: leads.SpeedToLead(lead.ReceivedAt, initiated),
	}
	return h.finish(ctx, rec)
}

// FinalizeCall evaluates a finished call and writes the lead record.
func (h *Handlers) FinalizeCall(ctx context.Context, p queue.FinalizeCallPayload) error {
	log := logger.From(ctx).With("call_id", p.CallID)

	sess, err := h.dialer.Load(ctx, p.CallID)
	if errors.Is(err, calls.ErrUnknownCall) {
		log.Error("finalize: session expired or unknown")
		return queue.SkipRetry(err)
	}
	if err != nil {
		return h.fail(ctx, "", err)
	}
	if sess.State == calls.StateFinalized {
		return nil
	}
	if !sess.State.Ended() && p.Deadline {
		sess, err = h.dialer.ForceEnd(ctx, p.CallID)
		if err != nil {
			return h.fail(ctx, "", err)
		}
	}
	if !sess.State.Ended() {
		return fmt.Errorf("pipeline: call %s still in state %s", p.CallID, sess.State)
	}

	rec := BuildRecord(sess, Verdict(sess), h.opt.Now())
	if err := h.finish(ctx, rec); err != nil {
		return err
	}
	if err := h.dialer.MarkFinalized(ctx, p.CallID, h.opt.FinalizedTTL); err != nil {
		log.Warn("session not marked finalized", "err", err)
	}
	return nil
}

// finish writes the record, logs the outcome and queues the follow-up text.
func (h *Handlers) finish(ctx context.Context, rec leads.Record) error {
	log := logger.From(ctx).With("lead_key", rec.Lead.Key)

	outcome, err := h.records.WriteRecord(ctx, rec)
	if err != nil {
		return h.fail(ctx, rec.Lead.Key, err)
	}
	note := "record saved"
	if outcome == sink.OutcomeFallback {
		note = "record kept in fallback store"
		h.activity.RecordLeadError(ctx, rec.Lead.Key, leads.E(leads.ClassSinkWrite, "sink", errors.New(note)))
	}

	if err := h.touchLeadState(ctx, rec.Lead.Key, fieldFinalizedAt, h.opt.Now().UTC().Format(time.RFC3339)); err != nil {
		log.Warn("lead state not updated", "err", err)
	}

	reason := rec.Verdict.Reason
	if reason == "" {
		reason = "no flags"
	}
	h.activity.RecordLeadProcessed(ctx, rec, fmt.Sprintf("%s: %s; %s", rec.Verdict.Status, reason, note))
	log.Info("lead finalized", "status", rec.Verdict.Status, "reason", rec.Verdict.Reason, "outcome", outcome,
		"speed_to_lead", rec.SpeedToLeadSeconds)

	if rec.Lead.Phone == "" {
		return nil
	}
	return h.followups.EnqueueFollowup(ctx, queue.FollowupSMSPayload{
		LeadKey: rec.Lead.Key,
		CallID:  rec.CallID,
		Name:    rec.Lead.Name,
		Phone:   rec.Lead.Phone,
		Status:  rec.Verdict.Status,
	})
}

// SendFollowup texts the lead once and then corrects the record's SMS timestamp.
func (h *Handlers) SendFollowup(ctx context.Context, p queue.FollowupSMSPayload) error {
	log := logger.From(ctx).With("lead_key", p.LeadKey)
	st := correlation.LeadKey(p.LeadKey)

	state, err := h.store.GetAll(ctx, st)
	if err != nil {
		return h.fail(ctx, p.LeadKey, err)
	}

	sentAt, _ := time.Parse(time.RFC3339, state[fieldSMSSentAt])
	if sentAt.IsZero() {
		res, err := h.sms.SendSMS(ctx, telephony.SendSMSRequest{
			To:        p.Phone,
			Body:      FollowupBody(p.Status, p.Name, h.opt.Brand, h.opt.BookingLink),
			StatusURL: h.opt.PublicBaseURL + telephony.PathSMSStatus,
		})
		h.activity.RecordSMSSent(ctx, p.LeadKey, p.Name, p.Phone, err)
		if err != nil {
			if telephony.IsPermanent(err) {
				log.Error("follow-up sms rejected", "err", err)
				return queue.SkipRetry(err)
			}
			return err
		}
		sentAt = res.SentAt
		if sentAt.IsZero() {
			sentAt = h.opt.Now()
		}
		sentAt = sentAt.UTC().Truncate(time.Second)
		if err := h.touchLeadState(ctx, p.LeadKey, fieldSMSSentAt, sentAt.Format(time.RFC3339)); err != nil {
			log.Warn("sms sent but not recorded", "err", err)
		}
		log.Info("follow-up sms sent", "message_id", res.ProviderMessageID, "status", p.Status)
	}

	if _, err := h.records.MarkSMSSent(ctx, p.LeadKey, sentAt); err != nil {
		return h.fail(ctx, p.LeadKey, err)
	}
	return nil
}

// touchLeadState sets field once and keeps the lead's guard hash alive for ClaimTTL.
func (h *Handlers) touchLeadState(ctx context.Context, leadKey, field, value string) error {
	key := correlation.LeadKey(leadKey)
	if _, err := h.store.PutIfAbsent(ctx, key, field, value); err != nil {
		return err
	}
	return h.store.Expire(ctx, key, h.opt.ClaimTTL)
}

// fail records err against the lead, escalates alertable classes, and returns err.
func (h *Handlers) fail(ctx context.Context, leadKey string, err error) error {
	class := leads.ClassOf(err)
	logger.From(ctx).Error("pipeline step failed", "lead_key", leadKey, "class", class, "err", err)
	h.activity.RecordLeadError(ctx, leadKey, err)
	if !class.Alertable() {
		return err
	}
	h.activity.RecordAlert(ctx, class, leadKey, err.Error())
	if h.alerter != nil {
		aerr := h.alerter.Alert(ctx, alert.Alert{
			Class:   class,
			Subject: string(class),
			Detail:  err.Error(),
			LeadKey: leadKey,
			At:      h.opt.Now(),
		})
		if aerr != nil {
			logger.From(ctx).Error("alert failed", "err", aerr)
		}
	}
	return err
}

// Verdict decides the outcome of a finished call session.
func Verdict(s calls.Session) leads.Verdict {
	switch s.State {
	case calls.StateNoAnswer:
		reason := "Call not answered"
		if s.ProviderStatus != "" {
			reason += " (" + string(s.ProviderStatus) + ")"
		}
		return leads.Verdict{Status: leads.StatusNoAnswer, Reason: reason}
	case calls.StateCallFailed:
		return leads.Verdict{Status: leads.StatusCallFailed, Reason: "Call failed"}
	default:
		return qualify.Evaluate(s.Answers)
	}
}

// BuildRecord assembles the lead record for a finished call.
func BuildRecord(s calls.Session, v leads.Verdict, now time.Time) leads.Record {
	completed := s.EndedAt
	if completed.IsZero() {
		completed = now
	}
	return leads.Record{
		Lead:                s.Lead,
		CallID:              s.CallID,
		CallStatus:          string(s.ProviderStatus),
		CallDurationSeconds: s.DurationSeconds,
		Answers:             s.Answers,
		Verdict:             v,
		CallInitiatedAt:     s.InitiatedAt,
		CallCompletedAt:     completed.UTC(),
		CreatedAt:           now.UTC(),
		SpeedToLeadSeconds:  leads.SpeedToLead(s.Lead.ReceivedAt, s.InitiatedAt),
	}
}
