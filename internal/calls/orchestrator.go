package calls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/leads"
	"lead-qualifier/internal/telephony"
	"lead-qualifier/pkg/logger"
)

var ErrUnknownCall = errors.New("calls: unknown call session")

// FinalizeEnqueuer schedules the post-call work once a call is over.
// Enqueueing the same call twice must be harmless.
type FinalizeEnqueuer interface {
	EnqueueFinalize(ctx context.Context, callID string) error
	// ScheduleFinalize queues a finalize that closes the call out even if
	// its terminal status callback never arrives.
	ScheduleFinalize(ctx context.Context, callID string, after time.Duration) error
}

type Options struct {
	PublicBaseURL string
	Voice         telephony.Voice
	ListenTimeout time.Duration
	RingTimeout   time.Duration
	SessionTTL    time.Duration
	// LeadStateTTL bounds the per-lead guard hash written when a call is placed.
	LeadStateTTL time.Duration
	// MaxCallDuration is how long after ringing a call is assumed over.
	MaxCallDuration time.Duration
	Script          Script
	Now             func() time.Time
}

// Orchestrator runs the qualification conversation. It is stateless between
// webhooks: everything lives in the session hash so any API replica can serve any callback.
type Orchestrator struct {
	store     correlation.Store
	provider  telephony.Provider
	finalizer FinalizeEnqueuer
	opt       Options
}

var _ telephony.CallFlow = (*Orchestrator)(nil)

func NewOrchestrator(store correlation.Store, provider telephony.Provider, finalizer FinalizeEnqueuer, opt Options) *Orchestrator {
	if opt.ListenTimeout <= 0 {
		opt.ListenTimeout = 5 * time.Second
	}
	if opt.RingTimeout <= 0 {
		opt.RingTimeout = 30 * time.Second
	}
	if opt.SessionTTL <= 0 {
		opt.SessionTTL = 24 * time.Hour
	}
	if opt.LeadStateTTL <= 0 {
		opt.LeadStateTTL = 7 * 24 * time.Hour
	}
	if opt.MaxCallDuration <= 0 {
		opt.MaxCallDuration = 15 * time.Minute
	}
	if opt.Script.Brand == "" {
		opt.Script = DefaultScript("")
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Orchestrator{store: store, provider: provider, finalizer: finalizer, opt: opt}
}

// Initiate places the outbound call and opens its session.
// A placed call whose session cannot be written is still returned with the error,
// so callers know not to dial again. An undialable phone fails permanently.
func (o *Orchestrator) Initiate(ctx context.Context, lead leads.Lead) (Session, error) {
	if err := lead.Dialable(); err != nil {
		return Session{}, leads.E(leads.ClassCallInitiation, "calls: initiate",
			fmt.Errorf("%w: phone %q: %w", telephony.ErrPermanent, lead.Phone, err))
	}
	res, err := o.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:          lead.Phone,
		AnswerURL:   o.opt.PublicBaseURL + telephony.PathCallStart,
		StatusURL:   o.opt.PublicBaseURL + telephony.PathCallStatus,
		RingTimeout: o.opt.RingTimeout,
	})
	if err != nil {
		return Session{}, leads.E(leads.ClassCallInitiation, "calls: place call", err)
	}

	initiated := res.InitiatedAt
	if initiated.IsZero() {
		initiated = o.opt.Now()
	}
	sess := Session{
		CallID:      res.ProviderCallID,
		Lead:        lead,
		State:       StateInitiated,
		InitiatedAt: initiated,
	}

	raw, err := json.Marshal(lead)
	if err != nil {
		return sess, fmt.Errorf("calls: encode lead: %w", err)
	}
	err = o.store.PutFields(ctx, correlation.SessionKey(sess.CallID), map[string]string{
		fieldLead:        string(raw),
		fieldLeadKey:     lead.Key,
		fieldState:       string(StateInitiated),
		fieldQuestion:    "0",
		fieldInitiatedAt: formatTime(initiated),
	}, o.opt.SessionTTL)
	if err != nil {
		return sess, err
	}
	log := logger.From(ctx)
	if err := o.finalizer.ScheduleFinalize(ctx, sess.CallID, o.opt.RingTimeout+o.opt.MaxCallDuration); err != nil {
		log.Warn("call deadline not scheduled", "call_id", sess.CallID, "err", err)
	}
	err = o.store.PutFields(ctx, correlation.LeadKey(lead.Key), map[string]string{
		"call_id":           sess.CallID,
		"call_initiated_at": formatTime(initiated),
	}, o.opt.LeadStateTTL)
	if err != nil {
		return sess, err
	}

	log.Info("call initiated", "lead_key", lead.Key, "call_id", sess.CallID, "status", res.Status)
	return sess, nil
}

// Load returns the session for callID or ErrUnknownCall.
func (o *Orchestrator) Load(ctx context.Context, callID string) (Session, error) {
	if callID == "" {
		return Session{}, ErrUnknownCall
	}
	m, err := o.store.GetAll(ctx, correlation.SessionKey(callID))
	if err != nil {
		return Session{}, err
	}
	return sessionFromHash(callID, m)
}

// MarkFinalized closes the session and lets it expire.
func (o *Orchestrator) MarkFinalized(ctx context.Context, callID string, keep time.Duration) error {
	key := correlation.SessionKey(callID)
	if err := o.store.Put(ctx, key, fieldState, string(StateFinalized)); err != nil {
		return err
	}
	return o.store.Expire(ctx, key, keep)
}

// Answered greets the callee and asks the first question.
func (o *Orchestrator) Answered(ctx context.Context, callID string) (*telephony.Response, error) {
	sess, err := o.Load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess.State.Ended() {
		return o.closing(), nil
	}
	if sess.Question >= 1 {
		// redelivered answer callback
		return o.ask(sess.Question), nil
	}

	key := correlation.SessionKey(callID)
	if _, err := o.store.PutIfAbsent(ctx, key, fieldGreetedAt, formatTime(o.opt.Now())); err != nil {
		return nil, err
	}
	if err := o.advanceTo(ctx, key, 1); err != nil {
		return nil, err
	}
	logger.From(ctx).Info("call answered", "call_id", callID, "lead_key", sess.Lead.Key)

	res := telephony.NewResponse().Say(o.opt.Voice, o.opt.Script.GreetingFor(sess.Lead.Name))
	return o.gather(res, 1), nil
}

// Answer records the transcript for question q and moves on.
func (o *Orchestrator) Answer(ctx context.Context, callID string, q int, transcript string) (*telephony.Response, error) {
	sess, err := o.Load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess.State.Ended() {
		return o.closing(), nil
	}
	if q != sess.Question {
		return o.ask(sess.Question), nil
	}

	value := transcript
	if value == "" {
		value = leads.NotCaptured
		logger.From(ctx).Warn("empty transcript", "call_id", callID, "question", q,
			"class", leads.ClassTranscriptionGap)
	}
	if _, err := o.store.PutIfAbsent(ctx, correlation.SessionKey(callID), answerField(q), value); err != nil {
		return nil, err
	}
	return o.next(ctx, callID, q, telephony.NewResponse())
}

// Timeout re-asks question q once, then records it as not captured.
func (o *Orchestrator) Timeout(ctx context.Context, callID string, q int) (*telephony.Response, error) {
	sess, err := o.Load(ctx, callID)
	if err != nil {
		return nil, err
	}
	if sess.State.Ended() {
		return o.closing(), nil
	}
	if q != sess.Question {
		return o.ask(sess.Question), nil
	}

	key := correlation.SessionKey(callID)
	n, err := o.store.Incr(ctx, key, timeoutField(q))
	if err != nil {
		return nil, err
	}
	if n == 1 {
		res := telephony.NewResponse().Say(o.opt.Voice, o.opt.Script.RetryPrompt)
		return o.gather(res, q), nil
	}

	logger.From(ctx).Info("question skipped", "call_id", callID, "question", q,
		"class", leads.ClassTranscriptionGap)
	if _, err := o.store.PutIfAbsent(ctx, key, answerField(q), leads.NotCaptured); err != nil {
		return nil, err
	}
	res := telephony.NewResponse()
	if q < leads.NumQuestions {
		res.Say(o.opt.Voice, o.opt.Script.SkipPrompt)
	}
	return o.next(ctx, callID, q, res)
}

// StatusChanged records provider progress. On a terminal status the session is
// closed out and finalization is scheduled.
func (o *Orchestrator) StatusChanged(ctx context.Context, ev telephony.StatusEvent) error {
	log := logger.From(ctx)
	status := ParseProviderStatus(ev.Status)

	sess, err := o.Load(ctx, ev.ProviderCallID)
	if errors.Is(err, ErrUnknownCall) {
		log.Warn("status for unknown call", "call_id", ev.ProviderCallID, "status", status)
		return nil
	}
	if err != nil {
		return err
	}

	if !status.Terminal() {
		return o.store.Put(ctx, correlation.SessionKey(ev.ProviderCallID), fieldStatus, string(status))
	}

	fields := map[string]string{
		fieldStatus:   string(status),
		fieldDuration: strconv.Itoa(ev.DurationSeconds),
	}
	if sess.EndedAt.IsZero() {
		fields[fieldEndedAt] = formatTime(ev.OccurredAt)
	}
	if err := o.closeOut(ctx, sess, status, fields); err != nil {
		return err
	}

	log.Info("call ended", "call_id", ev.ProviderCallID, "lead_key", sess.Lead.Key,
		"status", status, "duration", ev.DurationSeconds, "greeted", sess.Greeted())

	if sess.State == StateFinalized {
		return nil
	}
	return o.finalizer.EnqueueFinalize(ctx, ev.ProviderCallID)
}

// ForceEnd closes out a call whose terminal status never arrived, as if the
// provider had reported its last known status, and returns the updated session.
func (o *Orchestrator) ForceEnd(ctx context.Context, callID string) (Session, error) {
	sess, err := o.Load(ctx, callID)
	if err != nil || sess.State.Ended() {
		return sess, err
	}
	status := sess.ProviderStatus
	if status == "" || !status.Terminal() {
		status = CallStatusNoAnswer
		if sess.Greeted() {
			status = CallStatusCompleted
		}
	}
	fields := map[string]string{fieldStatus: string(status)}
	if sess.EndedAt.IsZero() {
		fields[fieldEndedAt] = formatTime(o.opt.Now())
	}
	if err := o.closeOut(ctx, sess, status, fields); err != nil {
		return Session{}, err
	}
	logger.From(ctx).Warn("call closed without terminal status", "call_id", callID,
		"lead_key", sess.Lead.Key, "state", sess.State, "greeted", sess.Greeted())
	return o.Load(ctx, callID)
}

// closeOut fills unanswered questions with the placeholder and moves the
// session to its terminal state. A finalized session keeps its state.
func (o *Orchestrator) closeOut(ctx context.Context, sess Session, status CallStatus, fields map[string]string) error {
	key := correlation.SessionKey(sess.CallID)
	for i := 1; i <= leads.NumQuestions; i++ {
		if _, err := o.store.PutIfAbsent(ctx, key, answerField(i), leads.NotCaptured); err != nil {
			return err
		}
	}
	if sess.State != StateFinalized {
		switch {
		case sess.Greeted():
			fields[fieldState] = string(StateCompleting)
		case status == CallStatusFailed:
			fields[fieldState] = string(StateCallFailed)
		default:
			fields[fieldState] = string(StateNoAnswer)
		}
	}
	return o.store.PutFields(ctx, key, fields, 0)
}

// Fallback apologizes and hangs up.
func (o *Orchestrator) Fallback() *telephony.Response {
	return telephony.NewResponse().Say(o.opt.Voice, o.opt.Script.Fallback).Hangup()
}

// next advances past question q and appends the following prompt, or the closing, to res.
func (o *Orchestrator) next(ctx context.Context, callID string, q int, res *telephony.Response) (*telephony.Response, error) {
	key := correlation.SessionKey(callID)
	if q >= leads.NumQuestions {
		if err := o.store.PutFields(ctx, key, map[string]string{fieldState: string(StateCompleting)}, 0); err != nil {
			return nil, err
		}
		return res.Say(o.opt.Voice, o.opt.Script.Closing).Hangup(), nil
	}
	if err := o.advanceTo(ctx, key, q+1); err != nil {
		return nil, err
	}
	return o.gather(res, q+1), nil
}

func (o *Orchestrator) advanceTo(ctx context.Context, key string, q int) error {
	return o.store.PutFields(ctx, key, map[string]string{
		fieldState:    string(QuestionState(q)),
		fieldQuestion: strconv.Itoa(q),
	}, 0)
}

func (o *Orchestrator) ask(q int) *telephony.Response {
	if q < 1 {
		q = 1
	}
	return o.gather(telephony.NewResponse(), q)
}

func (o *Orchestrator) gather(res *telephony.Response, q int) *telephony.Response {
	return res.Gather(telephony.Gather{
		ActionURL: telephony.AnswerPath(q),
		Timeout:   o.opt.ListenTimeout,
		Language:  o.opt.Voice.Language,
		Prompt:    o.opt.Script.Question(q),
		Voice:     o.opt.Voice,
	}).Redirect(telephony.TimeoutPath(q))
}

func (o *Orchestrator) closing() *telephony.Response {
	return telephony.NewResponse().Say(o.opt.Voice, o.opt.Script.Closing).Hangup()
}
