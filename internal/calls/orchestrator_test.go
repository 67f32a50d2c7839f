package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/leads"
	"lead-qualifier/internal/telephony"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	calls []telephony.PlaceCallRequest
	err   error
}

func (p *fakeProvider) Name() string                      { return "fake" }
func (p *fakeProvider) HealthCheck(context.Context) error { return nil }

func (p *fakeProvider) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return telephony.PlaceCallResult{}, p.err
	}
	return telephony.PlaceCallResult{ProviderCallID: "CA1", Status: "queued"}, nil
}

func (p *fakeProvider) SendSMS(context.Context, telephony.SendSMSRequest) (telephony.SendSMSResult, error) {
	return telephony.SendSMSResult{}, nil
}

type fakeFinalizer struct {
	ids       []string
	scheduled map[string]time.Duration
}

func (f *fakeFinalizer) EnqueueFinalize(_ context.Context, callID string) error {
	f.ids = append(f.ids, callID)
	return nil
}

func (f *fakeFinalizer) ScheduleFinalize(_ context.Context, callID string, after time.Duration) error {
	if f.scheduled == nil {
		f.scheduled = map[string]time.Duration{}
	}
	f.scheduled[callID] = after
	return nil
}

var testNow = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

func newOrchestrator(t *testing.T) (*Orchestrator, *fakeProvider, *fakeFinalizer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := &fakeProvider{}
	f := &fakeFinalizer{}
	o := NewOrchestrator(correlation.NewRedisStore(rdb), p, f, Options{
		PublicBaseURL: "https://leads.example.com",
		Voice:         telephony.Voice{Name: "Polly.Matthew-Neural", Language: "en-US"},
		Script:        DefaultScript("Mesh Cowork"),
		Now:           func() time.Time { return testNow },
	})
	return o, p, f, mr
}

func testLead() leads.Lead {
	return leads.Lead{Key: "msg:abc@x", Name: "Jane", Phone: "+15551234567", Email: "jane@example.com"}
}

func TestInitiate_PlacesCallAndOpensSession(t *testing.T) {
	o, p, _, mr := newOrchestrator(t)
	ctx := context.Background()

	sess, err := o.Initiate(ctx, testLead())
	require.NoError(t, err)
	assert.Equal(t, "CA1", sess.CallID)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "+15551234567", p.calls[0].To)
	assert.Equal(t, "https://leads.example.com/webhooks/twilio/call-start", p.calls[0].AnswerURL)
	assert.Equal(t, "https://leads.example.com/webhooks/twilio/call-status", p.calls[0].StatusURL)

	loaded, err := o.Load(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, StateInitiated, loaded.State)
	assert.Equal(t, "Jane", loaded.Lead.Name)
	assert.True(t, loaded.InitiatedAt.Equal(testNow))

	assert.Equal(t, "CA1", mr.HGet("lq:lead_state:msg:abc@x", "call_id"))
	assert.True(t, mr.TTL("lq:call_session:CA1") > 0)
	assert.Equal(t, 7*24*time.Hour, mr.TTL("lq:lead_state:msg:abc@x"))
}

func TestInitiate_SchedulesCallDeadline(t *testing.T) {
	o, _, fin, _ := newOrchestrator(t)

	_, err := o.Initiate(context.Background(), testLead())
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Duration{"CA1": 30*time.Second + 15*time.Minute}, fin.scheduled)
	assert.Empty(t, fin.ids)
}

func TestInitiate_UndialablePhoneIsPermanent(t *testing.T) {
	o, p, fin, _ := newOrchestrator(t)
	lead := testLead()
	lead.Phone = "555-1234"

	_, err := o.Initiate(context.Background(), lead)
	require.Error(t, err)
	assert.True(t, telephony.IsPermanent(err))
	assert.Equal(t, leads.ClassCallInitiation, leads.ClassOf(err))
	assert.Empty(t, p.calls)
	assert.Empty(t, fin.scheduled)
}

func TestInitiate_ProviderErrorIsClassified(t *testing.T) {
	o, p, _, _ := newOrchestrator(t)
	p.err = errors.New("boom")

	_, err := o.Initiate(context.Background(), testLead())
	require.Error(t, err)
	assert.Equal(t, leads.ClassCallInitiation, leads.ClassOf(err))
}

func TestFullConversation(t *testing.T) {
	o, _, fin, _ := newOrchestrator(t)
	ctx := context.Background()
	_, err := o.Initiate(ctx, testLead())
	require.NoError(t, err)

	res, err := o.Answered(ctx, "CA1")
	require.NoError(t, err)
	xml := res.String()
	assert.Contains(t, xml, "Hello Jane, this is Mesh Cowork")
	assert.Contains(t, xml, "/webhooks/twilio/answer/1")
	assert.Contains(t, xml, "/webhooks/twilio/timeout/1")

	answers := []string{"five years", "ten people", "yes we have clients", "about 2000 dollars", "private office"}
	for i, a := range answers {
		res, err = o.Answer(ctx, "CA1", i+1, a)
		require.NoError(t, err)
	}
	assert.Contains(t, res.String(), "Thank you for answering")
	assert.Contains(t, res.String(), "<Hangup>")

	sess, err := o.Load(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleting, sess.State)
	assert.Equal(t, "about 2000 dollars", sess.Answers[3])

	require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA1", Status: "completed", DurationSeconds: 95, OccurredAt: testNow}))
	assert.Equal(t, []string{"CA1"}, fin.ids)

	sess, err = o.Load(ctx, "CA1")
	require.NoError(t, err)
	assert.Equal(t, 95, sess.DurationSeconds)
	assert.Equal(t, CallStatusCompleted, sess.ProviderStatus)
}

func TestAnswer_StaleOrDuplicateDoesNotOverwrite(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)
	ctx := context.Background()
	_, _ = o.Initiate(ctx, testLead())
	_, _ = o.Answered(ctx, "CA1")

	_, err := o.Answer(ctx, "CA1", 1, "two years")
	require.NoError(t, err)

	res, err := o.Answer(ctx, "CA1", 1, "twenty years")
	require.NoError(t, err)
	assert.Contains(t, res.String(), "/webhooks/twilio/answer/2")

	sess, _ := o.Load(ctx, "CA1")
	assert.Equal(t, "two years", sess.Answers[0])
	assert.Equal(t, 2, sess.Question)
}

func TestAnswer_EmptyTranscriptIsNotCaptured(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)
	ctx := context.Background()
	_, _ = o.Initiate(ctx, testLead())
	_, _ = o.Answered(ctx, "CA1")

	_, err := o.Answer(ctx, "CA1", 1, "")
	require.NoError(t, err)
	sess, _ := o.Load(ctx, "CA1")
	assert.Equal(t, leads.NotCaptured, sess.Answers[0])
}

func TestTimeout_RepromptsOnceThenSkips(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)
	ctx := context.Background()
	_, _ = o.Initiate(ctx, testLead())
	_, _ = o.Answered(ctx, "CA1")

	res, err := o.Timeout(ctx, "CA1", 1)
	require.NoError(t, err)
	assert.Contains(t, res.String(), "I didn&#39;t catch that")
	assert.Contains(t, res.String(), "/webhooks/twilio/answer/1")

	res, err = o.Timeout(ctx, "CA1", 1)
	require.NoError(t, err)
	assert.Contains(t, res.String(), "/webhooks/twilio/answer/2")

	sess, _ := o.Load(ctx, "CA1")
	assert.Equal(t, leads.NotCaptured, sess.Answers[0])
	assert.Equal(t, QuestionState(2), sess.State)
}

func TestTimeout_LastQuestionCloses(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)
	ctx := context.Background()
	_, _ = o.Initiate(ctx, testLead())
	_, _ = o.Answered(ctx, "CA1")
	for q := 1; q <= 4; q++ {
		_, err := o.Answer(ctx, "CA1", q, "x")
		require.NoError(t, err)
	}
	_, _ = o.Timeout(ctx, "CA1", 5)
	res, err := o.Timeout(ctx, "CA1", 5)
	require.NoError(t, err)
	assert.Contains(t, res.String(), "<Hangup>")

	sess, _ := o.Load(ctx, "CA1")
	assert.Equal(t, StateCompleting, sess.State)
}

func TestStatusChanged_HangupMidCallFillsNotCaptured(t *testing.T) {
	o, _, fin, _ := newOrchestrator(t)
	ctx := context.Background()
	_, _ = o.Initiate(ctx, testLead())
	_, _ = o.Answered(ctx, "CA1")
	_, _ = o.Answer(ctx, "CA1", 1, "three years")

	require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA1", Status: "completed", DurationSeconds: 20, OccurredAt: testNow}))

	sess, _ := o.Load(ctx, "CA1")
	assert.Equal(t, StateCompleting, sess.State)
	assert.Equal(t, "three years", sess.Answers[0])
	for i := 1; i < leads.NumQuestions; i++ {
		assert.Equal(t, leads.NotCaptured, sess.Answers[i])
	}
	assert.Len(t, fin.ids, 1)
}

func TestStatusChanged_BeforeGreeting(t *testing.T) {
	cases := map[string]State{
		"no-answer": StateNoAnswer,
		"busy":      StateNoAnswer,
		"completed": StateNoAnswer,
		"failed":    StateCallFailed,
	}
	for status, want := range cases {
		t.Run(status, func(t *testing.T) {
			o, _, fin, _ := newOrchestrator(t)
			ctx := context.Background()
			_, _ = o.Initiate(ctx, testLead())

			require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA1", Status: status, OccurredAt: testNow}))
			sess, _ := o.Load(ctx, "CA1")
			assert.Equal(t, want, sess.State)
			assert.True(t, sess.Answers.AllNotCaptured())
			for _, a := range sess.Answers {
				assert.Equal(t, leads.NotCaptured, a, "every answer carries the placeholder")
			}
			assert.Len(t, fin.ids, 1)
		})
	}
}

func TestForceEnd(t *testing.T) {
	t.Run("mid-call", func(t *testing.T) {
		o, _, _, _ := newOrchestrator(t)
		ctx := context.Background()
		_, _ = o.Initiate(ctx, testLead())
		_, _ = o.Answered(ctx, "CA1")
		_, _ = o.Answer(ctx, "CA1", 1, "three years")

		sess, err := o.ForceEnd(ctx, "CA1")
		require.NoError(t, err)
		assert.Equal(t, StateCompleting, sess.State)
		assert.Equal(t, CallStatusCompleted, sess.ProviderStatus)
		assert.Equal(t, "three years", sess.Answers[0])
		assert.Equal(t, leads.NotCaptured, sess.Answers[4])
		assert.True(t, sess.EndedAt.Equal(testNow))
	})
	t.Run("never answered", func(t *testing.T) {
		o, _, _, _ := newOrchestrator(t)
		ctx := context.Background()
		_, _ = o.Initiate(ctx, testLead())
		require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA1", Status: "ringing"}))

		sess, err := o.ForceEnd(ctx, "CA1")
		require.NoError(t, err)
		assert.Equal(t, StateNoAnswer, sess.State)
		assert.Equal(t, CallStatusNoAnswer, sess.ProviderStatus)
	})
	t.Run("already ended", func(t *testing.T) {
		o, _, _, _ := newOrchestrator(t)
		ctx := context.Background()
		_, _ = o.Initiate(ctx, testLead())
		require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA1", Status: "busy", OccurredAt: testNow}))

		sess, err := o.ForceEnd(ctx, "CA1")
		require.NoError(t, err)
		assert.Equal(t, StateNoAnswer, sess.State)
		assert.Equal(t, CallStatusBusy, sess.ProviderStatus)
	})
}

func TestStatusChanged_NonTerminalAndUnknown(t *testing.T) {
	o, _, fin, _ := newOrchestrator(t)
	ctx := context.Background()
	_, _ = o.Initiate(ctx, testLead())

	require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA1", Status: "ringing"}))
	sess, _ := o.Load(ctx, "CA1")
	assert.Equal(t, CallStatusRinging, sess.ProviderStatus)
	assert.Equal(t, StateInitiated, sess.State)

	require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA-missing", Status: "completed"}))
	assert.Empty(t, fin.ids)
}

func TestAnswered_UnknownCall(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)
	_, err := o.Answered(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownCall)
	assert.Contains(t, o.Fallback().String(), "technical difficulties")
}

func TestMarkFinalized(t *testing.T) {
	o, _, fin, mr := newOrchestrator(t)
	ctx := context.Background()
	_, _ = o.Initiate(ctx, testLead())

	require.NoError(t, o.MarkFinalized(ctx, "CA1", time.Hour))
	assert.Equal(t, time.Hour, mr.TTL("lq:call_session:CA1"))

	require.NoError(t, o.StatusChanged(ctx, telephony.StatusEvent{ProviderCallID: "CA1", Status: "completed"}))
	assert.Empty(t, fin.ids)
	sess, _ := o.Load(ctx, "CA1")
	assert.Equal(t, StateFinalized, sess.State)
}
