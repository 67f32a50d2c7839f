package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"lead-qualifier/internal/config"
	"lead-qualifier/internal/leads"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	seen  map[string]bool
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id := o.Value().(string)
			if f.seen[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			f.seen[id] = true
		}
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func optionValue(opts []asynq.Option, typ asynq.OptionType) any {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	return nil
}

func TestEnqueueLead_DedupesByKey(t *testing.T) {
	fe := &fakeEnqueuer{}
	c := newClient(fe, config.QueueConfig{Name: "leads", MaxRetry: 3})
	lead := leads.Lead{Key: "msg:abc", Name: "Jane"}

	require.NoError(t, c.EnqueueLead(context.Background(), lead))
	require.NoError(t, c.EnqueueLead(context.Background(), lead))
	require.Len(t, fe.tasks, 1)

	assert.Equal(t, TaskProcessLead, fe.tasks[0].Type())
	assert.Equal(t, "process:msg:abc", optionValue(fe.opts[0], asynq.TaskIDOpt))
	assert.Equal(t, "leads", optionValue(fe.opts[0], asynq.QueueOpt))
	assert.Equal(t, 3, optionValue(fe.opts[0], asynq.MaxRetryOpt))

	payload, err := ParseProcessLeadPayload(fe.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "Jane", payload.Lead.Name)
}

func TestEnqueueFinalizeAndFollowup(t *testing.T) {
	fe := &fakeEnqueuer{}
	c := newClient(fe, config.QueueConfig{})
	assert.Equal(t, "default", c.Queue())

	require.NoError(t, c.EnqueueFinalize(context.Background(), "CA1"))
	require.NoError(t, c.EnqueueFinalize(context.Background(), "CA1"))
	require.NoError(t, c.EnqueueFollowup(context.Background(), FollowupSMSPayload{LeadKey: "msg:abc", Status: leads.StatusQualified}))
	require.Len(t, fe.tasks, 2)
	assert.Equal(t, "finalize:CA1", optionValue(fe.opts[0], asynq.TaskIDOpt))
	assert.Equal(t, "sms:msg:abc", optionValue(fe.opts[1], asynq.TaskIDOpt))
}

func TestScheduleFinalize_DelaysDeadlineTask(t *testing.T) {
	fe := &fakeEnqueuer{}
	c := newClient(fe, config.QueueConfig{})

	require.NoError(t, c.ScheduleFinalize(context.Background(), "CA1", 15*time.Minute))
	require.NoError(t, c.EnqueueFinalize(context.Background(), "CA1"))
	require.Len(t, fe.tasks, 2, "the deadline task does not collide with the status-driven one")

	assert.Equal(t, "finalize-deadline:CA1", optionValue(fe.opts[0], asynq.TaskIDOpt))
	assert.Equal(t, 15*time.Minute, optionValue(fe.opts[0], asynq.ProcessInOpt))
	payload, err := ParseFinalizeCallPayload(fe.tasks[0])
	require.NoError(t, err)
	assert.True(t, payload.Deadline)

	payload, err = ParseFinalizeCallPayload(fe.tasks[1])
	require.NoError(t, err)
	assert.False(t, payload.Deadline)
}

type errEnqueuer struct{ fakeEnqueuer }

func (e *errEnqueuer) EnqueueContext(context.Context, *asynq.Task, ...asynq.Option) (*asynq.TaskInfo, error) {
	return nil, errors.New("redis down")
}

func TestEnqueue_PropagatesOtherErrors(t *testing.T) {
	c := newClient(&errEnqueuer{}, config.QueueConfig{})
	assert.Error(t, c.EnqueueFinalize(context.Background(), "CA1"))
}

type recordingHandlers struct {
	leads     []leads.Lead
	attempts  []Attempt
	finalized []string
	followups []FollowupSMSPayload
}

func (r *recordingHandlers) ProcessLead(_ context.Context, p ProcessLeadPayload, a Attempt) error {
	r.leads = append(r.leads, p.Lead)
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *recordingHandlers) FinalizeCall(_ context.Context, p FinalizeCallPayload) error {
	r.finalized = append(r.finalized, p.CallID)
	return nil
}

func (r *recordingHandlers) SendFollowup(_ context.Context, p FollowupSMSPayload) error {
	r.followups = append(r.followups, p)
	return nil
}

func TestMuxRoutesTasks(t *testing.T) {
	h := &recordingHandlers{}
	mux := NewMux(h, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	task, err := NewProcessLeadTask(ProcessLeadPayload{Lead: leads.Lead{Key: "k"}})
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, task))

	task, err = NewFinalizeCallTask(FinalizeCallPayload{CallID: "CA1"})
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, task))

	task, err = NewFollowupSMSTask(FollowupSMSPayload{LeadKey: "k", Phone: "+15551234567"})
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, task))

	assert.Equal(t, "k", h.leads[0].Key)
	assert.Equal(t, []string{"CA1"}, h.finalized)
	assert.Equal(t, "+15551234567", h.followups[0].Phone)
	assert.True(t, h.attempts[0].Final(), "no retry metadata outside a worker means final")
}

func TestMuxBadPayloadSkipsRetry(t *testing.T) {
	mux := NewMux(&recordingHandlers{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := mux.ProcessTask(context.Background(), asynq.NewTask(TaskFinalizeCall, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestAttemptFinal(t *testing.T) {
	assert.False(t, Attempt{Retry: 1, MaxRetry: 3}.Final())
	assert.True(t, Attempt{Retry: 3, MaxRetry: 3}.Final())
}
