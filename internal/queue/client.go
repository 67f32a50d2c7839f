package queue

import (
	"context"
	"errors"
	"time"

	"lead-qualifier/internal/config"
	"lead-qualifier/internal/leads"

	"github.com/hibiken/asynq"
)

// Task ids stay reserved this long after completion so redelivered
// notifications and webhooks cannot enqueue the same work twice.
const defaultRetention = 24 * time.Hour

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type Client struct {
	client    enqueuer
	inspector *asynq.Inspector
	queue     string
	maxRetry  int
	retention time.Duration
}

// RedisOpt builds the asynq connection from the shared redis settings.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
	}
}

func NewClient(opt asynq.RedisConnOpt, cfg config.QueueConfig) *Client {
	c := newClient(asynq.NewClient(opt), cfg)
	c.inspector = asynq.NewInspector(opt)
	return c
}

func newClient(e enqueuer, cfg config.QueueConfig) *Client {
	queue := cfg.Name
	if queue == "" {
		queue = "default"
	}
	maxRetry := cfg.MaxRetry
	if maxRetry < 0 {
		maxRetry = 0
	}
	return &Client{client: e, queue: queue, maxRetry: maxRetry, retention: defaultRetention}
}

func (c *Client) Queue() string { return c.queue }

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.inspector != nil {
		_ = c.inspector.Close()
	}
	return c.client.Close()
}

// EnqueueLead schedules the call for a parsed lead, at most once per lead key.
func (c *Client) EnqueueLead(ctx context.Context, lead leads.Lead) error {
	task, err := NewProcessLeadTask(ProcessLeadPayload{Lead: lead})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "process:"+lead.Key)
}

// EnqueueFinalize implements calls.FinalizeEnqueuer.
func (c *Client) EnqueueFinalize(ctx context.Context, callID string) error {
	task, err := NewFinalizeCallTask(FinalizeCallPayload{CallID: callID})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "finalize:"+callID)
}

// ScheduleFinalize implements calls.FinalizeEnqueuer.
func (c *Client) ScheduleFinalize(ctx context.Context, callID string, after time.Duration) error {
	task, err := NewFinalizeCallTask(FinalizeCallPayload{CallID: callID, Deadline: true})
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "finalize-deadline:"+callID, asynq.ProcessIn(after))
}

func (c *Client) EnqueueFollowup(ctx context.Context, payload FollowupSMSPayload) error {
	task, err := NewFollowupSMSTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, "sms:"+payload.LeadKey)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, id string, extra ...asynq.Option) error {
	opts := append([]asynq.Option{
		asynq.TaskID(id),
		asynq.Queue(c.queue),
		asynq.MaxRetry(c.maxRetry),
		asynq.Retention(c.retention),
	}, extra...)
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

// Stats is a snapshot of the lead queue for the status endpoint.
type Stats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
}

func (c *Client) Stats() (Stats, error) {
	if c.inspector == nil {
		return Stats{Queue: c.queue}, nil
	}
	info, err := c.inspector.GetQueueInfo(c.queue)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return Stats{Queue: c.queue}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Queue:     info.Queue,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Paused:    info.Paused,
	}, nil
}
