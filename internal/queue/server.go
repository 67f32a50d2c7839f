package queue

import (
	"context"
	"fmt"
	"log/slog"

	"lead-qualifier/internal/config"
	"lead-qualifier/pkg/logger"

	"github.com/hibiken/asynq"
)

// Attempt describes where a task is in its retry budget.
type Attempt struct {
	Retry    int
	MaxRetry int
}

// Final reports whether a failure now will not be retried.
func (a Attempt) Final() bool { return a.Retry >= a.MaxRetry }

func attemptFrom(ctx context.Context) Attempt {
	retry, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return Attempt{Retry: retry, MaxRetry: maxRetry}
}

// Handlers is the work the worker process performs.
type Handlers interface {
	ProcessLead(ctx context.Context, payload ProcessLeadPayload, attempt Attempt) error
	FinalizeCall(ctx context.Context, payload FinalizeCallPayload) error
	SendFollowup(ctx context.Context, payload FollowupSMSPayload) error
}

// SkipRetry marks err as not worth retrying.
func SkipRetry(err error) error {
	return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
}

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

func NewServer(opt asynq.RedisConnOpt, cfg config.QueueConfig, h Handlers, log *slog.Logger) *Server {
	queue := cfg.Name
	if queue == "" {
		queue = "default"
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			a := attemptFrom(ctx)
			log.Error("task failed", "type", task.Type(), "retry", a.Retry, "max_retry", a.MaxRetry, "err", err)
		}),
	})

	return &Server{server: server, mux: NewMux(h, log), log: log}
}

// NewMux routes task types to h. Each handler gets a logger scoped to the task.
func NewMux(h Handlers, log *slog.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			l := log.With("task", task.Type())
			if id, ok := asynq.GetTaskID(ctx); ok {
				l = l.With("task_id", id)
			}
			return next.ProcessTask(logger.With(ctx, l), task)
		})
	})

	mux.HandleFunc(TaskProcessLead, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseProcessLeadPayload(task)
		if err != nil {
			return SkipRetry(err)
		}
		return h.ProcessLead(ctx, payload, attemptFrom(ctx))
	})
	mux.HandleFunc(TaskFinalizeCall, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseFinalizeCallPayload(task)
		if err != nil {
			return SkipRetry(err)
		}
		return h.FinalizeCall(ctx, payload)
	})
	mux.HandleFunc(TaskFollowupSMS, func(ctx context.Context, task *asynq.Task) error {
		payload, err := ParseFollowupSMSPayload(task)
		if err != nil {
			return SkipRetry(err)
		}
		return h.SendFollowup(ctx, payload)
	})
	return mux
}

// Run processes tasks until ctx is canceled, then waits for in-flight tasks.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		s.log.Error("queue worker failed to start", "err", err)
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
