package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead-qualifier/internal/alert"
	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/calls"
	"lead-qualifier/internal/config"
	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/pipeline"
	"lead-qualifier/internal/queue"
	"lead-qualifier/internal/sink"
	"lead-qualifier/internal/telephony"
	"lead-qualifier/pkg/logger"
	"lead-qualifier/pkg/utils"

	"golang.org/x/sync/errgroup"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateWorker()
	}
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "worker")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := utils.EnsureSchema(rootCtx, db, audit.Schema, sink.FallbackSchema); err != nil {
		log.Error("schema init failed", "err", err)
		os.Exit(1)
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	provider, err := telephony.NewTwilioProvider(cfg.Twilio, httpClient)
	if err != nil {
		log.Error("twilio init failed", "err", err)
		os.Exit(1)
	}
	table, err := sink.NewAirtableClient(cfg.Airtable, httpClient)
	if err != nil {
		log.Error("airtable init failed", "err", err)
		os.Exit(1)
	}

	tasks := queue.NewClient(queue.RedisOpt(cfg), cfg.Queue)
	defer tasks.Close()

	alerter := alert.New(cfg, log)
	activity := audit.NewService(audit.NewPostgresRepo(db))
	store := correlation.NewRedisStore(rdb)
	writer := sink.NewWriter(table, sink.NewPostgresFallback(db), alerter, cfg.Airtable.MaxAttempts)

	orchestrator := calls.NewOrchestrator(store, provider, tasks, calls.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
		Voice:         telephony.Voice{Name: cfg.Twilio.Voice, Language: cfg.Twilio.Language},
		ListenTimeout: cfg.Twilio.ListenTimeout,
		SessionTTL:    cfg.Session.SessionTTL,
		Script:        calls.DefaultScript(cfg.FollowUp.Brand),

		LeadStateTTL:    cfg.Session.DedupTTL,
		MaxCallDuration: cfg.Session.MaxCallDuration,
	})
	handlers := pipeline.NewHandlers(store, orchestrator, writer, tasks, provider, activity, alerter, pipeline.Options{
		PublicBaseURL: cfg.App.PublicBaseURL,
		BookingLink:   cfg.FollowUp.BookingLink,
		Brand:         cfg.FollowUp.Brand,
		ClaimTTL:      cfg.Session.DedupTTL,
	})

	server := queue.NewServer(queue.RedisOpt(cfg), cfg.Queue, handlers, log)

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info("worker started", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency)
		return server.Run(ctx)
	})
	g.Go(func() error {
		replayLoop(ctx, writer, cfg.Airtable.ReplayInterval, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "err", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// replayLoop retries rows that were parked in the fallback store while the table was down.
func replayLoop(ctx context.Context, w *sink.Writer, every time.Duration, log *slog.Logger) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		n, err := w.Replay(ctx, 100)
		if n > 0 || err != nil {
			log.Info("fallback replay", "replayed", n, "err", err)
		}
	}
}
