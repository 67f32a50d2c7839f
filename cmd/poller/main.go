package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lead-qualifier/internal/alert"
	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/config"
	"lead-qualifier/internal/control"
	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/mailbox"
	"lead-qualifier/internal/queue"
	"lead-qualifier/pkg/logger"
	"lead-qualifier/pkg/utils"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateMailbox()
	}
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "poller")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 4})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	tasks := queue.NewClient(queue.RedisOpt(cfg), cfg.Queue)
	defer tasks.Close()

	p := mailbox.NewPoller(
		mailbox.NewIMAPMailbox(cfg.Mailbox),
		correlation.NewRedisStore(rdb),
		tasks,
		control.NewGate(rdb),
		alert.New(cfg, log),
		audit.NewService(audit.NewPostgresRepo(db)),
		mailbox.Options{
			SubjectFilter: cfg.Mailbox.SubjectFilter,
			Interval:      cfg.Mailbox.PollInterval,
			DedupTTL:      cfg.Session.DedupTTL,
			Region:        cfg.FollowUp.DefaultRegion,
		},
		log,
	)

	log.Info("poller started", "host", cfg.Mailbox.Host, "folder", cfg.Mailbox.Folder, "interval", cfg.Mailbox.PollInterval)
	if err := p.Run(rootCtx); err != nil {
		log.Error("poller stopped", "err", err)
		os.Exit(1)
	}
	log.Info("poller stopped")
}
