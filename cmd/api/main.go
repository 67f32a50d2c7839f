package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/auth"
	"lead-qualifier/internal/calls"
	"lead-qualifier/internal/config"
	"lead-qualifier/internal/control"
	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/httpapi"
	"lead-qualifier/internal/queue"
	"lead-qualifier/internal/reporting"
	"lead-qualifier/internal/sink"
	"lead-qualifier/internal/telephony"
	"lead-qualifier/pkg/logger"
	"lead-qualifier/pkg/utils"

	"github.com/gin-gonic/gin"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateAPI()
	}
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

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

	tasks := queue.NewClient(queue.RedisOpt(cfg), cfg.Queue)
	defer tasks.Close()

	provider, err := telephony.NewTwilioProvider(cfg.Twilio, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		log.Error("twilio init failed", "err", err)
		os.Exit(1)
	}

	store := correlation.NewRedisStore(rdb)
	activityRepo := audit.NewPostgresRepo(db)
	deps := routeDeps{
		cfg: cfg,
		flow: calls.NewOrchestrator(store, provider, tasks, calls.Options{
			PublicBaseURL: cfg.App.PublicBaseURL,
			Voice:         telephony.Voice{Name: cfg.Twilio.Voice, Language: cfg.Twilio.Language},
			ListenTimeout: cfg.Twilio.ListenTimeout,
			SessionTTL:    cfg.Session.SessionTTL,
			Script:        calls.DefaultScript(cfg.FollowUp.Brand),
		}),
		ops: httpapi.Handlers{
			Store:    store,
			Gate:     control.NewGate(rdb),
			Queue:    tasks,
			Leads:    tasks,
			Activity: audit.NewService(activityRepo),
			Reports:  reporting.NewService(activityRepo),
			Region:   cfg.FollowUp.DefaultRegion,
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, deps, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
