// Command leadctl is the operator CLI: mint ops tokens, check how a
// notification parses, push a lead by hand, and drain the sink fallback.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lead-qualifier/internal/config"
	"lead-qualifier/pkg/logger"
	"lead-qualifier/pkg/utils"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// app holds lazily opened dependencies. Commands open only what they use.
type app struct {
	cfg config.Config
	log *slog.Logger
	db  *sql.DB
	rdb *redis.Client
}

func (a *app) config() (config.Config, error) {
	if a.cfg.App.Env != "" {
		return a.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	a.cfg = cfg
	a.log = logger.New(cfg.App.Env, "leadctl")
	return cfg, nil
}

func (a *app) postgres(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	return rdb, nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "leadctl",
		Short:         "Operate the lead qualification pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(tokenCommand(a))
	root.AddCommand(parseCommand())
	root.AddCommand(enqueueCommand(a))
	root.AddCommand(replayCommand(a))
	root.AddCommand(reportCommand(a))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{log: slog.Default()}
	err := newRootCommand(a).ExecuteContext(ctx)
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
