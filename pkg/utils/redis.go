package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisConfig sizes the client shared by the correlation store and the poller.
// Zero values take defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize int
	// IOTimeout applies to dial, read and write.
	IOTimeout time.Duration
	// ConnectWithin bounds how long OpenRedis keeps retrying the first ping.
	ConnectWithin time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 2 * time.Second
	}
	if c.ConnectWithin <= 0 {
		c.ConnectWithin = 30 * time.Second
	}
	return c
}

// OpenRedis connects and waits for a PING. Network failures are retried until
// ConnectWithin passes; a server reply error such as WRONGPASS is not.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.IOTimeout,
		ReadTimeout:     cfg.IOTimeout,
		WriteTimeout:    cfg.IOTimeout,
		PoolSize:        cfg.PoolSize,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = cfg.ConnectWithin
	err := backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.IOTimeout)
		defer cancel()
		err := rdb.Ping(pingCtx).Err()
		var reply redis.Error
		if errors.As(err, &reply) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
