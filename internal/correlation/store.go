// Package correlation is the shared, expiring state behind the pipeline:
// notification dedup marks and per-call session hashes.
// Every operation is a single atomic Redis command or MULTI block.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lead-qualifier/internal/leads"

	"github.com/redis/go-redis/v9"
)

// Store is the contract the poller, orchestrator and task handlers depend on.
type Store interface {
	// MarkIfNew sets key if absent and reports whether this caller set it.
	MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release removes a mark so a later attempt can claim it again.
	Release(ctx context.Context, key string) error

	Put(ctx context.Context, session, field, value string) error
	// PutFields writes fields and, when ttl > 0, resets the session expiry in the same transaction.
	PutFields(ctx context.Context, session string, fields map[string]string, ttl time.Duration) error
	// PutIfAbsent writes field only if unset and reports whether it did.
	PutIfAbsent(ctx context.Context, session, field, value string) (bool, error)
	Incr(ctx context.Context, session, field string) (int64, error)
	GetAll(ctx context.Context, session string) (map[string]string, error)
	Expire(ctx context.Context, session string, ttl time.Duration) error

	Ping(ctx context.Context) error
}

const (
	markPrefix    = "lq:mark:"
	sessionPrefix = "lq:"
)

// SessionKey names the hash holding one call's state.
func SessionKey(callID string) string { return "call_session:" + callID }

// LeadKey names the hash holding per-lead guards (call id, finalize and sms flags).
func LeadKey(correlationKey string) string { return "lead_state:" + correlationKey }

// DedupKey names the mark claimed when a notification is first seen.
func DedupKey(correlationKey string) string { return "processed_lead:" + correlationKey }

var ErrInvalidKey = errors.New("correlation: key is required")

// RedisStore implements Store on go-redis.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	ok, err := s.rdb.SetNX(ctx, markPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, unavailable("mark if new", err)
	}
	return ok, nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if err := s.rdb.Del(ctx, markPrefix+key).Err(); err != nil {
		return unavailable("release", err)
	}
	return nil
}

func (s *RedisStore) Put(ctx context.Context, session, field, value string) error {
	if session == "" || field == "" {
		return ErrInvalidKey
	}
	if err := s.rdb.HSet(ctx, sessionPrefix+session, field, value).Err(); err != nil {
		return unavailable("put", err)
	}
	return nil
}

func (s *RedisStore) PutFields(ctx context.Context, session string, fields map[string]string, ttl time.Duration) error {
	if session == "" {
		return ErrInvalidKey
	}
	if len(fields) == 0 && ttl <= 0 {
		return nil
	}
	key := sessionPrefix + session
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(fields) > 0 {
			args := make([]any, 0, len(fields)*2)
			for k, v := range fields {
				args = append(args, k, v)
			}
			p.HSet(ctx, key, args...)
		}
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable("put fields", err)
	}
	return nil
}

func (s *RedisStore) PutIfAbsent(ctx context.Context, session, field, value string) (bool, error) {
	if session == "" || field == "" {
		return false, ErrInvalidKey
	}
	ok, err := s.rdb.HSetNX(ctx, sessionPrefix+session, field, value).Result()
	if err != nil {
		return false, unavailable("put if absent", err)
	}
	return ok, nil
}

func (s *RedisStore) Incr(ctx context.Context, session, field string) (int64, error) {
	if session == "" || field == "" {
		return 0, ErrInvalidKey
	}
	n, err := s.rdb.HIncrBy(ctx, sessionPrefix+session, field, 1).Result()
	if err != nil {
		return 0, unavailable("incr", err)
	}
	return n, nil
}

func (s *RedisStore) GetAll(ctx context.Context, session string) (map[string]string, error) {
	if session == "" {
		return nil, ErrInvalidKey
	}
	m, err := s.rdb.HGetAll(ctx, sessionPrefix+session).Result()
	if err != nil {
		return nil, unavailable("get all", err)
	}
	return m, nil
}

func (s *RedisStore) Expire(ctx context.Context, session string, ttl time.Duration) error {
	if session == "" {
		return ErrInvalidKey
	}
	if err := s.rdb.Expire(ctx, sessionPrefix+session, ttl).Err(); err != nil {
		return unavailable("expire", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return leads.E(leads.ClassStoreUnavailable, fmt.Sprintf("correlation: %s", op), err)
}
