// Package control holds the operator switches shared by all processes.
// Pausing only stops new leads from being accepted; calls in flight finish.
package control

import (
	"context"
	"errors"
	"strings"
	"time"

	"lead-qualifier/internal/leads"

	"github.com/redis/go-redis/v9"
)

const (
	pausedKey   = "lq:agent:paused"
	lastPollKey = "lq:agent:last_poll"
)

type Command string

const (
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
)

var ErrUnknownCommand = errors.New("control: unknown command")

type Status struct {
	Paused   bool       `json:"paused"`
	PausedBy string     `json:"paused_by,omitempty"`
	PausedAt *time.Time `json:"paused_at,omitempty"`
	LastPoll *time.Time `json:"last_poll,omitempty"`
}

type Gate struct {
	rdb redis.UniversalClient
	now func() time.Time
}

func NewGate(rdb redis.UniversalClient) *Gate {
	return &Gate{rdb: rdb, now: time.Now}
}

func (g *Gate) Paused(ctx context.Context) (bool, error) {
	n, err := g.rdb.Exists(ctx, pausedKey).Result()
	if err != nil {
		return false, leads.E(leads.ClassStoreUnavailable, "control: paused", err)
	}
	return n > 0, nil
}

// Apply runs an operator command.
func (g *Gate) Apply(ctx context.Context, cmd Command, actor string) error {
	switch cmd {
	case CommandPause:
		v := actor + "|" + g.now().UTC().Format(time.RFC3339)
		if err := g.rdb.Set(ctx, pausedKey, v, 0).Err(); err != nil {
			return leads.E(leads.ClassStoreUnavailable, "control: pause", err)
		}
	case CommandResume:
		if err := g.rdb.Del(ctx, pausedKey).Err(); err != nil {
			return leads.E(leads.ClassStoreUnavailable, "control: resume", err)
		}
	default:
		return ErrUnknownCommand
	}
	return nil
}

// Heartbeat records that the poller completed a cycle.
func (g *Gate) Heartbeat(ctx context.Context) error {
	if err := g.rdb.Set(ctx, lastPollKey, g.now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return leads.E(leads.ClassStoreUnavailable, "control: heartbeat", err)
	}
	return nil
}

func (g *Gate) Status(ctx context.Context) (Status, error) {
	vals, err := g.rdb.MGet(ctx, pausedKey, lastPollKey).Result()
	if err != nil {
		return Status{}, leads.E(leads.ClassStoreUnavailable, "control: status", err)
	}
	var st Status
	if s, ok := vals[0].(string); ok {
		st.Paused = true
		by, at, _ := strings.Cut(s, "|")
		st.PausedBy = by
		if t, err := time.Parse(time.RFC3339, at); err == nil {
			st.PausedAt = &t
		}
	}
	if s, ok := vals[1].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			st.LastPoll = &t
		}
	}
	return st, nil
}
