package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FallbackEntry is a row that could not reach the lead table.
type FallbackEntry struct {
	ID         string     `json:"id"`
	LeadKey    string     `json:"lead_key"`
	Fields     Fields     `json:"fields"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
}

// FallbackStore keeps rows locally until they can be replayed.
type FallbackStore interface {
	Save(ctx context.Context, e FallbackEntry) error
	Pending(ctx context.Context, limit int) ([]FallbackEntry, error)
	MarkReplayed(ctx context.Context, id string, at time.Time) error
}

func newFallbackEntry(f Fields, reason string, now time.Time) FallbackEntry {
	return FallbackEntry{
		ID:        uuid.NewString(),
		LeadKey:   f.LeadKey(),
		Fields:    f,
		Reason:    reason,
		CreatedAt: now.UTC(),
	}
}

// FallbackSchema creates the fallback table. Safe to run on every start.
const FallbackSchema = `
CREATE TABLE IF NOT EXISTS sink_fallback (
  id uuid PRIMARY KEY,
  lead_key text NOT NULL,
  fields jsonb NOT NULL,
  reason text NOT NULL,
  created_at timestamptz NOT NULL,
  replayed_at timestamptz
);
CREATE INDEX IF NOT EXISTS sink_fallback_pending_idx ON sink_fallback (created_at) WHERE replayed_at IS NULL;
`

// PostgresFallback stores entries in sink_fallback.
type PostgresFallback struct {
	db *sql.DB
}

func NewPostgresFallback(db *sql.DB) *PostgresFallback { return &PostgresFallback{db: db} }

func (p *PostgresFallback) Save(ctx context.Context, e FallbackEntry) error {
	raw, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("sink: encode fallback fields: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO sink_fallback (id, lead_key, fields, reason, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.LeadKey, raw, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("sink: save fallback: %w", err)
	}
	return nil
}

func (p *PostgresFallback) Pending(ctx context.Context, limit int) ([]FallbackEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, lead_key, fields, reason, created_at FROM sink_fallback
		 WHERE replayed_at IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("sink: list fallback: %w", err)
	}
	defer rows.Close()

	var out []FallbackEntry
	for rows.Next() {
		var e FallbackEntry
		var raw []byte
		if err := rows.Scan(&e.ID, &e.LeadKey, &raw, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &e.Fields); err != nil {
			return nil, fmt.Errorf("sink: decode fallback %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresFallback) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE sink_fallback SET replayed_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("sink: mark replayed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFallbackNotFound
	}
	return nil
}

var ErrFallbackNotFound = errors.New("sink: fallback entry not found")

// MemoryFallback is for tests and local runs without Postgres.
type MemoryFallback struct {
	mu      sync.Mutex
	entries map[string]FallbackEntry
}

func NewMemoryFallback() *MemoryFallback {
	return &MemoryFallback{entries: map[string]FallbackEntry{}}
}

func (m *MemoryFallback) Save(_ context.Context, e FallbackEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *MemoryFallback) Pending(_ context.Context, limit int) ([]FallbackEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FallbackEntry
	for _, e := range m.entries {
		if e.ReplayedAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryFallback) MarkReplayed(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrFallbackNotFound
	}
	e.ReplayedAt = &at
	m.entries[id] = e
	return nil
}
