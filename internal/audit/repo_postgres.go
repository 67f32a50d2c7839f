package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"lead-qualifier/internal/leads"
)

// Schema creates the activity table. Safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS agent_activity (
  id uuid PRIMARY KEY,
  type text NOT NULL,
  lead_key text, lead_name text, lead_phone text, call_id text,
  status text NOT NULL,
  error_class text,
  speed_to_lead_seconds integer NOT NULL DEFAULT 0,
  actor text,
  message text,
  created_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS agent_activity_created_idx ON agent_activity (created_at DESC);
CREATE INDEX IF NOT EXISTS agent_activity_lead_idx ON agent_activity (lead_key, type);
`

// PostgresRepo stores events in agent_activity. Rows are never updated.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agent_activity
		  (id, type, lead_key, lead_name, lead_phone, call_id, status, error_class, speed_to_lead_seconds, actor, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, string(e.Type), e.LeadKey, e.LeadName, e.LeadPhone, e.CallID, e.Status,
		string(e.ErrorClass), e.SpeedToLeadSeconds, e.Actor, e.Message, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Event, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.LeadKey != "" {
		add("lead_key = $%d", f.LeadKey)
	}

	q := `SELECT id, type, lead_key, lead_name, lead_phone, call_id, status, error_class,
	             speed_to_lead_seconds, actor, message, created_at
	      FROM agent_activity`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		var typ, class string
		if err := rows.Scan(&e.ID, &typ, &e.LeadKey, &e.LeadName, &e.LeadPhone, &e.CallID, &e.Status,
			&class, &e.SpeedToLeadSeconds, &e.Actor, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.ErrorClass = leads.Class(class)
		out = append(out, e)
	}
	return out, rows.Err()
}
