package sink

import (
	"context"
	"fmt"
	"time"

	"lead-qualifier/internal/alert"
	"lead-qualifier/internal/leads"
	"lead-qualifier/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// Outcome says where a row ended up.
type Outcome string

const (
	OutcomeWritten  Outcome = "written"
	OutcomeFallback Outcome = "fallback"
)

// Writer retries transient table failures with exponential backoff. When the
// budget runs out the row goes to the fallback store and operators are alerted.
type Writer struct {
	table    Upserter
	fallback FallbackStore
	alerter  alert.Alerter

	maxAttempts int
	newBackOff  func() backoff.BackOff
	now         func() time.Time
}

func NewWriter(table Upserter, fallback FallbackStore, alerter alert.Alerter, maxAttempts int) *Writer {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &Writer{
		table:       table,
		fallback:    fallback,
		alerter:     alerter,
		maxAttempts: maxAttempts,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		now: time.Now,
	}
}

// WriteRecord upserts the finalized record for a lead.
func (w *Writer) WriteRecord(ctx context.Context, r leads.Record) (Outcome, error) {
	return w.Write(ctx, RecordFields(r))
}

// MarkSMSSent applies the follow-up timestamp to an existing row.
func (w *Writer) MarkSMSSent(ctx context.Context, leadKey string, at time.Time) (Outcome, error) {
	return w.Write(ctx, SMSSentFields(leadKey, at))
}

// Write returns an error only when the row reached neither the table nor the fallback.
func (w *Writer) Write(ctx context.Context, f Fields) (Outcome, error) {
	log := logger.From(ctx)

	err := w.upsert(ctx, f)
	if err == nil {
		return OutcomeWritten, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	log.Error("lead table write failed", "lead_key", f.LeadKey(), "class", leads.ClassSinkWrite, "err", err)
	if ferr := w.fallback.Save(ctx, newFallbackEntry(f, err.Error(), w.now())); ferr != nil {
		w.raise(ctx, f.LeadKey(), fmt.Sprintf("table write failed: %v; fallback write failed: %v", err, ferr))
		return "", leads.E(leads.ClassSinkWrite, "sink: write", fmt.Errorf("%w (fallback: %v)", err, ferr))
	}
	w.raise(ctx, f.LeadKey(), fmt.Sprintf("table write failed, row kept in fallback store: %v", err))
	return OutcomeFallback, nil
}

func (w *Writer) upsert(ctx context.Context, f Fields) error {
	if err := f.Check(); err != nil {
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), uint64(w.maxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := w.table.Upsert(ctx, f)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (w *Writer) raise(ctx context.Context, leadKey, detail string) {
	if w.alerter == nil {
		return
	}
	err := w.alerter.Alert(ctx, alert.Alert{
		Class:   leads.ClassSinkWrite,
		Subject: "lead table write failed",
		Detail:  detail,
		LeadKey: leadKey,
		At:      w.now(),
	})
	if err != nil {
		logger.From(ctx).Error("alert failed", "err", err)
	}
}

// Replay pushes pending fallback rows to the table, oldest first.
// It stops at the first failure so rows stay ordered.
func (w *Writer) Replay(ctx context.Context, limit int) (int, error) {
	entries, err := w.fallback.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := w.upsert(ctx, e.Fields); err != nil {
			return n, fmt.Errorf("sink: replay %s: %w", e.ID, err)
		}
		if err := w.fallback.MarkReplayed(ctx, e.ID, w.now()); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
