// Package mailbox turns lead-notification emails into queued calls.
package mailbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lead-qualifier/internal/alert"
	"lead-qualifier/internal/audit"
	"lead-qualifier/internal/correlation"
	"lead-qualifier/internal/leads"
)

// Mailbox is the source of lead notifications.
type Mailbox interface {
	ListUnread(ctx context.Context, subjectFilter string) ([]leads.Notification, error)
	MarkRead(ctx context.Context, uid int) error
}

type Enqueuer interface {
	EnqueueLead(ctx context.Context, lead leads.Lead) error
}

// Gate reports whether operators paused lead intake.
type Gate interface {
	Paused(ctx context.Context) (bool, error)
	Heartbeat(ctx context.Context) error
}

type Options struct {
	SubjectFilter string
	Interval      time.Duration
	DedupTTL      time.Duration
	Region        string
}

type Poller struct {
	mailbox  Mailbox
	store    correlation.Store
	queue    Enqueuer
	gate     Gate
	alerter  alert.Alerter
	activity *audit.Service
	opt      Options
	log      *slog.Logger
}

func NewPoller(mb Mailbox, store correlation.Store, queue Enqueuer, gate Gate, alerter alert.Alerter, activity *audit.Service, opt Options, log *slog.Logger) *Poller {
	if opt.Interval <= 0 {
		opt.Interval = 30 * time.Second
	}
	if opt.DedupTTL <= 0 {
		opt.DedupTTL = 7 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{mailbox: mb, store: store, queue: queue, gate: gate, alerter: alerter, activity: activity, opt: opt, log: log}
}

// Result counts what one poll did.
type Result struct {
	Seen        int
	Enqueued    int
	Duplicates  int
	ParseErrors int
	Failed      int
	Paused      bool
}

// Run polls immediately and then every Interval until ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.opt.Interval)
	defer t.Stop()
	for {
		res, err := p.PollOnce(ctx)
		if err != nil {
			p.log.Error("poll failed", "err", err)
		} else if res.Seen > 0 {
			p.log.Info("poll complete", "seen", res.Seen, "enqueued", res.Enqueued,
				"duplicates", res.Duplicates, "parse_errors", res.ParseErrors, "failed", res.Failed)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// PollOnce processes every unread matching message. A failure on one message
// never stops the others.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	var res Result

	if p.gate != nil {
		paused, err := p.gate.Paused(ctx)
		if err != nil {
			// intake keeps running when the switch cannot be read
			p.storeDown(ctx, "", err)
		} else if paused {
			res.Paused = true
			return res, nil
		}
	}

	msgs, err := p.mailbox.ListUnread(ctx, p.opt.SubjectFilter)
	if err != nil {
		return res, err
	}
	for _, n := range msgs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Seen++
		switch p.handle(ctx, n) {
		case outcomeEnqueued:
			res.Enqueued++
		case outcomeDuplicate:
			res.Duplicates++
		case outcomeParseError:
			res.ParseErrors++
		default:
			res.Failed++
		}
	}

	if p.gate != nil {
		if err := p.gate.Heartbeat(ctx); err != nil {
			p.log.Warn("heartbeat failed", "err", err)
		}
	}
	return res, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeEnqueued
	outcomeDuplicate
	outcomeParseError
)

func (p *Poller) handle(ctx context.Context, n leads.Notification) outcome {
	log := p.log.With("uid", n.UID, "message_id", n.MessageID)

	lead, err := leads.ParseNotification(n, p.opt.Region)
	if err != nil {
		log.Warn("lead notification skipped", "class", leads.ClassOf(err), "err", err)
		p.activity.RecordLeadError(ctx, n.CorrelationKey(), err)
		p.markRead(ctx, log, n.UID)
		return outcomeParseError
	}
	log = log.With("lead_key", lead.Key)

	claimed := true
	isNew, err := p.store.MarkIfNew(ctx, correlation.DedupKey(lead.Key), p.opt.DedupTTL)
	switch {
	case err != nil:
		// degrade: the queue's task id still stops a second call
		p.storeDown(ctx, lead.Key, err)
		claimed = false
	case !isNew:
		log.Info("duplicate lead", "class", leads.ClassDuplicate)
		p.markRead(ctx, log, n.UID)
		return outcomeDuplicate
	}

	if err := p.queue.EnqueueLead(ctx, lead); err != nil {
		log.Error("enqueue failed; message left unread", "err", err)
		if claimed {
			if rerr := p.store.Release(ctx, correlation.DedupKey(lead.Key)); rerr != nil {
				log.Error("dedup release failed", "err", rerr)
			}
		}
		p.activity.RecordLeadError(ctx, lead.Key, err)
		return outcomeFailed
	}

	log.Info("lead enqueued", "name", lead.Name)
	p.markRead(ctx, log, n.UID)
	return outcomeEnqueued
}

func (p *Poller) markRead(ctx context.Context, log *slog.Logger, uid int) {
	if err := p.mailbox.MarkRead(ctx, uid); err != nil {
		// next poll sees it again and the dedup mark absorbs it
		log.Warn("mark read failed", "err", err)
	}
}

func (p *Poller) storeDown(ctx context.Context, leadKey string, err error) {
	p.log.Error("correlation store unavailable", "lead_key", leadKey, "class", leads.ClassStoreUnavailable, "err", err)
	if !errors.Is(err, context.Canceled) && p.alerter != nil {
		if aerr := p.alerter.Alert(ctx, alert.Alert{
			Class:   leads.ClassStoreUnavailable,
			Subject: "correlation store unavailable",
			Detail:  err.Error(),
			LeadKey: leadKey,
			At:      time.Now(),
		}); aerr != nil {
			p.log.Error("alert failed", "err", aerr)
		}
	}
	p.activity.RecordAlert(ctx, leads.ClassStoreUnavailable, leadKey, err.Error())
}
