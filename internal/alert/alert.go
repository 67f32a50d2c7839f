// Package alert notifies operators about failures that risk losing leads.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"lead-qualifier/internal/config"
	"lead-qualifier/internal/leads"

	gomail "github.com/wneessen/go-mail"
)

type Alert struct {
	Class   leads.Class
	Subject string
	Detail  string
	LeadKey string
	At      time.Time
}

func (a Alert) body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "class: %s\n", a.Class)
	if a.LeadKey != "" {
		fmt.Fprintf(&b, "lead: %s\n", a.LeadKey)
	}
	fmt.Fprintf(&b, "at: %s\n\n", a.At.UTC().Format(time.RFC3339))
	b.WriteString(a.Detail)
	return b.String()
}

type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to the structured log. Always available.
type LogAlerter struct {
	Log *slog.Logger
}

func (l LogAlerter) Alert(_ context.Context, a Alert) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Error("operator alert", "class", a.Class, "subject", a.Subject, "lead_key", a.LeadKey, "detail", a.Detail)
	return nil
}

// EmailAlerter sends alerts over SMTP.
type EmailAlerter struct {
	cfg config.AlertConfig
}

func NewEmailAlerter(cfg config.AlertConfig) *EmailAlerter {
	return &EmailAlerter{cfg: cfg}
}

func (e *EmailAlerter) Alert(ctx context.Context, a Alert) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat("Lead Qualifier", e.cfg.From); err != nil {
		return fmt.Errorf("alert from: %w", err)
	}
	if err := msg.To(splitList(e.cfg.To)...); err != nil {
		return fmt.Errorf("alert to: %w", err)
	}
	msg.Subject("[lead-qualifier] " + a.Subject)
	msg.SetBodyString(gomail.TypeTextPlain, a.body())

	opts := []gomail.Option{
		gomail.WithPort(e.cfg.SMTPPort),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp", addr)
		}),
	}
	if e.cfg.SMTPUsername != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(e.cfg.SMTPUsername),
			gomail.WithPassword(e.cfg.SMTPPassword),
		)
	}
	client, err := gomail.NewClient(e.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("alert smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("alert smtp send: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Multi fans out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if err := al.Alert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Throttled drops repeats of the same class and subject inside Every.
// A flapping Redis should page once, not once per lead.
type Throttled struct {
	Next  Alerter
	Every time.Duration
	Now   func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func (t *Throttled) Alert(ctx context.Context, a Alert) error {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	if a.At.IsZero() {
		a.At = now()
	}
	key := string(a.Class) + "|" + a.Subject

	t.mu.Lock()
	if t.last == nil {
		t.last = map[string]time.Time{}
	}
	if prev, ok := t.last[key]; ok && a.At.Sub(prev) < t.Every {
		t.mu.Unlock()
		return nil
	}
	t.last[key] = a.At
	t.mu.Unlock()

	return t.Next.Alert(ctx, a)
}

// New builds the process alerter: log always, email when SMTP is configured.
func New(cfg config.Config, log *slog.Logger) Alerter {
	m := Multi{LogAlerter{Log: log}}
	if cfg.AlertsEnabled() {
		m = append(m, NewEmailAlerter(cfg.Alert))
	}
	return &Throttled{Next: m, Every: 5 * time.Minute}
}
