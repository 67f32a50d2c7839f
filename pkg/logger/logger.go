package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// New returns the JSON logger for one process (api, worker, poller).
// Debug level in local and dev.
func New(appEnv string, process ...string) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level, ReplaceAttr: maskPII})
	l := slog.New(h)
	if len(process) > 0 && process[0] != "" {
		l = l.With("process", process[0])
	}
	return l
}

// maskPII keeps only the last four digits of phone-like attributes.
func maskPII(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case "phone", "to", "lead_phone":
		if a.Value.Kind() == slog.KindString {
			return slog.String(a.Key, MaskPhone(a.Value.String()))
		}
	}
	return a
}

// MaskPhone turns "+15551234567" into "***4567".
func MaskPhone(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return s
	}
	return "***" + s[len(s)-4:]
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
