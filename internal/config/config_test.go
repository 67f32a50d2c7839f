package config

import (
	"strings"
	"testing"
	"time"
)

func baseConfig(env string) Config {
	return Config{
		App:   AppConfig{Env: env, Port: 8080, PublicBaseURL: "https://leads.example.com"},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "leads"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := baseConfig("production")
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := baseConfig("local")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_AppliesPipelineDefaults(t *testing.T) {
	c := baseConfig("dev")
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Queue.Concurrency != 3 {
		t.Fatalf("expected concurrency 3, got %d", c.Queue.Concurrency)
	}
	if c.Session.DedupTTL != 7*24*time.Hour {
		t.Fatalf("expected 7d dedup ttl, got %s", c.Session.DedupTTL)
	}
	if c.Session.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %s", c.Session.SessionTTL)
	}
	if c.Session.MaxCallDuration != 15*time.Minute {
		t.Fatalf("expected 15m call deadline, got %s", c.Session.MaxCallDuration)
	}
	if c.Mailbox.PollInterval != 30*time.Second {
		t.Fatalf("expected 30s poll interval, got %s", c.Mailbox.PollInterval)
	}
	if c.Twilio.ListenTimeout != 5*time.Second {
		t.Fatalf("expected 5s listen timeout, got %s", c.Twilio.ListenTimeout)
	}
	if c.Airtable.RatePerSecond != 5 {
		t.Fatalf("expected 5 rps, got %v", c.Airtable.RatePerSecond)
	}
}

func TestValidate_RejectsLongListenTimeout(t *testing.T) {
	c := baseConfig("dev")
	c.Twilio.ListenTimeout = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for listen timeout above 30s")
	}
}

func TestValidateWorker_CollectsAllMissing(t *testing.T) {
	c := baseConfig("dev")
	_ = c.Validate()
	err := c.ValidateWorker()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"TWILIO_ACCOUNT_SID", "AIRTABLE_API_KEY", "BOOKING_LINK"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateMailbox(t *testing.T) {
	c := baseConfig("dev")
	_ = c.Validate()
	if err := c.ValidateMailbox(); err == nil {
		t.Fatalf("expected error without imap settings")
	}
	c.Mailbox.Host = "imap.gmail.com"
	c.Mailbox.Username = "leads@example.com"
	c.Mailbox.Password = "app-password"
	if err := c.ValidateMailbox(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("PUBLIC_BASE_URL", "https://leads.example.com/")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "leads")
	t.Setenv("DB_NAME", "leads")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("WORKER_CONCURRENCY", "2")
	t.Setenv("CALL_LISTEN_TIMEOUT", "7s")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.PublicBaseURL != "https://leads.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", c.App.PublicBaseURL)
	}
	if c.Queue.Concurrency != 2 {
		t.Fatalf("expected concurrency 2, got %d", c.Queue.Concurrency)
	}
	if c.Twilio.ListenTimeout != 7*time.Second {
		t.Fatalf("expected 7s, got %s", c.Twilio.ListenTimeout)
	}
	if !c.Twilio.ValidateSignature {
		t.Fatalf("expected signature validation on outside local")
	}
}

func TestLoad_ReportsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "leads")
	t.Setenv("DB_NAME", "leads")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("POLL_INTERVAL", "soon")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "POLL_INTERVAL") {
		t.Fatalf("expected POLL_INTERVAL error, got %v", err)
	}
}

func TestLoad_ReportsEveryBadVariable(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("TWILIO_VALIDATE_SIGNATURE", "sometimes")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, want := range []string{"APP_PORT", "DB_PORT", "TWILIO_VALIDATE_SIGNATURE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
