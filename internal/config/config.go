package config

import (
	"cmp"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
)

// Config holds all configuration shared by the api, worker and poller processes.
// All values must come from env (or a .env file in local development).
// No business logic should depend on raw environment variables.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Airtable AirtableConfig
	Mailbox  MailboxConfig
	Queue    QueueConfig
	Session  SessionConfig
	FollowUp FollowUpConfig
	Alert    AlertConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is the externally reachable base for provider webhooks,
	// e.g. https://leads.example.com. No trailing slash.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	Voice    string
	Language string

	// ListenTimeout bounds how long a Gather waits for speech to start.
	ListenTimeout time.Duration

	ValidateSignature bool

	// APIBaseURL is overridable for tests.
	APIBaseURL string
}

type AirtableConfig struct {
	APIKey string
	BaseID string
	Table  string

	RatePerSecond float64
	MaxAttempts   int

	// ReplayInterval is how often the worker retries rows parked in the fallback store.
	ReplayInterval time.Duration

	APIBaseURL string
}

type MailboxConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Folder        string
	SubjectFilter string
	PollInterval  time.Duration
}

type QueueConfig struct {
	Name        string
	Concurrency int
	MaxRetry    int
}

type SessionConfig struct {
	DedupTTL   time.Duration
	SessionTTL time.Duration

	// MaxCallDuration is when a call with no terminal status is closed out.
	MaxCallDuration time.Duration
}

type FollowUpConfig struct {
	BookingLink   string
	Brand         string
	DefaultRegion string
}

type AlertConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	From         string
	To           string
}

// Load reads .env (if present) and the process environment.
// Parse failures for every variable are reported together.
func Load() (Config, error) {
	_ = godotenv.Load()

	e := envReader{errs: validation.Errors{}}
	c := Config{
		App: AppConfig{
			Env:           e.str("APP_ENV"),
			Port:          e.requiredInt("APP_PORT"),
			PublicBaseURL: strings.TrimRight(e.str("PUBLIC_BASE_URL"), "/"),
		},
		DB: DBConfig{
			Host:     e.str("DB_HOST"),
			Port:     e.requiredInt("DB_PORT"),
			User:     e.str("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     e.str("DB_NAME"),
			SSLMode:  e.str("DB_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     e.str("REDIS_HOST"),
			Port:     e.requiredInt("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Auth: AuthConfig{
			JWTSecret:      os.Getenv("JWT_SECRET"),
			JWTIssuer:      e.str("JWT_ISSUER"),
			JWTAudience:    e.str("JWT_AUDIENCE"),
			AccessTokenTTL: e.duration("JWT_ACCESS_TTL"),
		},
		Airtable: AirtableConfig{
			APIKey:         os.Getenv("AIRTABLE_API_KEY"),
			BaseID:         e.str("AIRTABLE_BASE_ID"),
			Table:          e.str("AIRTABLE_TABLE"),
			RatePerSecond:  e.number("AIRTABLE_RATE_PER_SEC"),
			MaxAttempts:    e.integer("SINK_MAX_ATTEMPTS"),
			ReplayInterval: e.duration("SINK_REPLAY_INTERVAL"),
			APIBaseURL:     e.str("AIRTABLE_API_BASE_URL"),
		},
		Mailbox: MailboxConfig{
			Host:          e.str("IMAP_HOST"),
			Port:          e.integer("IMAP_PORT"),
			Username:      e.str("IMAP_USERNAME"),
			Password:      os.Getenv("IMAP_PASSWORD"),
			Folder:        e.str("IMAP_FOLDER"),
			SubjectFilter: e.str("IMAP_SUBJECT_FILTER"),
			PollInterval:  e.duration("POLL_INTERVAL"),
		},
		Queue: QueueConfig{
			Name:        e.str("QUEUE_NAME"),
			Concurrency: e.integer("WORKER_CONCURRENCY"),
			MaxRetry:    e.integer("TASK_MAX_RETRY"),
		},
		Session: SessionConfig{
			DedupTTL:   e.duration("DEDUP_TTL"),
			SessionTTL: e.duration("SESSION_TTL"),

			MaxCallDuration: e.duration("MAX_CALL_DURATION"),
		},
		FollowUp: FollowUpConfig{
			BookingLink:   e.str("BOOKING_LINK"),
			Brand:         e.str("BRAND_NAME"),
			DefaultRegion: e.str("PHONE_DEFAULT_REGION"),
		},
		Alert: AlertConfig{
			SMTPHost:     e.str("ALERT_SMTP_HOST"),
			SMTPPort:     e.integer("ALERT_SMTP_PORT"),
			SMTPUsername: e.str("ALERT_SMTP_USERNAME"),
			SMTPPassword: os.Getenv("ALERT_SMTP_PASSWORD"),
			From:         e.str("ALERT_FROM"),
			To:           e.str("ALERT_TO"),
		},
	}
	c.Twilio = TwilioConfig{
		AccountSID:    e.str("TWILIO_ACCOUNT_SID"),
		AuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		FromNumber:    e.str("TWILIO_FROM_NUMBER"),
		Voice:         e.str("TWILIO_VOICE"),
		Language:      e.str("TWILIO_LANGUAGE"),
		ListenTimeout: e.duration("CALL_LISTEN_TIMEOUT"),
		// Signature checks default to on outside local.
		ValidateSignature: e.boolean("TWILIO_VALIDATE_SIGNATURE", c.App.Env != "local"),
		APIBaseURL:        e.str("TWILIO_API_BASE_URL"),
	}

	if err := e.errs.Filter(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks settings every process needs and fills defaults.
// Process-specific requirements live in ValidateAPI, ValidateWorker and ValidateMailbox.
func (c *Config) Validate() error {
	if c.DB.SSLMode == "" && !c.IsProduction() {
		c.DB.SSLMode = "disable"
	}
	c.applyDefaults()

	return validation.Errors{
		"APP_ENV":    validation.Validate(c.App.Env, validation.Required, validation.In("local", "dev", "staging", "production")),
		"APP_PORT":   validation.Validate(c.App.Port, validation.Required, portRule),
		"DB_HOST":    validation.Validate(c.DB.Host, validation.Required),
		"DB_PORT":    validation.Validate(c.DB.Port, validation.Required, portRule),
		"DB_USER":    validation.Validate(c.DB.User, validation.Required),
		"DB_NAME":    validation.Validate(c.DB.Name, validation.Required),
		"DB_SSLMODE": validation.Validate(c.DB.SSLMode, validation.Required, validation.In("disable", "require", "verify-ca", "verify-full")),
		"REDIS_HOST": validation.Validate(c.Redis.Host, validation.Required),
		"REDIS_PORT": validation.Validate(c.Redis.Port, validation.Required, portRule),
		"CALL_LISTEN_TIMEOUT": validation.Validate(c.Twilio.ListenTimeout,
			validation.Max(30*time.Second).Error("must be at most 30s")),
	}.Filter()
}

var portRule = validation.Max(65535).Error("must be a valid port")

func (c *Config) applyDefaults() {
	c.Queue.Name = cmp.Or(c.Queue.Name, "leads")
	c.Queue.Concurrency = cmp.Or(c.Queue.Concurrency, 3)
	c.Queue.MaxRetry = cmp.Or(c.Queue.MaxRetry, 3)

	c.Session.DedupTTL = cmp.Or(c.Session.DedupTTL, 7*24*time.Hour)
	c.Session.SessionTTL = cmp.Or(c.Session.SessionTTL, 24*time.Hour)
	c.Session.MaxCallDuration = cmp.Or(c.Session.MaxCallDuration, 15*time.Minute)

	c.Twilio.Voice = cmp.Or(c.Twilio.Voice, "Polly.Matthew-Neural")
	c.Twilio.Language = cmp.Or(c.Twilio.Language, "en-US")
	c.Twilio.ListenTimeout = cmp.Or(c.Twilio.ListenTimeout, 5*time.Second)

	c.Airtable.Table = cmp.Or(c.Airtable.Table, "Leads")
	c.Airtable.RatePerSecond = cmp.Or(c.Airtable.RatePerSecond, 5)
	c.Airtable.MaxAttempts = cmp.Or(c.Airtable.MaxAttempts, 5)
	c.Airtable.ReplayInterval = cmp.Or(c.Airtable.ReplayInterval, 10*time.Minute)

	c.Mailbox.Port = cmp.Or(c.Mailbox.Port, 993)
	c.Mailbox.Folder = cmp.Or(c.Mailbox.Folder, "INBOX")
	c.Mailbox.SubjectFilter = cmp.Or(c.Mailbox.SubjectFilter, "new lead has been captured")
	c.Mailbox.PollInterval = cmp.Or(c.Mailbox.PollInterval, 30*time.Second)

	c.FollowUp.Brand = cmp.Or(c.FollowUp.Brand, "Mesh Cowork")
	c.FollowUp.DefaultRegion = cmp.Or(c.FollowUp.DefaultRegion, "US")

	c.Alert.SMTPPort = cmp.Or(c.Alert.SMTPPort, 587)
	c.Auth.AccessTokenTTL = cmp.Or(c.Auth.AccessTokenTTL, 12*time.Hour)
}

// ValidateAPI checks settings the webhook/ops server needs.
func (c Config) ValidateAPI() error {
	errs := c.twilioErrors()
	errs["JWT_SECRET"] = validation.Validate(c.Auth.JWTSecret, validation.Required)
	errs["JWT_ISSUER"] = validation.Validate(c.Auth.JWTIssuer, validation.When(c.IsProduction(), validation.Required))
	errs["JWT_AUDIENCE"] = validation.Validate(c.Auth.JWTAudience, validation.When(c.IsProduction(), validation.Required))
	errs["PUBLIC_BASE_URL"] = validation.Validate(c.App.PublicBaseURL, validation.Required)
	return errs.Filter()
}

// ValidateWorker checks settings the task worker needs.
func (c Config) ValidateWorker() error {
	errs := c.twilioErrors()
	errs["PUBLIC_BASE_URL"] = validation.Validate(c.App.PublicBaseURL, validation.Required)
	errs["AIRTABLE_API_KEY"] = validation.Validate(c.Airtable.APIKey, validation.Required)
	errs["AIRTABLE_BASE_ID"] = validation.Validate(c.Airtable.BaseID, validation.Required)
	errs["BOOKING_LINK"] = validation.Validate(c.FollowUp.BookingLink, validation.Required)
	return errs.Filter()
}

func (c Config) twilioErrors() validation.Errors {
	return validation.Errors{
		"TWILIO_ACCOUNT_SID": validation.Validate(c.Twilio.AccountSID, validation.Required),
		"TWILIO_AUTH_TOKEN":  validation.Validate(c.Twilio.AuthToken, validation.Required),
		"TWILIO_FROM_NUMBER": validation.Validate(c.Twilio.FromNumber, validation.Required),
	}
}

// ValidateMailbox checks settings the poller needs.
func (c Config) ValidateMailbox() error {
	return validation.Errors{
		"IMAP_HOST":     validation.Validate(c.Mailbox.Host, validation.Required),
		"IMAP_USERNAME": validation.Validate(c.Mailbox.Username, validation.Required),
		"IMAP_PASSWORD": validation.Validate(c.Mailbox.Password, validation.Required),
		"POLL_INTERVAL": validation.Validate(c.Mailbox.PollInterval,
			validation.Min(time.Second).Error("must be at least 1s")),
	}.Filter()
}

// AlertsEnabled reports whether operator alerts go out by email.
func (c Config) AlertsEnabled() bool {
	return c.Alert.SMTPHost != "" && c.Alert.From != "" && c.Alert.To != ""
}

func (c Config) IsProduction() bool { return c.App.Env == "production" }

func (c Config) HTTPAddr() string { return fmt.Sprintf(":%d", c.App.Port) }

// PostgresDSN carries the DB password. Do not log it.
func (c Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

func (c Config) RedisAddr() string { return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port) }

// envReader parses typed variables, keeping the first problem per key.
type envReader struct {
	errs validation.Errors
}

func (e envReader) str(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func (e envReader) requiredInt(key string) int {
	if e.str(key) == "" {
		e.errs[key] = validation.ErrRequired
		return 0
	}
	return e.integer(key)
}

func (e envReader) integer(key string) int {
	return parseVar(e, key, 0, strconv.Atoi, "an integer")
}

func (e envReader) number(key string) float64 {
	return parseVar(e, key, 0, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) }, "a number")
}

func (e envReader) boolean(key string, def bool) bool {
	return parseVar(e, key, def, strconv.ParseBool, "a boolean")
}

func (e envReader) duration(key string) time.Duration {
	return parseVar(e, key, 0, time.ParseDuration, "a duration")
}

func parseVar[T any](e envReader, key string, def T, parse func(string) (T, error), kind string) T {
	v := e.str(key)
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		e.errs[key] = fmt.Errorf("must be %s, got %q", kind, v)
		return def
	}
	return out
}
