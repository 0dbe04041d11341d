package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3000"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	Database  DatabaseConfig
	YouTube   YouTubeConfig
	LLM       LLMConfig
	Email     EmailConfig
	Pipeline  PipelineConfig
	Scheduler SchedulerConfig
	Storage   StorageConfig
	Otel      OtelConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"titledoctor"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"titledoctor"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	// AutoMigrate runs pending goose migrations on startup
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// YouTubeConfig holds YouTube Data API settings
type YouTubeConfig struct {
	APIKey string `env:"YOUTUBE_API_KEY" envDefault:""`
	// Endpoint overrides the API base URL (tests, proxies)
	Endpoint string `env:"YOUTUBE_API_ENDPOINT" envDefault:""`
	// VideoLimit is how many recent videos are fetched per channel
	VideoLimit int `env:"YOUTUBE_VIDEO_LIMIT" envDefault:"5"`
	// RequestsPerSecond caps outbound calls to protect the API quota
	RequestsPerSecond float64       `env:"YOUTUBE_REQUESTS_PER_SECOND" envDefault:"5"`
	Timeout           time.Duration `env:"YOUTUBE_TIMEOUT" envDefault:"15s"`
}

// IsConfigured returns true if an API key is present
func (y *YouTubeConfig) IsConfigured() bool {
	return y.APIKey != ""
}

// LLMConfig holds Gemini settings for title generation
type LLMConfig struct {
	// GeminiAPIKey is the Google AI (Gemini API) key
	GeminiAPIKey string `env:"GEMINI_API_KEY" envDefault:""`

	// Model name
	Model string `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash-lite"`

	// Temperature for completions (0.0-2.0)
	Temperature float64 `env:"LLM_TEMPERATURE" envDefault:"0.7"`

	// MaxOutputTokens caps the response size
	MaxOutputTokens int `env:"LLM_MAX_OUTPUT_TOKENS" envDefault:"2048"`

	// Timeout per request
	Timeout time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`

	// MaxRetries for transient transport failures
	MaxRetries int `env:"LLM_MAX_RETRIES" envDefault:"2"`
}

// IsConfigured returns true if the Gemini API key is set
func (l *LLMConfig) IsConfigured() bool {
	return l.GeminiAPIKey != ""
}

// EmailConfig holds email service configuration
type EmailConfig struct {
	// Enabled determines if email is actually delivered. Setting it to false
	// swaps in a logging sender for local development.
	Enabled bool `env:"EMAIL_ENABLED" envDefault:"true"`
	// MailgunDomain is the Mailgun domain
	MailgunDomain string `env:"MAILGUN_DOMAIN" envDefault:""`
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string `env:"MAILGUN_API_KEY" envDefault:""`
	// MailgunAPIBase overrides the Mailgun API base (e.g. the EU region)
	MailgunAPIBase string `env:"MAILGUN_API_BASE" envDefault:""`
	// FromEmail is the verified sender address
	FromEmail string `env:"EMAIL_FROM_ADDRESS" envDefault:""`
	// FromName is the sender display name
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"YouTube Title Doctor"`
	// SendTimeout bounds a single send
	SendTimeout time.Duration `env:"EMAIL_SEND_TIMEOUT" envDefault:"30s"`
}

// IsConfigured returns true if Mailgun is configured
func (e *EmailConfig) IsConfigured() bool {
	return e.MailgunDomain != "" && e.MailgunAPIKey != "" && e.FromEmail != ""
}

// PipelineConfig controls event transport and stage housekeeping
type PipelineConfig struct {
	// Transport selects the event bus: "postgres" (outbox) or "memory"
	Transport string `env:"PIPELINE_TRANSPORT" envDefault:"postgres"`
	// WorkerIntervalMs is the outbox polling interval in milliseconds
	WorkerIntervalMs int `env:"PIPELINE_WORKER_INTERVAL_MS" envDefault:"1000"`
	// WorkerBatchSize is the number of events claimed per poll
	WorkerBatchSize int `env:"PIPELINE_WORKER_BATCH_SIZE" envDefault:"10"`
	// WorkerConcurrency is the number of event groups dispatched in parallel
	WorkerConcurrency int `env:"PIPELINE_WORKER_CONCURRENCY" envDefault:"4"`
	// DeliveryMaxAttempts caps redelivery of an event whose handler returned an error
	DeliveryMaxAttempts int `env:"PIPELINE_DELIVERY_MAX_ATTEMPTS" envDefault:"3"`
	// DeliveryRetryDelaySec is the base redelivery backoff
	DeliveryRetryDelaySec int `env:"PIPELINE_DELIVERY_RETRY_DELAY_SEC" envDefault:"10"`
	// StallTimeout is how long a job may sit in a non-terminal status before the sweep fails it
	StallTimeout time.Duration `env:"PIPELINE_STALL_TIMEOUT" envDefault:"15m"`
	// SweepInterval is how often the stall sweep runs
	SweepInterval time.Duration `env:"PIPELINE_SWEEP_INTERVAL" envDefault:"1m"`
}

// WorkerInterval returns the worker interval as a Duration
func (p *PipelineConfig) WorkerInterval() time.Duration {
	return time.Duration(p.WorkerIntervalMs) * time.Millisecond
}

// UseOutbox returns true when events travel through the PostgreSQL outbox
func (p *PipelineConfig) UseOutbox() bool {
	return p.Transport != "memory"
}

// SchedulerConfig controls the housekeeping tasks
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`
	// SweepSchedule is a cron expression (seconds first) that overrides PIPELINE_SWEEP_INTERVAL
	SweepSchedule string `env:"PIPELINE_SWEEP_SCHEDULE" envDefault:""`
	// OutboxRecoverInterval is how often outbox rows stuck in processing are requeued
	OutboxRecoverInterval time.Duration `env:"OUTBOX_RECOVER_INTERVAL" envDefault:"5m"`
	// OutboxStatsInterval is how often outbox depth gauges are refreshed
	OutboxStatsInterval time.Duration `env:"OUTBOX_STATS_INTERVAL" envDefault:"30s"`
	// TaskTimeout bounds a single task run
	TaskTimeout time.Duration `env:"SCHEDULER_TASK_TIMEOUT" envDefault:"5m"`
}

// StorageConfig holds S3-compatible storage for archived reports
type StorageConfig struct {
	Endpoint        string `env:"REPORT_STORAGE_ENDPOINT" envDefault:""`
	AccessKeyID     string `env:"REPORT_STORAGE_ACCESS_KEY" envDefault:""`
	SecretAccessKey string `env:"REPORT_STORAGE_SECRET_KEY" envDefault:""`
	Bucket          string `env:"REPORT_STORAGE_BUCKET" envDefault:"title-reports"`
	Region          string `env:"REPORT_STORAGE_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.String("pipeline_transport", cfg.Pipeline.Transport),
		slog.Bool("youtube_configured", cfg.YouTube.IsConfigured()),
		slog.Bool("llm_configured", cfg.LLM.IsConfigured()),
		slog.Bool("email_enabled", cfg.Email.Enabled),
	)

	return cfg, nil
}
