// Package config loads process configuration from the environment, in the
// teacher's style: a root Config struct composed of per-concern sub-structs,
// small getEnv* parsing helpers, and a Validate pass that rejects
// nonsensical values before the process starts serving or polling.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	Admin    AdminConfig
	Provider ProviderConfig
	Janitor  JanitorConfig
}

type ServerConfig struct {
	Host                    string
	Port                    int
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	IdleTimeout             time.Duration
	GracefulShutdownTimeout time.Duration
	MaxBodyBytes            int64
	HTTPRateLimitPerMinute  int
}

type DatabaseConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	MigrationsDir   string
}

// WorkerConfig governs the dispatcher polling loop.
type WorkerConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	DrainTimeout   time.Duration
	HeartbeatEvery time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string // json or text
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type AuthConfig struct {
	RequireAPIKeys bool
	KeyHeader      string
}

type AdminConfig struct {
	ReadKey  string
	WriteKey string
}

// ProviderConfig configures the channel adapters invoked by the broker.
type ProviderConfig struct {
	CallTimeout time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SlackBotToken       string
	SlackDefaultChannel string

	SMSWebhookURL      string
	WhatsAppWebhookURL string
}

// JanitorConfig governs the retention sweep cadence and thresholds.
type JanitorConfig struct {
	InitialDelay  time.Duration
	Interval      time.Duration
	RetentionDays int
	ChunkSize     int
	ChunkPause    time.Duration
	RateBucketTTL time.Duration
}

// Load loads configuration from environment variables with sensible
// defaults, per spec.md §6.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:                    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:                    getEnvInt("API_PORT", 3000),
			ReadTimeout:             getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:            getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:             getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			GracefulShutdownTimeout: getEnvDuration("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxBodyBytes:            int64(getEnvInt("SERVER_MAX_BODY_BYTES", 100*1024)),
			HTTPRateLimitPerMinute:  getEnvInt("SERVER_HTTP_RATE_LIMIT_PER_MINUTE", 600),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvDuration("DB_MAX_CONN_LIFETIME", 1*time.Hour),
			MaxConnIdleTime: getEnvDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
			MigrationsDir:   getEnv("MIGRATIONS_DIR", "migrations"),
		},
		Worker: WorkerConfig{
			BatchSize:      getEnvInt("WORKER_BATCH_SIZE", 10),
			DrainTimeout:   getEnvDuration("WORKER_DRAIN_TIMEOUT", 5*time.Second),
			HeartbeatEvery: getEnvDuration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Auth: AuthConfig{
			RequireAPIKeys: getEnvBool("AUTH_REQUIRE_API_KEYS", true),
			KeyHeader:      getEnv("AUTH_KEY_HEADER", "Authorization"),
		},
		Admin: AdminConfig{
			ReadKey:  getEnv("ADMIN_API_KEY_READ", ""),
			WriteKey: getEnv("ADMIN_API_KEY_WRITE", ""),
		},
		Provider: ProviderConfig{
			CallTimeout:         getEnvDuration("PROVIDER_CALL_TIMEOUT", 10*time.Second),
			SMTPHost:            getEnv("SMTP_HOST", ""),
			SMTPPort:            getEnvInt("SMTP_PORT", 587),
			SMTPUsername:        getEnv("SMTP_USERNAME", ""),
			SMTPPassword:        getEnv("SMTP_PASSWORD", ""),
			SMTPFrom:            getEnv("SMTP_FROM", ""),
			SlackBotToken:       getEnv("SLACK_BOT_TOKEN", ""),
			SlackDefaultChannel: getEnv("SLACK_DEFAULT_CHANNEL", ""),
			SMSWebhookURL:       getEnv("SMS_WEBHOOK_URL", ""),
			WhatsAppWebhookURL:  getEnv("WHATSAPP_WEBHOOK_URL", ""),
		},
		Janitor: JanitorConfig{
			InitialDelay:  getEnvDuration("JANITOR_INITIAL_DELAY", 10*time.Second),
			Interval:      getEnvDuration("JANITOR_INTERVAL", 1*time.Hour),
			RetentionDays: getEnvInt("JANITOR_RETENTION_DAYS", 30),
			ChunkSize:     getEnvInt("JANITOR_CHUNK_SIZE", 1000),
			ChunkPause:    getEnvDuration("JANITOR_CHUNK_PAUSE", 100*time.Millisecond),
			RateBucketTTL: getEnvDuration("JANITOR_RATE_BUCKET_TTL", 1*time.Hour),
		},
	}

	// WORKER_POLL_INTERVAL_MS is specified in milliseconds, not a duration
	// string, per spec.md §6 — parse it separately from getEnvDuration.
	cfg.Worker.PollInterval = time.Duration(getEnvInt("WORKER_POLL_INTERVAL_MS", 1000)) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate rejects nonsensical configuration. Unusual-but-legal values (an
// oversized batch or a very tight poll interval) are warned about by the
// supervisor at startup instead of rejected here.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("worker batch size must be at least 1")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll interval must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
