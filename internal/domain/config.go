package domain

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the complete platform configuration.
type Config struct {
	// Server settings
	Server ServerConfig

	// Tier determines infrastructure defaults
	Tier Tier `env:"AUTOPILOT_TIER"`

	// Component configurations
	Repository RepositoryConfig
	Cache      CacheConfig
	EventBus   EventBusConfig
	Payments   PaymentsConfig
	Policy     PolicyConfig
	Notify     NotifyConfig

	// Tenants the background worker and alert dispatcher serve,
	// comma separated.
	Tenants []string `env:"AUTOPILOT_TENANTS"`

	// ForecastSeed drives the deterministic projection generator.
	ForecastSeed int64 `env:"AUTOPILOT_FORECAST_SEED"`

	// Observability
	Logging LoggingConfig
	Tracing TracingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `env:"AUTOPILOT_HOST"`
	Port         int    `env:"AUTOPILOT_PORT"`
	ReadTimeout  int    `env:"AUTOPILOT_READ_TIMEOUT"`  // seconds
	WriteTimeout int    `env:"AUTOPILOT_WRITE_TIMEOUT"` // seconds
}

// PaymentsConfig holds webhook verification settings.
type PaymentsConfig struct {
	// WebhookSecret signs inbound provider events. Empty secret rejects
	// all signed traffic; it never defaults to a placeholder.
	WebhookSecret string `env:"AUTOPILOT_WEBHOOK_SECRET"`

	// AsyncApply routes verified events through the bus instead of
	// applying them in the request path.
	AsyncApply bool `env:"AUTOPILOT_WEBHOOK_ASYNC"`

	// RateLimit caps verified webhook events per tenant per minute.
	// Zero disables the cap.
	RateLimit int `env:"AUTOPILOT_WEBHOOK_RATE_LIMIT"`
}

// PolicyConfig holds Q-learning policy settings.
type PolicyConfig struct {
	Alpha   float64 `env:"AUTOPILOT_POLICY_ALPHA"`   // learning rate
	Gamma   float64 `env:"AUTOPILOT_POLICY_GAMMA"`   // discount factor
	Epsilon float64 `env:"AUTOPILOT_POLICY_EPSILON"` // exploration rate
	Seed    int64   `env:"AUTOPILOT_POLICY_SEED"`

	// TickInterval is how often the worker re-evaluates campaigns.
	TickInterval time.Duration `env:"AUTOPILOT_POLICY_TICK"`
}

// NotifyConfig holds alert delivery settings.
type NotifyConfig struct {
	// SinkURL receives alert payloads via POST. Empty disables delivery.
	SinkURL string `env:"AUTOPILOT_ALERT_SINK_URL"`

	// MaxElapsed bounds total retry time per delivery.
	MaxElapsed time.Duration `env:"AUTOPILOT_ALERT_MAX_ELAPSED"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"AUTOPILOT_LOG_LEVEL"`  // debug, info, warn, error
	Format string `env:"AUTOPILOT_LOG_FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `env:"AUTOPILOT_TRACING_ENABLED"`
	ServiceName string `env:"AUTOPILOT_TRACING_SERVICE"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierDev runs on SQLite + channels + local LRU.
	TierDev Tier = "dev"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the dev tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierDev,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./autopilot.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Payments: PaymentsConfig{
			AsyncApply: false,
		},
		ForecastSeed: 42,
		Policy: PolicyConfig{
			Alpha:        0.1,
			Gamma:        0.9,
			Epsilon:      0.1,
			Seed:         1,
			TickInterval: time.Minute,
		},
		Notify: NotifyConfig{
			MaxElapsed: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "autopilot",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "autopilot",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Payments.AsyncApply = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the tier default and applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	base := struct {
		Tier Tier `env:"AUTOPILOT_TIER"`
	}{}
	if err := env.Parse(&base); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if base.Tier == TierPro {
		cfg = ProConfig()
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
