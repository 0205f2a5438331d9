package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Business operations
	SaveBusiness(ctx context.Context, tenantID string, b *Business) error
	GetBusiness(ctx context.Context, tenantID string, businessID string) (*Business, error)
	ListBusinesses(ctx context.Context, tenantID string) ([]*Business, error)
	AddBusinessRevenue(ctx context.Context, tenantID string, businessID string, amount float64) error

	// Payment intent operations
	SavePaymentIntent(ctx context.Context, tenantID string, intent *PaymentIntent) error
	GetPaymentIntent(ctx context.Context, tenantID string, intentID string) (*PaymentIntent, error)
	GetIntentByIdempotencyKey(ctx context.Context, tenantID string, key string) (*PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, tenantID string, intentID string, from, to string) error
	ListIntentsByBusiness(ctx context.Context, tenantID string, businessID string, since time.Time) ([]*PaymentIntent, error)

	// Webhook event operations
	InsertWebhookEvent(ctx context.Context, tenantID string, event *WebhookEvent) error
	GetWebhookEvent(ctx context.Context, tenantID string, providerEventID string) (*WebhookEvent, error)

	// ApplyWebhookEvent records a provider event and transitions its
	// intent to target in one transaction, crediting business revenue on
	// settlement. A failed apply rolls back the dedup record, so the
	// provider's retry of the same event ID can still succeed.
	ApplyWebhookEvent(ctx context.Context, tenantID string, event *WebhookEvent, target string) (*PaymentIntent, error)

	// Campaign operations
	SaveCampaign(ctx context.Context, tenantID string, c *Campaign) error
	GetCampaign(ctx context.Context, tenantID string, campaignID string) (*Campaign, error)
	ListCampaigns(ctx context.Context, tenantID string) ([]*Campaign, error)
	RecordCampaignMetrics(ctx context.Context, tenantID string, campaignID string, m *CampaignMetrics) error
	UpdateCampaignBudget(ctx context.Context, tenantID string, campaignID string, dailyBudget float64) error

	// Experiment operations
	SaveExperiment(ctx context.Context, tenantID string, e *Experiment) error
	GetExperiment(ctx context.Context, tenantID string, experimentID string) (*Experiment, error)
	ListExperiments(ctx context.Context, tenantID string) ([]*Experiment, error)
	IncrementExposure(ctx context.Context, tenantID string, experimentID, variantID, locale string) error
	IncrementConversion(ctx context.Context, tenantID string, experimentID, variantID, locale string) error
	SetExperimentDecision(ctx context.Context, tenantID string, experimentID, winnerID string) error

	// Guardrail configuration operations
	SaveGuardrail(ctx context.Context, tenantID string, g *GuardrailConfig) error
	GetGuardrail(ctx context.Context, tenantID string, guardrailID string) (*GuardrailConfig, error)
	ListGuardrails(ctx context.Context, tenantID string) ([]*GuardrailConfig, error)
	DeleteGuardrail(ctx context.Context, tenantID string, guardrailID string) error

	// Decision results
	SaveDecision(ctx context.Context, tenantID string, d *Decision) error
	GetDecision(ctx context.Context, tenantID string, decisionID string) (*Decision, error)

	// Policy snapshots (Q-table persistence)
	SaveQTable(ctx context.Context, tenantID string, policyID string, snapshot []byte) error
	GetQTable(ctx context.Context, tenantID string, policyID string) ([]byte, error)

	// Dashboard aggregates, computed in one pass over the pooled connection
	DashboardSnapshot(ctx context.Context, tenantID string) (*DashboardSnapshot, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `env:"AUTOPILOT_DB_DRIVER"`

	// SQLite specific
	SQLitePath string `env:"AUTOPILOT_SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `env:"AUTOPILOT_PG_HOST"`
	PostgresPort     int    `env:"AUTOPILOT_PG_PORT"`
	PostgresUser     string `env:"AUTOPILOT_PG_USER"`
	PostgresPassword string `env:"AUTOPILOT_PG_PASSWORD"`
	PostgresDB       string `env:"AUTOPILOT_PG_DB"`
	PostgresSSLMode  string `env:"AUTOPILOT_PG_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `env:"AUTOPILOT_DB_MAX_OPEN"`
	MaxIdleConns    int           `env:"AUTOPILOT_DB_MAX_IDLE"`
	ConnMaxLifetime time.Duration `env:"AUTOPILOT_DB_CONN_LIFETIME"`
}
