package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (dev) + Redis (pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetSnapshot retrieves a cached dashboard snapshot.
	GetSnapshot(ctx context.Context, tenantID string) (*DashboardSnapshot, error)

	// SetSnapshot caches a dashboard snapshot.
	SetSnapshot(ctx context.Context, tenantID string, snap *DashboardSnapshot, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for rate windows (e.g. webhook events per intent per minute).
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `env:"AUTOPILOT_CACHE_TYPE"`

	// Local LRU cache settings
	LocalMaxSize int           `env:"AUTOPILOT_CACHE_LOCAL_SIZE"`
	LocalTTL     time.Duration `env:"AUTOPILOT_CACHE_LOCAL_TTL"`

	// Redis settings
	RedisAddr     string `env:"AUTOPILOT_REDIS_ADDR"`
	RedisPassword string `env:"AUTOPILOT_REDIS_PASSWORD"`
	RedisDB       int    `env:"AUTOPILOT_REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `env:"AUTOPILOT_CACHE_TWO_PHASE"` // check local first, then Redis
}
