package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (dev) or NATS (pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `env:"AUTOPILOT_BUS_TYPE"`

	// Channel settings
	ChannelBufferSize int `env:"AUTOPILOT_BUS_BUFFER"`

	// NATS settings
	NATSUrl           string `env:"AUTOPILOT_NATS_URL"`
	NATSToken         string `env:"AUTOPILOT_NATS_TOKEN"`
	NATSMaxReconnects int    `env:"AUTOPILOT_NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `env:"AUTOPILOT_NATS_RECONNECT_WAIT"` // seconds
}

// Standard topic names for the platform pipeline.
const (
	TopicPaymentReceived  = "autopilot.payment.received"
	TopicPaymentApplied   = "autopilot.payment.applied"
	TopicWebhookReceived  = "autopilot.webhook.received"
	TopicCampaignDecision = "autopilot.campaign.decision"
	TopicAlert            = "autopilot.alert"
)
