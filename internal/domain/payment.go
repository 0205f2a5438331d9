package domain

import (
	"errors"
	"time"
)

// Payment intent statuses. Transitions form a small state machine:
//
//	pending → processing → succeeded | failed
//	pending → canceled
//	processing → canceled
//
// Terminal states (succeeded, failed, canceled) accept no further
// transitions.
const (
	IntentPending    = "pending"
	IntentProcessing = "processing"
	IntentSucceeded  = "succeeded"
	IntentFailed     = "failed"
	IntentCanceled   = "canceled"
)

// ErrInvalidTransition is returned when a payment intent status change
// is not permitted by the state machine.
var ErrInvalidTransition = errors.New("invalid payment intent transition")

// PaymentIntent tracks a payment from creation through settlement.
type PaymentIntent struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	BusinessID string `json:"businessId"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	Status string `json:"status"`

	// IdempotencyKey deduplicates intent creation per tenant.
	IdempotencyKey string `json:"idempotencyKey"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// legalTransitions maps a status to the set of statuses it may move to.
var legalTransitions = map[string][]string{
	IntentPending:    {IntentProcessing, IntentCanceled},
	IntentProcessing: {IntentSucceeded, IntentFailed, IntentCanceled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// WebhookEvent is an inbound payment provider event.
type WebhookEvent struct {
	// ProviderEventID is the provider-assigned identifier. Unique per
	// tenant; replays are detected on it.
	ProviderEventID string `json:"providerEventId"`
	TenantID        string `json:"tenantId"`

	// Type is the provider event type, e.g. "payment_intent.succeeded".
	Type string `json:"type"`

	// IntentID is the payment intent the event applies to.
	IntentID string `json:"intentId"`

	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Webhook event types understood by the payments processor.
const (
	EventIntentProcessing = "payment_intent.processing"
	EventIntentSucceeded  = "payment_intent.succeeded"
	EventIntentFailed     = "payment_intent.failed"
	EventIntentCanceled   = "payment_intent.canceled"
)

// EventTargetStatus maps a webhook event type to the intent status it
// drives the intent toward. Returns "" for unknown types.
func EventTargetStatus(eventType string) string {
	switch eventType {
	case EventIntentProcessing:
		return IntentProcessing
	case EventIntentSucceeded:
		return IntentSucceeded
	case EventIntentFailed:
		return IntentFailed
	case EventIntentCanceled:
		return IntentCanceled
	}
	return ""
}
