package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

var (
	// ErrUnknownEventType is returned for provider event types the
	// processor does not understand.
	ErrUnknownEventType = errors.New("unknown webhook event type")

	// ErrUnknownBusiness is returned when an intent references a
	// business that does not exist for the tenant.
	ErrUnknownBusiness = errors.New("unknown business")

	// ErrInvalidRequest is returned when an intent request fails
	// validation.
	ErrInvalidRequest = errors.New("invalid intent request")
)

// IntentRequest is the API payload for creating a payment intent.
type IntentRequest struct {
	BusinessID     string                 `json:"businessId"`
	Amount         float64                `json:"amount"`
	Currency       string                 `json:"currency"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks required fields.
func (r *IntentRequest) Validate() error {
	if r.BusinessID == "" {
		return fmt.Errorf("businessId is required")
	}
	if r.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if r.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if r.IdempotencyKey == "" {
		return fmt.Errorf("idempotencyKey is required")
	}
	return nil
}

// Processor owns the payment intent lifecycle: intent creation with
// idempotency, and applying verified webhook events to intents.
type Processor struct {
	repo   domain.Repository
	bus    domain.EventBus
	logger *slog.Logger
}

// NewProcessor creates a payment processor.
func NewProcessor(repo domain.Repository, bus domain.EventBus, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// CreateIntent creates a payment intent, or returns the existing intent
// when the idempotency key was already used. The boolean reports whether
// a new intent was created.
func (p *Processor) CreateIntent(ctx context.Context, tenantID string, req *IntentRequest) (*domain.PaymentIntent, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	existing, err := p.repo.GetIntentByIdempotencyKey(ctx, tenantID, req.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}

	if _, err := p.repo.GetBusiness(ctx, tenantID, req.BusinessID); err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownBusiness, req.BusinessID)
	}

	now := time.Now().UTC()
	intent := &domain.PaymentIntent{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		BusinessID:     req.BusinessID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         domain.IntentPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
		Metadata:       req.Metadata,
	}

	if err := p.repo.SavePaymentIntent(ctx, tenantID, intent); err != nil {
		// Concurrent creation with the same key: the unique index wins,
		// return whichever intent got in first.
		if dup, dupErr := p.repo.GetIntentByIdempotencyKey(ctx, tenantID, req.IdempotencyKey); dupErr == nil {
			return dup, false, nil
		}
		return nil, false, fmt.Errorf("failed to save intent: %w", err)
	}

	p.logger.Info("payment intent created",
		"tenant_id", tenantID,
		"intent_id", intent.ID,
		"business_id", intent.BusinessID,
		"amount", intent.Amount,
	)

	if p.bus != nil {
		payload, _ := json.Marshal(intent)
		if err := p.bus.Publish(ctx, tenantID, domain.TopicPaymentReceived, payload); err != nil {
			p.logger.Warn("failed to publish intent created event", "error", err)
		}
	}

	return intent, true, nil
}

// ApplyEvent applies a verified webhook event to its payment intent.
// Replayed events (same provider event ID) return the repository's
// duplicate error without touching the intent. A successful settlement
// credits the business's revenue total. Dedup record, transition, and
// credit are one transaction: a failed apply (intent not delivered
// yet, illegal transition) does not consume the provider event ID, so
// the provider's retry can still land.
func (p *Processor) ApplyEvent(ctx context.Context, tenantID string, event *domain.WebhookEvent) error {
	target := domain.EventTargetStatus(event.Type)
	if target == "" {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	intent, err := p.repo.ApplyWebhookEvent(ctx, tenantID, event, target)
	if err != nil {
		return err
	}

	p.logger.Info("webhook event applied",
		"tenant_id", tenantID,
		"event_id", event.ProviderEventID,
		"intent_id", intent.ID,
		"status", target,
	)

	if p.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"eventId":  event.ProviderEventID,
			"intentId": intent.ID,
			"status":   target,
			"amount":   intent.Amount,
		})
		if err := p.bus.Publish(ctx, tenantID, domain.TopicPaymentApplied, payload); err != nil {
			p.logger.Warn("failed to publish payment applied event", "error", err)
		}
	}

	return nil
}
