// Package worker drives the autonomous scaling loop and async webhook
// application.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/autopilot-ventures/autopilot/internal/decision"
	"github.com/autopilot-ventures/autopilot/internal/domain"
	"github.com/autopilot-ventures/autopilot/internal/guardrail"
	"github.com/autopilot-ventures/autopilot/internal/payments"
	"github.com/autopilot-ventures/autopilot/internal/policy"
	"github.com/autopilot-ventures/autopilot/internal/repository"
)

// observation holds the previous tick's state for one campaign so the
// policy can be rewarded once the outcome is observable.
type observation struct {
	state    policy.State
	action   string
	campaign *domain.Campaign
}

// Worker consumes webhook events from the bus and periodically runs
// the campaign scaling pipeline: discretize, propose, guard, decide,
// apply, learn.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	engine     *guardrail.Engine
	aggregator *decision.Aggregator
	processor  *payments.Processor
	policies   *policy.Store

	mu           sync.Mutex
	observations map[string]*observation

	spendWindow int // seconds

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string

	// TickInterval is how often campaigns are re-evaluated.
	// Zero disables the scaling loop.
	TickInterval time.Duration

	// SpendWindow is the trailing window, in seconds, exposed to
	// guardrail expressions as window_spend.
	SpendWindow int
}

// NewWorker creates a new worker. The policy store is shared with the
// API so manual ticks select from the same learned tables.
func NewWorker(bus domain.EventBus, repo domain.Repository, engine *guardrail.Engine, aggregator *decision.Aggregator, processor *payments.Processor, policies *policy.Store) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		repo:         repo,
		engine:       engine,
		aggregator:   aggregator,
		processor:    processor,
		policies:     policies,
		observations: make(map[string]*observation),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing for the given tenants.
func (w *Worker) Start(cfg Config) error {
	w.spendWindow = cfg.SpendWindow
	if w.spendWindow <= 0 {
		w.spendWindow = 3600
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenant(tenantID, cfg.TickInterval); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"tick_interval", cfg.TickInterval,
	)

	return nil
}

// startTenant subscribes the webhook consumer and starts the scaling
// ticker for one tenant.
func (w *Worker) startTenant(tenantID string, tick time.Duration) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicWebhookReceived, func(ctx context.Context, msg *domain.Message) error {
		return w.applyWebhook(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if tick > 0 {
		w.wg.Add(1)
		go w.runTicker(tenantID, tick)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicWebhookReceived,
	)

	return nil
}

// WebhookMessage is the bus payload for asynchronously applied
// provider events.
type WebhookMessage struct {
	ProviderEventID string `json:"providerEventId"`
	Type            string `json:"type"`
	IntentID        string `json:"intentId"`
	Payload         []byte `json:"payload,omitempty"`
}

// applyWebhook applies a verified provider event from the bus.
func (w *Worker) applyWebhook(ctx context.Context, tenantID string, msg *domain.Message) error {
	var whMsg WebhookMessage
	if err := json.Unmarshal(msg.Payload, &whMsg); err != nil {
		slog.Error("failed to parse webhook message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	event := &domain.WebhookEvent{
		ProviderEventID: whMsg.ProviderEventID,
		TenantID:        tenantID,
		Type:            whMsg.Type,
		IntentID:        whMsg.IntentID,
		Payload:         whMsg.Payload,
		ReceivedAt:      time.Now().UTC(),
	}

	err := w.processor.ApplyEvent(ctx, tenantID, event)
	if errors.Is(err, repository.ErrDuplicateEvent) {
		slog.Debug("skipping replayed webhook event",
			"provider_event_id", event.ProviderEventID,
			"tenant_id", tenantID,
		)
		return nil
	}
	if err != nil {
		slog.Error("failed to apply webhook event",
			"provider_event_id", event.ProviderEventID,
			"intent_id", event.IntentID,
			"error", err,
		)
		return err
	}

	return nil
}

// runTicker re-evaluates a tenant's campaigns on an interval.
func (w *Worker) runTicker(tenantID string, interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.EvaluateCampaigns(w.ctx, tenantID)
		}
	}
}

// EvaluateCampaigns runs one pass of the scaling pipeline over all
// active campaigns for a tenant and persists the learned Q-table.
func (w *Worker) EvaluateCampaigns(ctx context.Context, tenantID string) {
	pol := w.policies.For(ctx, tenantID)

	campaigns, err := w.repo.ListCampaigns(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list campaigns",
			"tenant_id", tenantID,
			"error", err,
		)
		return
	}

	for _, c := range campaigns {
		if c.Status != domain.CampaignActive {
			continue
		}
		w.evaluateCampaign(ctx, tenantID, pol, c)
	}

	if snap, err := pol.Snapshot(); err == nil {
		if err := w.repo.SaveQTable(ctx, tenantID, policy.SnapshotID, snap); err != nil {
			slog.Error("failed to persist policy snapshot",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}
}

// evaluateCampaign proposes an action for one campaign, runs it through
// guardrails and the aggregator, applies approved budget changes, and
// rewards the policy for the previous step.
func (w *Worker) evaluateCampaign(ctx context.Context, tenantID string, pol *policy.Policy, c *domain.Campaign) {
	start := time.Now()
	state := policy.Discretize(c)

	// Settle the previous step now that its outcome is observable
	key := tenantID + ":" + c.ID
	w.mu.Lock()
	if obs, ok := w.observations[key]; ok {
		reward := policy.Reward(obs.campaign, c)
		pol.Update(obs.state, obs.action, reward, state)
	}
	w.mu.Unlock()

	action := pol.SelectAction(state)

	results, err := w.engine.EvaluateAll(ctx, &guardrail.EvaluateInput{
		TenantID:    tenantID,
		Campaign:    c,
		Action:      action,
		SpendWindow: w.spendWindow,
	})
	if err != nil {
		slog.Error("guardrail evaluation failed",
			"campaign_id", c.ID,
			"error", err,
		)
		return
	}

	d := w.aggregator.Decide(ctx, &decision.Input{
		TenantID:         tenantID,
		CampaignID:       c.ID,
		Action:           action,
		GuardrailResults: results,
		StartTime:        start,
	})

	if err := w.repo.SaveDecision(ctx, tenantID, d); err != nil {
		slog.Error("failed to save decision",
			"campaign_id", c.ID,
			"error", err,
		)
	}

	payload, _ := json.Marshal(d)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicCampaignDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"campaign_id", c.ID,
			"error", err,
		)
	}

	if decision.Approved(d) && action != domain.ActionHold {
		w.applyBudgetChange(ctx, tenantID, c, action)
	} else if !decision.Approved(d) && action != domain.ActionHold {
		// Rejected scale actions surface as alerts
		alert, _ := json.Marshal(map[string]any{
			"campaignId": c.ID,
			"action":     action,
			"score":      d.Score,
			"reasons":    d.Reasons(),
		})
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"campaign_id", c.ID,
				"error", err,
			)
		}
	}

	w.mu.Lock()
	w.observations[key] = &observation{
		state:    state,
		action:   action,
		campaign: c,
	}
	w.mu.Unlock()

	slog.Info("campaign evaluated",
		"campaign_id", c.ID,
		"tenant_id", tenantID,
		"action", action,
		"status", d.Status,
		"score", d.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// applyBudgetChange adjusts the daily budget by the scale step.
func (w *Worker) applyBudgetChange(ctx context.Context, tenantID string, c *domain.Campaign, action string) {
	newBudget := c.DailyBudget
	switch action {
	case domain.ActionScaleUp:
		newBudget = c.DailyBudget * (1 + domain.ScaleStepFactor)
	case domain.ActionScaleDown:
		newBudget = c.DailyBudget * (1 - domain.ScaleStepFactor)
	}

	if err := w.repo.UpdateCampaignBudget(ctx, tenantID, c.ID, newBudget); err != nil {
		slog.Error("failed to update campaign budget",
			"campaign_id", c.ID,
			"action", action,
			"error", err,
		)
		return
	}

	slog.Info("budget adjusted",
		"campaign_id", c.ID,
		"action", action,
		"old_budget", c.DailyBudget,
		"new_budget", newBudget,
	)
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	TrackedCampaigns  int      `json:"trackedCampaigns"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	tracked := len(w.observations)
	w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		TrackedCampaigns:  tracked,
	}
}
