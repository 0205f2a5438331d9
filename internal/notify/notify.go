// Package notify delivers alert events to an external sink.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// Dispatcher subscribes to the alert topic and POSTs alert payloads to
// the configured sink URL with exponential backoff.
type Dispatcher struct {
	bus     domain.EventBus
	client  *http.Client
	sinkURL string

	maxElapsed      time.Duration
	initialInterval time.Duration

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewDispatcher creates an alert dispatcher. An empty sink URL disables
// delivery; alerts are then dropped after logging.
func NewDispatcher(bus domain.EventBus, cfg domain.NotifyConfig) *Dispatcher {
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		bus:             bus,
		client:          &http.Client{Timeout: 10 * time.Second},
		sinkURL:         cfg.SinkURL,
		maxElapsed:      maxElapsed,
		initialInterval: 500 * time.Millisecond,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start subscribes the dispatcher to the alert topic for each tenant.
func (d *Dispatcher) Start(tenantIDs []string) error {
	for _, tenantID := range tenantIDs {
		sub, err := d.bus.Subscribe(d.ctx, tenantID, domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			return d.handleAlert(ctx, msg)
		})
		if err != nil {
			return err
		}
		d.subscriptions = append(d.subscriptions, sub)
	}

	slog.Info("alert dispatcher started",
		"tenant_count", len(tenantIDs),
		"sink_configured", d.sinkURL != "",
	)

	return nil
}

func (d *Dispatcher) handleAlert(ctx context.Context, msg *domain.Message) error {
	if d.sinkURL == "" {
		slog.Debug("dropping alert, no sink configured",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
		)
		return nil
	}

	if err := d.Deliver(ctx, msg.Payload); err != nil {
		slog.Error("alert delivery failed",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"error", err,
		)
		return err
	}

	slog.Info("alert delivered",
		"message_id", msg.ID,
		"tenant_id", msg.TenantID,
	)
	return nil
}

// Deliver POSTs a payload to the sink, retrying transient failures with
// exponential backoff until MaxElapsed. Client errors other than 408
// and 429 are permanent.
func (d *Dispatcher) Deliver(ctx context.Context, payload []byte) error {
	operation := func() (struct{}, error) {
		var zero struct{}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.sinkURL, bytes.NewReader(payload))
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return zero, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return zero, nil
		}
		if permanentStatus(resp.StatusCode) {
			return zero, backoff.Permanent(fmt.Errorf("sink rejected delivery: %s", resp.Status))
		}
		return zero, fmt.Errorf("sink returned %s", resp.Status)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.initialInterval

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(d.maxElapsed),
	)
	return err
}

// permanentStatus reports whether a response status should not be
// retried. 408 and 429 remain retryable.
func permanentStatus(code int) bool {
	if code < 400 || code >= 500 {
		return false
	}
	return code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}

// Stop unsubscribes and stops the dispatcher.
func (d *Dispatcher) Stop() error {
	d.cancel()

	for _, sub := range d.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	d.subscriptions = nil

	slog.Info("alert dispatcher stopped")
	return nil
}
