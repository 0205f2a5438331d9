package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autopilot-ventures/autopilot/internal/domain"
	"github.com/autopilot-ventures/autopilot/internal/payments"
	"github.com/autopilot-ventures/autopilot/internal/repository"
	"github.com/autopilot-ventures/autopilot/internal/worker"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

// maxWebhookBody bounds inbound webhook payloads.
const maxWebhookBody = 1 << 20 // 1 MiB

// CreateIntent handles POST /payments/intents.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req payments.IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	intent, created, err := h.deps.Processor.CreateIntent(ctx, tenantID, &req)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrUnknownBusiness):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "business not found",
			})
		case errors.Is(err, payments.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("failed to create intent", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "internal server error",
			})
		}
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}

	writeJSON(w, status, map[string]any{
		"intent":   intent,
		"replayed": !created,
	})
}

// GetIntent handles GET /payments/intents/{id}.
func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	intentID := chi.URLParam(r, "id")

	intent, err := h.deps.Repo.GetPaymentIntent(ctx, tenantID, intentID)
	if err != nil {
		writeRepoError(w, err, "payment intent")
		return
	}

	writeJSON(w, http.StatusOK, intent)
}

// webhookPayload is the provider event body for POST /webhooks/payment.
type webhookPayload struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	IntentID string `json:"intentId"`
}

// PaymentWebhook handles POST /webhooks/payment. The body must carry a
// valid HMAC signature in X-Signature; unverified traffic is rejected
// before any parsing side effects.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	secret := h.deps.Payments.WebhookSecret
	signature := r.Header.Get(SignatureHeader)
	if secret == "" || !payments.VerifySignature([]byte(secret), body, signature) {
		slog.Warn("rejected webhook with bad signature",
			"tenant_id", tenantID,
		)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid signature",
		})
		return
	}

	if limit := h.deps.Payments.RateLimit; limit > 0 && h.deps.Cache != nil {
		n, err := h.deps.Cache.IncrementCounter(ctx, tenantID, "webhook-rate", time.Minute)
		if err == nil && n > int64(limit) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "webhook rate limit exceeded",
			})
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if payload.ID == "" || payload.Type == "" || payload.IntentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, type, and intentId are required",
		})
		return
	}

	if h.deps.Payments.AsyncApply {
		msg, _ := json.Marshal(worker.WebhookMessage{
			ProviderEventID: payload.ID,
			Type:            payload.Type,
			IntentID:        payload.IntentID,
			Payload:         body,
		})
		if err := h.deps.Bus.Publish(ctx, tenantID, domain.TopicWebhookReceived, msg); err != nil {
			slog.Error("failed to enqueue webhook event", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "internal server error",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": true,
		})
		return
	}

	event := &domain.WebhookEvent{
		ProviderEventID: payload.ID,
		TenantID:        tenantID,
		Type:            payload.Type,
		IntentID:        payload.IntentID,
		Payload:         body,
		ReceivedAt:      time.Now().UTC(),
	}

	err = h.deps.Processor.ApplyEvent(ctx, tenantID, event)
	switch {
	case errors.Is(err, repository.ErrDuplicateEvent):
		writeJSON(w, http.StatusOK, map[string]any{
			"applied":   false,
			"duplicate": true,
		})
	case errors.Is(err, payments.ErrUnknownEventType):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown event type: " + payload.Type,
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "payment intent not found",
		})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	case err != nil:
		slog.Error("failed to apply webhook event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"applied": true,
		})
	}
}
