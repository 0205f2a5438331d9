package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/autopilot-ventures/autopilot/internal/decision"
	"github.com/autopilot-ventures/autopilot/internal/domain"
	"github.com/autopilot-ventures/autopilot/internal/guardrail"
	"github.com/autopilot-ventures/autopilot/internal/policy"
)

// CreateCampaign handles POST /campaigns.
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.CampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.BusinessID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "businessId and name are required",
		})
		return
	}
	if req.DailyBudget <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "dailyBudget must be positive",
		})
		return
	}
	if req.Status != "" && !domain.ValidCampaignStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid campaign status: " + req.Status,
		})
		return
	}

	if _, err := h.deps.Repo.GetBusiness(ctx, tenantID, req.BusinessID); err != nil {
		writeRepoError(w, err, "business")
		return
	}

	campaign := req.ToCampaign()
	campaign.ID = uuid.New().String()
	campaign.TenantID = tenantID

	if err := h.deps.Repo.SaveCampaign(ctx, tenantID, campaign); err != nil {
		slog.Error("failed to save campaign", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

// ListCampaigns handles GET /campaigns.
func (h *Handler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	campaigns, err := h.deps.Repo.ListCampaigns(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list campaigns", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"campaigns": campaigns,
		"count":     len(campaigns),
	})
}

// GetCampaign handles GET /campaigns/{id}.
func (h *Handler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	campaignID := chi.URLParam(r, "id")

	campaign, err := h.deps.Repo.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		writeRepoError(w, err, "campaign")
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

// RecordMetrics handles POST /campaigns/{id}/metrics. Spend deltas also
// feed the windowed spend tracker consumed by guardrails.
func (h *Handler) RecordMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	campaignID := chi.URLParam(r, "id")

	var metrics domain.CampaignMetrics
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.deps.Repo.RecordCampaignMetrics(ctx, tenantID, campaignID, &metrics); err != nil {
		writeRepoError(w, err, "campaign")
		return
	}

	if h.deps.Tracker != nil && metrics.Spend > 0 {
		if err := h.deps.Tracker.Observe(tenantID, campaignID, metrics.Spend); err != nil {
			slog.Warn("failed to track campaign spend",
				"campaign_id", campaignID,
				"error", err,
			)
		}
	}

	campaign, err := h.deps.Repo.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		writeRepoError(w, err, "campaign")
		return
	}

	writeJSON(w, http.StatusOK, campaign)
}

// tickRequest optionally forces the action evaluated on a manual tick.
type tickRequest struct {
	Action string `json:"action,omitempty"`
}

// TickCampaign handles POST /campaigns/{id}/tick: a synchronous run of
// the evaluate pipeline for one campaign, returning the decision.
func (h *Handler) TickCampaign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	campaignID := chi.URLParam(r, "id")
	start := time.Now()

	var req tickRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	campaign, err := h.deps.Repo.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		writeRepoError(w, err, "campaign")
		return
	}
	if campaign.Status != domain.CampaignActive {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "campaign is not active",
		})
		return
	}

	action := req.Action
	switch action {
	case "":
		action = h.deps.Policies.For(ctx, tenantID).SelectAction(policy.Discretize(campaign))
	case domain.ActionHold, domain.ActionScaleUp, domain.ActionScaleDown:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown action: " + action,
		})
		return
	}

	results, err := h.deps.Engine.EvaluateAll(ctx, &guardrail.EvaluateInput{
		TenantID:    tenantID,
		Campaign:    campaign,
		Action:      action,
		SpendWindow: h.deps.SpendWindow,
	})
	if err != nil {
		slog.Error("guardrail evaluation failed",
			"campaign_id", campaignID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	d := h.deps.Aggregator.Decide(ctx, &decision.Input{
		TenantID:         tenantID,
		CampaignID:       campaignID,
		Action:           action,
		TraceID:          GetTraceID(ctx),
		GuardrailResults: results,
		StartTime:        start,
	})

	if err := h.deps.Repo.SaveDecision(ctx, tenantID, d); err != nil {
		slog.Error("failed to save decision",
			"campaign_id", campaignID,
			"error", err,
		)
	}

	applied := false
	if decision.Approved(d) && action != domain.ActionHold {
		budget := campaign.DailyBudget
		switch action {
		case domain.ActionScaleUp:
			budget = campaign.DailyBudget * (1 + domain.ScaleStepFactor)
		case domain.ActionScaleDown:
			budget = campaign.DailyBudget * (1 - domain.ScaleStepFactor)
		}
		if err := h.deps.Repo.UpdateCampaignBudget(ctx, tenantID, campaignID, budget); err != nil {
			slog.Error("failed to update campaign budget",
				"campaign_id", campaignID,
				"error", err,
			)
		} else {
			applied = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decision": d,
		"action":   action,
		"applied":  applied,
	})
}
