package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/autopilot-ventures/autopilot/internal/decision"
	"github.com/autopilot-ventures/autopilot/internal/domain"
	"github.com/autopilot-ventures/autopilot/internal/experiment"
	"github.com/autopilot-ventures/autopilot/internal/forecast"
	"github.com/autopilot-ventures/autopilot/internal/guardrail"
	"github.com/autopilot-ventures/autopilot/internal/payments"
	"github.com/autopilot-ventures/autopilot/internal/policy"
	"github.com/autopilot-ventures/autopilot/internal/repository"
	"github.com/autopilot-ventures/autopilot/internal/velocity"
)

// snapshotTTL bounds dashboard staleness served from cache.
const snapshotTTL = 30 * time.Second

// Deps holds everything API handlers need.
type Deps struct {
	Repo        domain.Repository
	Cache       domain.Cache
	Bus         domain.EventBus
	Processor   *payments.Processor
	Engine      *guardrail.Engine
	Aggregator  *decision.Aggregator
	Experiments *experiment.Engine
	Forecaster  *forecast.Generator
	Policies    *policy.Store
	Tracker     *velocity.Tracker
	Payments    domain.PaymentsConfig
	SpendWindow int // seconds, for guardrail window_spend
	Version     string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.SpendWindow <= 0 {
		deps.SpendWindow = 3600
	}
	return &Handler{deps: deps}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.deps.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateBusiness handles POST /businesses.
func (h *Handler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.BusinessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if req.Status != "" && !domain.ValidBusinessStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown status: " + req.Status,
		})
		return
	}

	b := req.ToBusiness()
	b.ID = uuid.New().String()
	b.TenantID = tenantID

	if err := h.deps.Repo.SaveBusiness(ctx, tenantID, b); err != nil {
		slog.Error("failed to save business", "error", err)
		writeRepoError(w, err, "business")
		return
	}

	slog.Info("business created", "id", b.ID, "name", b.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, b)
}

// ListBusinesses handles GET /businesses.
func (h *Handler) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	businesses, err := h.deps.Repo.ListBusinesses(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list businesses", "error", err)
		writeRepoError(w, err, "business")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"businesses": businesses,
		"count":      len(businesses),
	})
}

// GetBusiness handles GET /businesses/{id}.
func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	businessID := chi.URLParam(r, "id")

	b, err := h.deps.Repo.GetBusiness(ctx, tenantID, businessID)
	if err != nil {
		writeRepoError(w, err, "business")
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// Dashboard handles GET /dashboard, serving the cached snapshot when
// fresh and recomputing otherwise.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.deps.Cache != nil {
		if snap, err := h.deps.Cache.GetSnapshot(ctx, tenantID); err == nil && snap != nil {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	snap, err := h.deps.Repo.DashboardSnapshot(ctx, tenantID)
	if err != nil {
		slog.Error("failed to compute dashboard", "error", err)
		writeRepoError(w, err, "dashboard")
		return
	}

	if h.deps.Cache != nil {
		if err := h.deps.Cache.SetSnapshot(ctx, tenantID, snap, snapshotTTL); err != nil {
			slog.Warn("failed to cache dashboard snapshot", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, snap)
}

// Opportunities handles GET /opportunities: revenue projections for
// every business of the tenant. The horizon is controlled with ?days=N.
func (h *Handler) Opportunities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 365 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "days must be between 1 and 365",
			})
			return
		}
		days = n
	}

	businesses, err := h.deps.Repo.ListBusinesses(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list businesses", "error", err)
		writeRepoError(w, err, "business")
		return
	}

	projections := make([]*forecast.RevenueProjection, 0, len(businesses))
	for _, b := range businesses {
		projections = append(projections, h.deps.Forecaster.ProjectRevenue(b, days))
	}
	opportunities := h.deps.Forecaster.ScoreOpportunities(businesses, days)

	writeJSON(w, http.StatusOK, map[string]any{
		"opportunities": opportunities,
		"projections":   projections,
		"horizonDays":   days,
		"count":         len(projections),
	})
}

// writeRepoError maps repository errors onto HTTP statuses.
func writeRepoError(w http.ResponseWriter, err error, resource string) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": resource + " not found",
		})
	case errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
