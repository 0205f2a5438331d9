package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// ListGuardrails handles GET /guardrails, returning what the engine has
// loaded for the tenant rather than the persisted configs.
func (h *Handler) ListGuardrails(w http.ResponseWriter, r *http.Request) {
	tenantID := GetTenantID(r.Context())
	loaded := h.deps.Engine.GetLoadedGuardrails(tenantID)

	writeJSON(w, http.StatusOK, map[string]any{
		"guardrails": loaded,
		"count":      len(loaded),
	})
}

// CreateGuardrail handles POST /guardrails: compile, persist, load.
func (h *Handler) CreateGuardrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var cfg domain.GuardrailConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if cfg.Name == "" || cfg.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and expression are required",
		})
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	cfg.TenantID = tenantID

	if err := h.deps.Engine.ValidateGuardrail(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid guardrail expression: " + err.Error(),
		})
		return
	}

	if err := h.deps.Repo.SaveGuardrail(ctx, tenantID, &cfg); err != nil {
		writeRepoError(w, err, "guardrail")
		return
	}

	if cfg.Enabled {
		if err := h.deps.Engine.LoadGuardrail(&cfg); err != nil {
			slog.Error("failed to load guardrail",
				"guardrail_id", cfg.ID,
				"error", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "internal server error",
			})
			return
		}
	}

	writeJSON(w, http.StatusCreated, &cfg)
}

// ReloadGuardrails handles POST /guardrails/reload: atomically replace
// the tenant's loaded guardrails with its persisted configs.
func (h *Handler) ReloadGuardrails(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	configs, err := h.deps.Repo.ListGuardrails(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list guardrails", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	enabled := make([]*domain.GuardrailConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Enabled {
			enabled = append(enabled, cfg)
		}
	}

	if err := h.deps.Engine.ReloadGuardrails(tenantID, enabled); err != nil {
		slog.Error("failed to reload guardrails", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"count":    len(enabled),
	})
}
