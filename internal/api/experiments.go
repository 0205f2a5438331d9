package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/autopilot-ventures/autopilot/internal/experiment"
)

// CreateExperiment handles POST /experiments.
func (h *Handler) CreateExperiment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req experiment.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	exp, err := h.deps.Experiments.Create(ctx, tenantID, &req)
	if err != nil {
		if errors.Is(err, experiment.ErrInvalidRequest) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to create experiment", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	writeJSON(w, http.StatusCreated, exp)
}

// ListExperiments handles GET /experiments.
func (h *Handler) ListExperiments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	experiments, err := h.deps.Repo.ListExperiments(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list experiments", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"experiments": experiments,
		"count":       len(experiments),
	})
}

// ExperimentResults handles GET /experiments/{id}/results.
func (h *Handler) ExperimentResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	experimentID := chi.URLParam(r, "id")

	result, err := h.deps.Experiments.EvaluateExperiment(ctx, tenantID, experimentID)
	if err != nil {
		writeRepoError(w, err, "experiment")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// exposureRequest identifies the subject for exposure and conversion
// recording.
type exposureRequest struct {
	SubjectID string `json:"subjectId"`
	Locale    string `json:"locale,omitempty"`
}

// RecordExposure handles POST /experiments/{id}/exposure.
func (h *Handler) RecordExposure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	experimentID := chi.URLParam(r, "id")

	var req exposureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subjectId is required",
		})
		return
	}

	variantID, err := h.deps.Experiments.RecordExposure(ctx, tenantID, experimentID, req.SubjectID, req.Locale)
	if err != nil {
		if errors.Is(err, experiment.ErrNotRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeRepoError(w, err, "experiment")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"variantId": variantID,
	})
}

// RecordConversion handles POST /experiments/{id}/conversion.
func (h *Handler) RecordConversion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	experimentID := chi.URLParam(r, "id")

	var req exposureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.SubjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "subjectId is required",
		})
		return
	}

	if err := h.deps.Experiments.RecordConversion(ctx, tenantID, experimentID, req.SubjectID, req.Locale); err != nil {
		if errors.Is(err, experiment.ErrNotRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeRepoError(w, err, "experiment")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"recorded": "true",
	})
}
