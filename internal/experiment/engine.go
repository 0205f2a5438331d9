package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

var (
	// ErrInvalidRequest is returned when an experiment request fails
	// validation.
	ErrInvalidRequest = errors.New("invalid experiment request")

	// ErrNotRunning is returned when exposures are recorded against a
	// decided or stopped experiment.
	ErrNotRunning = errors.New("experiment is not running")
)

// Engine runs experiments against the repository: assignment, counter
// updates, and evaluation with automatic winner promotion.
type Engine struct {
	repo   domain.Repository
	logger *slog.Logger
}

// NewEngine creates an experiment engine.
func NewEngine(repo domain.Repository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:   repo,
		logger: logger,
	}
}

// CreateRequest is the API payload for creating an experiment.
type CreateRequest struct {
	Name         string           `json:"name"`
	BusinessID   string           `json:"businessId,omitempty"`
	Locales      []string         `json:"locales,omitempty"`
	Variants     []domain.Variant `json:"variants"`
	Significance float64          `json:"significance,omitempty"`
	MinSamples   int64            `json:"minSamples,omitempty"`
}

// Create validates and stores a new running experiment.
func (e *Engine) Create(ctx context.Context, tenantID string, req *CreateRequest) (*domain.Experiment, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if len(req.Variants) < 2 {
		return nil, fmt.Errorf("%w: at least two variants are required", ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(req.Variants))
	for _, v := range req.Variants {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: variant id is required", ErrInvalidRequest)
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("%w: duplicate variant id %s", ErrInvalidRequest, v.ID)
		}
		seen[v.ID] = true
	}

	significance := req.Significance
	if significance <= 0 {
		significance = 0.05
	}
	minSamples := req.MinSamples
	if minSamples <= 0 {
		minSamples = 100
	}

	now := time.Now().UTC()
	exp := &domain.Experiment{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Name:         req.Name,
		BusinessID:   req.BusinessID,
		Locales:      req.Locales,
		Variants:     req.Variants,
		Significance: significance,
		MinSamples:   minSamples,
		State:        domain.ExperimentRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.repo.SaveExperiment(ctx, tenantID, exp); err != nil {
		return nil, fmt.Errorf("failed to save experiment: %w", err)
	}

	return exp, nil
}

// RecordExposure assigns a subject to a variant and bumps the exposure
// counter for the subject's locale. Returns the assigned variant ID.
func (e *Engine) RecordExposure(ctx context.Context, tenantID, experimentID, subjectID, locale string) (string, error) {
	exp, err := e.repo.GetExperiment(ctx, tenantID, experimentID)
	if err != nil {
		return "", err
	}
	if exp.State != domain.ExperimentRunning {
		return "", fmt.Errorf("%w: %s", ErrNotRunning, experimentID)
	}

	variantID := AssignVariant(exp, subjectID)
	if err := e.repo.IncrementExposure(ctx, tenantID, experimentID, variantID, locale); err != nil {
		return "", err
	}

	return variantID, nil
}

// RecordConversion bumps the conversion counter for the subject's
// assigned variant in their locale. Decided or stopped experiments
// reject conversions so their recorded rates stay frozen.
func (e *Engine) RecordConversion(ctx context.Context, tenantID, experimentID, subjectID, locale string) error {
	exp, err := e.repo.GetExperiment(ctx, tenantID, experimentID)
	if err != nil {
		return err
	}
	if exp.State != domain.ExperimentRunning {
		return fmt.Errorf("%w: %s", ErrNotRunning, experimentID)
	}

	variantID := AssignVariant(exp, subjectID)
	return e.repo.IncrementConversion(ctx, tenantID, experimentID, variantID, locale)
}

// EvaluateExperiment loads an experiment, runs the statistical
// comparison, and promotes the winner when every segment is decided.
func (e *Engine) EvaluateExperiment(ctx context.Context, tenantID, experimentID string) (*domain.ExperimentResult, error) {
	exp, err := e.repo.GetExperiment(ctx, tenantID, experimentID)
	if err != nil {
		return nil, err
	}

	result := Evaluate(exp)

	if result.Decided && exp.State == domain.ExperimentRunning {
		if err := e.repo.SetExperimentDecision(ctx, tenantID, experimentID, result.WinnerID); err != nil {
			return nil, fmt.Errorf("failed to record decision: %w", err)
		}
		e.logger.Info("experiment decided",
			"tenant_id", tenantID,
			"experiment_id", experimentID,
			"winner_id", result.WinnerID,
		)
	}

	return result, nil
}
