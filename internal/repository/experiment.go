package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// SaveExperiment stores or updates an experiment definition. Variant
// counters live in a separate table and are not written here.
func (r *SQLRepository) SaveExperiment(ctx context.Context, tenantID string, e *domain.Experiment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("%w: experiment needs at least two variants", ErrInvalidInput)
	}

	locales, _ := json.Marshal(e.Locales)
	variants, _ := json.Marshal(e.Variants)

	query := `
		INSERT INTO experiments (
			id, tenant_id, name, business_id, locales, variants,
			significance, min_samples, state, winner_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			locales = excluded.locales,
			variants = excluded.variants,
			significance = excluded.significance,
			min_samples = excluded.min_samples,
			state = excluded.state,
			winner_id = excluded.winner_id,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, tenantID, e.Name, e.BusinessID, string(locales), string(variants),
		e.Significance, e.MinSamples, e.State, e.WinnerID,
		e.CreatedAt, e.UpdatedAt,
	)
	return err
}

// GetExperiment retrieves an experiment with its variant counters merged in.
func (r *SQLRepository) GetExperiment(ctx context.Context, tenantID string, experimentID string) (*domain.Experiment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, business_id, locales, variants,
			   significance, min_samples, state, winner_id,
			   created_at, updated_at
		FROM experiments
		WHERE tenant_id = ? AND id = ?
	`

	e, err := r.scanExperiment(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, experimentID))
	if err != nil {
		return nil, err
	}

	if err := r.loadVariantCounters(ctx, tenantID, e); err != nil {
		return nil, err
	}

	return e, nil
}

// ListExperiments retrieves all experiments for a tenant, counters included.
func (r *SQLRepository) ListExperiments(ctx context.Context, tenantID string) ([]*domain.Experiment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, business_id, locales, variants,
			   significance, min_samples, state, winner_id,
			   created_at, updated_at
		FROM experiments
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var experiments []*domain.Experiment
	for rows.Next() {
		e, err := r.scanExperimentRow(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, e := range experiments {
		if err := r.loadVariantCounters(ctx, tenantID, e); err != nil {
			return nil, err
		}
	}

	return experiments, nil
}

func (r *SQLRepository) scanExperiment(row *sql.Row) (*domain.Experiment, error) {
	var e domain.Experiment
	var locales, variants string

	err := row.Scan(
		&e.ID, &e.TenantID, &e.Name, &e.BusinessID, &locales, &variants,
		&e.Significance, &e.MinSamples, &e.State, &e.WinnerID,
		&e.CreatedAt, &e.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return r.decodeExperiment(&e, locales, variants)
}

func (r *SQLRepository) scanExperimentRow(rows *sql.Rows) (*domain.Experiment, error) {
	var e domain.Experiment
	var locales, variants string

	if err := rows.Scan(
		&e.ID, &e.TenantID, &e.Name, &e.BusinessID, &locales, &variants,
		&e.Significance, &e.MinSamples, &e.State, &e.WinnerID,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return r.decodeExperiment(&e, locales, variants)
}

func (r *SQLRepository) decodeExperiment(e *domain.Experiment, locales, variants string) (*domain.Experiment, error) {
	if locales != "" {
		json.Unmarshal([]byte(locales), &e.Locales)
	}
	if err := json.Unmarshal([]byte(variants), &e.Variants); err != nil {
		return nil, fmt.Errorf("failed to parse experiment variants: %w", err)
	}
	return e, nil
}

// loadVariantCounters overlays per-locale exposure and conversion counts
// onto the experiment's variants. The counter table is the source of
// truth; the variants column only carries the definition.
func (r *SQLRepository) loadVariantCounters(ctx context.Context, tenantID string, e *domain.Experiment) error {
	for i := range e.Variants {
		e.Variants[i].Exposures = make(map[string]int64)
		e.Variants[i].Conversions = make(map[string]int64)
	}

	query := `
		SELECT variant_id, locale, exposures, conversions
		FROM variant_counters
		WHERE tenant_id = ? AND experiment_id = ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var variantID, locale string
		var exposures, conversions int64

		if err := rows.Scan(&variantID, &locale, &exposures, &conversions); err != nil {
			return err
		}

		for i := range e.Variants {
			if e.Variants[i].ID == variantID {
				e.Variants[i].Exposures[locale] = exposures
				e.Variants[i].Conversions[locale] = conversions
				break
			}
		}
	}

	return rows.Err()
}

// IncrementExposure atomically bumps the exposure counter for a variant
// in a locale segment.
func (r *SQLRepository) IncrementExposure(ctx context.Context, tenantID string, experimentID, variantID, locale string) error {
	return r.incrementCounter(ctx, tenantID, experimentID, variantID, locale, 1, 0)
}

// IncrementConversion atomically bumps the conversion counter for a
// variant in a locale segment.
func (r *SQLRepository) IncrementConversion(ctx context.Context, tenantID string, experimentID, variantID, locale string) error {
	return r.incrementCounter(ctx, tenantID, experimentID, variantID, locale, 0, 1)
}

func (r *SQLRepository) incrementCounter(ctx context.Context, tenantID, experimentID, variantID, locale string, exposures, conversions int64) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if locale == "" {
		locale = domain.GlobalLocale
	}

	query := `
		INSERT INTO variant_counters (
			experiment_id, tenant_id, variant_id, locale, exposures, conversions
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(experiment_id, tenant_id, variant_id, locale) DO UPDATE SET
			exposures = variant_counters.exposures + excluded.exposures,
			conversions = variant_counters.conversions + excluded.conversions
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		experimentID, tenantID, variantID, locale, exposures, conversions,
	)
	return err
}

// SetExperimentDecision marks an experiment decided with a winner.
func (r *SQLRepository) SetExperimentDecision(ctx context.Context, tenantID string, experimentID, winnerID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE experiments
		SET state = ?, winner_id = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.ExperimentDecided, winnerID, time.Now().UTC(), tenantID, experimentID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
