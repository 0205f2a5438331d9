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

// SaveGuardrail stores a guardrail configuration with tenant isolation.
func (r *SQLRepository) SaveGuardrail(ctx context.Context, tenantID string, g *domain.GuardrailConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(g.Bands)

	enabled := 0
	if g.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO guardrails (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		g.ID, tenantID, g.Name, g.Description,
		g.Version, g.Expression, string(bands), g.Weight, enabled,
		now, now,
	)
	return err
}

// GetGuardrail retrieves the latest active version of a guardrail.
func (r *SQLRepository) GetGuardrail(ctx context.Context, tenantID string, guardrailID string) (*domain.GuardrailConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM guardrails
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var g domain.GuardrailConfig
	var bands string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, guardrailID).Scan(
		&g.ID, &g.TenantID, &g.Name, &g.Description,
		&g.Version, &g.Expression, &bands, &g.Weight, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	g.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &g.Bands)

	return &g, nil
}

// ListGuardrails retrieves all active guardrail configurations for a tenant.
func (r *SQLRepository) ListGuardrails(ctx context.Context, tenantID string) ([]*domain.GuardrailConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM guardrails
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.GuardrailConfig
	for rows.Next() {
		var g domain.GuardrailConfig
		var bands string
		var enabled int

		if err := rows.Scan(
			&g.ID, &g.TenantID, &g.Name, &g.Description,
			&g.Version, &g.Expression, &bands, &g.Weight, &enabled,
		); err != nil {
			return nil, err
		}

		g.Enabled = enabled == 1
		json.Unmarshal([]byte(bands), &g.Bands)
		configs = append(configs, &g)
	}

	return configs, rows.Err()
}

// DeleteGuardrail soft-deletes a guardrail by setting enabled = 0.
func (r *SQLRepository) DeleteGuardrail(ctx context.Context, tenantID string, guardrailID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE guardrails
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, guardrailID)
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

// SaveQTable persists a policy snapshot for a tenant.
func (r *SQLRepository) SaveQTable(ctx context.Context, tenantID string, policyID string, snapshot []byte) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO policy_snapshots (policy_id, tenant_id, snapshot, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(policy_id, tenant_id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), policyID, tenantID, string(snapshot), time.Now().UTC())
	return err
}

// GetQTable retrieves the stored policy snapshot for a tenant.
func (r *SQLRepository) GetQTable(ctx context.Context, tenantID string, policyID string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT snapshot
		FROM policy_snapshots
		WHERE tenant_id = ? AND policy_id = ?
	`

	var snapshot string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, policyID).Scan(&snapshot)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return []byte(snapshot), nil
}
