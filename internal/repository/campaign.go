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

// SaveCampaign stores or updates a scaling campaign with tenant isolation.
func (r *SQLRepository) SaveCampaign(ctx context.Context, tenantID string, c *domain.Campaign) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO scaling_campaigns (
			id, tenant_id, business_id, name, status,
			daily_budget, daily_spend, total_spend,
			impressions, clicks, conversions, revenue,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			daily_budget = excluded.daily_budget,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.BusinessID, c.Name, c.Status,
		c.DailyBudget, c.DailySpend, c.TotalSpend,
		c.Impressions, c.Clicks, c.Conversions, c.Revenue,
		c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetCampaign retrieves a campaign by ID with tenant isolation.
func (r *SQLRepository) GetCampaign(ctx context.Context, tenantID string, campaignID string) (*domain.Campaign, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, business_id, name, status,
			   daily_budget, daily_spend, total_spend,
			   impressions, clicks, conversions, revenue,
			   created_at, updated_at
		FROM scaling_campaigns
		WHERE tenant_id = ? AND id = ?
	`

	var c domain.Campaign

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, campaignID).Scan(
		&c.ID, &c.TenantID, &c.BusinessID, &c.Name, &c.Status,
		&c.DailyBudget, &c.DailySpend, &c.TotalSpend,
		&c.Impressions, &c.Clicks, &c.Conversions, &c.Revenue,
		&c.CreatedAt, &c.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

// ListCampaigns retrieves all campaigns for a tenant.
func (r *SQLRepository) ListCampaigns(ctx context.Context, tenantID string) ([]*domain.Campaign, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, business_id, name, status,
			   daily_budget, daily_spend, total_spend,
			   impressions, clicks, conversions, revenue,
			   created_at, updated_at
		FROM scaling_campaigns
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*domain.Campaign
	for rows.Next() {
		var c domain.Campaign

		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.BusinessID, &c.Name, &c.Status,
			&c.DailyBudget, &c.DailySpend, &c.TotalSpend,
			&c.Impressions, &c.Clicks, &c.Conversions, &c.Revenue,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}

		campaigns = append(campaigns, &c)
	}

	return campaigns, rows.Err()
}

// RecordCampaignMetrics applies a metrics delta to a campaign's counters.
func (r *SQLRepository) RecordCampaignMetrics(ctx context.Context, tenantID string, campaignID string, m *domain.CampaignMetrics) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE scaling_campaigns
		SET daily_spend = daily_spend + ?,
			total_spend = total_spend + ?,
			impressions = impressions + ?,
			clicks = clicks + ?,
			conversions = conversions + ?,
			revenue = revenue + ?,
			updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		m.Spend, m.Spend, m.Impressions, m.Clicks, m.Conversions, m.Revenue,
		time.Now().UTC(), tenantID, campaignID,
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

// UpdateCampaignBudget sets a campaign's daily budget.
func (r *SQLRepository) UpdateCampaignBudget(ctx context.Context, tenantID string, campaignID string, dailyBudget float64) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if dailyBudget < 0 {
		return fmt.Errorf("%w: daily budget must be non-negative", ErrInvalidInput)
	}

	query := `
		UPDATE scaling_campaigns
		SET daily_budget = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), dailyBudget, time.Now().UTC(), tenantID, campaignID)
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

// SaveDecision stores a decision result with tenant isolation.
func (r *SQLRepository) SaveDecision(ctx context.Context, tenantID string, d *domain.Decision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	guardrailResults, _ := json.Marshal(d.GuardrailResults)
	metadata, _ := json.Marshal(d.Metadata)

	query := `
		INSERT INTO decisions (
			id, tenant_id, campaign_id, action, status, score, timestamp,
			guardrail_results, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, tenantID, d.CampaignID, d.Action, d.Status, d.Score, d.Timestamp,
		string(guardrailResults), string(metadata),
	)
	return err
}

// GetDecision retrieves a decision by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, decisionID string) (*domain.Decision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, campaign_id, action, status, score, timestamp,
			   guardrail_results, metadata
		FROM decisions
		WHERE tenant_id = ? AND id = ?
	`

	var d domain.Decision
	var guardrailResults, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID).Scan(
		&d.ID, &d.TenantID, &d.CampaignID, &d.Action, &d.Status, &d.Score, &d.Timestamp,
		&guardrailResults, &metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(guardrailResults), &d.GuardrailResults)
	json.Unmarshal([]byte(metadata), &d.Metadata)

	return &d, nil
}
