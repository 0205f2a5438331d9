package repository

import (
	"context"
	"fmt"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// topBusinessCount caps the dashboard's top revenue list.
const topBusinessCount = 5

// DashboardSnapshot computes the tenant's aggregate revenue report.
// An empty database yields zero totals and empty collections, not an error.
func (r *SQLRepository) DashboardSnapshot(ctx context.Context, tenantID string) (*domain.DashboardSnapshot, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	snap := domain.NewDashboardSnapshot(tenantID)

	// Business totals
	query := `
		SELECT COUNT(*),
			   COALESCE(SUM(revenue_generated), 0),
			   COALESCE(SUM(monthly_recurring), 0)
		FROM businesses
		WHERE tenant_id = ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&snap.TotalBusinesses, &snap.TotalRevenue, &snap.MonthlyRecurring,
	); err != nil {
		return nil, err
	}
	if snap.TotalBusinesses > 0 {
		snap.AverageRevenue = snap.TotalRevenue / float64(snap.TotalBusinesses)
	}

	// Businesses by status
	query = `
		SELECT status, COUNT(*)
		FROM businesses
		WHERE tenant_id = ?
		GROUP BY status
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		snap.BusinessesByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Payment totals: volume counts settled money only
	query = `
		SELECT COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0)
		FROM payment_intents
		WHERE tenant_id = ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), domain.IntentSucceeded, tenantID).Scan(
		&snap.PaymentVolume,
	); err != nil {
		return nil, err
	}

	query = `
		SELECT status, COUNT(*)
		FROM payment_intents
		WHERE tenant_id = ?
		GROUP BY status
	`
	rows, err = r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		snap.PaymentsByStatus[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Campaign totals
	query = `
		SELECT COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(total_spend), 0),
			   COALESCE(SUM(conversions), 0)
		FROM scaling_campaigns
		WHERE tenant_id = ?
	`
	if err := r.db.QueryRowContext(ctx, r.rebind(query), domain.CampaignActive, tenantID).Scan(
		&snap.ActiveCampaigns, &snap.TotalSpend, &snap.TotalConversions,
	); err != nil {
		return nil, err
	}

	// Top businesses by revenue
	query = `
		SELECT id, name, revenue_generated
		FROM businesses
		WHERE tenant_id = ?
		ORDER BY revenue_generated DESC, id
		LIMIT ?
	`
	rows, err = r.db.QueryContext(ctx, r.rebind(query), tenantID, topBusinessCount)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var s domain.BusinessSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Revenue); err != nil {
			rows.Close()
			return nil, err
		}
		snap.TopBusinesses = append(snap.TopBusinesses, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}
