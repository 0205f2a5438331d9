package domain

import "time"

// DashboardSnapshot is the aggregate revenue report for a tenant.
// Computed over an empty database it is the zero-value shape: zero
// totals and empty slices, never an error.
type DashboardSnapshot struct {
	TenantID    string    `json:"tenantId"`
	GeneratedAt time.Time `json:"generatedAt"`

	// Business totals
	TotalBusinesses    int64            `json:"totalBusinesses"`
	BusinessesByStatus map[string]int64 `json:"businessesByStatus"`

	// Revenue totals
	TotalRevenue     float64 `json:"totalRevenue"`
	MonthlyRecurring float64 `json:"monthlyRecurring"`
	AverageRevenue   float64 `json:"averageRevenue"`

	// Payment totals
	PaymentVolume    float64          `json:"paymentVolume"`
	PaymentsByStatus map[string]int64 `json:"paymentsByStatus"`

	// Campaign totals
	ActiveCampaigns  int64   `json:"activeCampaigns"`
	TotalSpend       float64 `json:"totalSpend"`
	TotalConversions int64   `json:"totalConversions"`

	// Top businesses by revenue (at most five)
	TopBusinesses []BusinessSummary `json:"topBusinesses"`
}

// BusinessSummary is a compact entry in the dashboard top list.
type BusinessSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Revenue float64 `json:"revenue"`
}

// NewDashboardSnapshot returns an empty snapshot with initialized maps
// and slices so marshaled output is structurally stable.
func NewDashboardSnapshot(tenantID string) *DashboardSnapshot {
	return &DashboardSnapshot{
		TenantID:           tenantID,
		GeneratedAt:        time.Now().UTC(),
		BusinessesByStatus: make(map[string]int64),
		PaymentsByStatus:   make(map[string]int64),
		TopBusinesses:      []BusinessSummary{},
	}
}
