package domain

import "time"

// Campaign statuses.
const (
	CampaignActive  = "active"
	CampaignPaused  = "paused"
	CampaignStopped = "stopped"
)

// Campaign is a scaling campaign for a business: a budget plus the
// observed acquisition metrics the policy and guardrails operate on.
type Campaign struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	BusinessID string `json:"businessId"`

	Name   string `json:"name"`
	Status string `json:"status"`

	// Budget controls
	DailyBudget float64 `json:"dailyBudget"`
	DailySpend  float64 `json:"dailySpend"`
	TotalSpend  float64 `json:"totalSpend"`

	// Acquisition metrics
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ROI returns revenue per unit of total spend, or 0 with no spend.
func (c *Campaign) ROI() float64 {
	if c.TotalSpend <= 0 {
		return 0
	}
	return c.Revenue / c.TotalSpend
}

// ConversionRate returns conversions per click, or 0 with no clicks.
func (c *Campaign) ConversionRate() float64 {
	if c.Clicks <= 0 {
		return 0
	}
	return float64(c.Conversions) / float64(c.Clicks)
}

// CampaignRequest is the API request payload for creating a campaign.
type CampaignRequest struct {
	BusinessID  string  `json:"businessId"`
	Name        string  `json:"name"`
	Status      string  `json:"status,omitempty"`
	DailyBudget float64 `json:"dailyBudget"`
}

// ToCampaign converts a request to a Campaign domain object.
func (r *CampaignRequest) ToCampaign() *Campaign {
	now := time.Now().UTC()
	status := r.Status
	if status == "" {
		status = CampaignActive
	}
	return &Campaign{
		BusinessID:  r.BusinessID,
		Name:        r.Name,
		Status:      status,
		DailyBudget: r.DailyBudget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidCampaignStatus reports whether s is a known campaign status.
func ValidCampaignStatus(s string) bool {
	switch s {
	case CampaignActive, CampaignPaused, CampaignStopped:
		return true
	}
	return false
}

// CampaignMetrics is a delta of observed metrics recorded against a campaign.
type CampaignMetrics struct {
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Revenue     float64 `json:"revenue"`
}

// Campaign actions proposed by the policy.
const (
	ActionHold      = "hold"
	ActionScaleUp   = "scale_up"
	ActionScaleDown = "scale_down"
)

// ScaleStepFactor is the multiplicative budget adjustment applied when a
// scale action is approved.
const ScaleStepFactor = 0.2
