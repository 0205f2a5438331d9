// Package domain defines the core interfaces and types for the AutoPilot platform.
package domain

import (
	"time"
)

// Business statuses.
const (
	BusinessDraft  = "draft"
	BusinessActive = "active"
	BusinessPaused = "paused"
)

// Business represents a venture managed by the platform.
type Business struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Name  string `json:"name"`
	Niche string `json:"niche"`

	// Lifecycle status: "draft", "active", or "paused"
	Status string `json:"status"`

	// Revenue totals, maintained by the payments processor
	RevenueGenerated float64 `json:"revenueGenerated"`
	MonthlyRecurring float64 `json:"monthlyRecurring"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// BusinessRequest is the API request payload for creating a business.
type BusinessRequest struct {
	Name     string                 `json:"name"`
	Niche    string                 `json:"niche"`
	Status   string                 `json:"status,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToBusiness converts a request to a Business domain object.
func (r *BusinessRequest) ToBusiness() *Business {
	now := time.Now().UTC()
	status := r.Status
	if status == "" {
		status = BusinessDraft
	}
	return &Business{
		Name:      r.Name,
		Niche:     r.Niche,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  r.Metadata,
	}
}

// ValidBusinessStatus reports whether s is a known business status.
func ValidBusinessStatus(s string) bool {
	switch s {
	case BusinessDraft, BusinessActive, BusinessPaused:
		return true
	}
	return false
}
