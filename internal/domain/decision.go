package domain

import (
	"time"
)

// Decision statuses.
const (
	DecisionApproved = "APPROVED"
	DecisionRejected = "REJECTED"
)

// Decision is the aggregated verdict on a proposed campaign action.
type Decision struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	CampaignID string    `json:"campaignId"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Score      float64   `json:"score"`
	Timestamp  time.Time `json:"timestamp"`

	GuardrailResults []GuardrailResult `json:"guardrailResults"`

	Metadata DecisionMetadata `json:"metadata"`
}

// DecisionMetadata carries processing information.
type DecisionMetadata struct {
	TraceID             string `json:"traceId"`
	GuardrailsEvaluated int    `json:"guardrailsEvaluated"`
	DecisionMs          int64  `json:"decisionMs"`
	TotalMs             int64  `json:"totalMs"`
	EngineVersion       string `json:"engineVersion"`
}

// Reasons extracts human-readable block/review reasons from a decision.
func (d *Decision) Reasons() []string {
	var reasons []string
	for _, r := range d.GuardrailResults {
		if r.SubRuleRef == GuardrailBlock || r.SubRuleRef == GuardrailReview {
			if r.Reason != "" {
				reasons = append(reasons, r.Reason)
			}
		}
	}
	return reasons
}
