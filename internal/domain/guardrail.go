package domain

// GuardrailConfig defines a campaign guardrail: a CEL expression scored
// against a proposed action, mapped to an outcome through bands.
type GuardrailConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Outcome bands for score-to-outcome mapping
	Bands []GuardrailBand `json:"bands"`

	// Guardrail weight in the aggregated decision
	Weight float64 `json:"weight"`

	// Whether guardrail is active
	Enabled bool `json:"enabled"`
}

// GuardrailBand maps a score range to an outcome.
type GuardrailBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef"` // e.g. ".allow", ".block", ".review"
	Reason     string   `json:"reason"`
}

// GuardrailResult is the output of a guardrail evaluation.
type GuardrailResult struct {
	GuardrailID string  `json:"guardrailId"`
	TenantID    string  `json:"tenantId"`
	CampaignID  string  `json:"campaignId"`
	SubRuleRef  string  `json:"subRuleRef"`
	Score       float64 `json:"score"`
	Reason      string  `json:"reason"`
	Weight      float64 `json:"weight"`
	ProcessMs   int64   `json:"processMs"`
}

// Predefined guardrail outcomes
const (
	GuardrailAllow  = ".allow"
	GuardrailBlock  = ".block"
	GuardrailReview = ".review"
	GuardrailError  = ".err"
)
