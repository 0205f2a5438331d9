package domain

import "time"

// Experiment states.
const (
	ExperimentRunning = "running"
	ExperimentDecided = "decided"
	ExperimentStopped = "stopped"
)

// Experiment is an A/B test over two or more variants, optionally
// segmented by locale for multilingual rollouts.
type Experiment struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Name       string `json:"name"`
	BusinessID string `json:"businessId,omitempty"`

	// Locales this experiment segments on. Empty means a single global
	// segment recorded under locale "*".
	Locales []string `json:"locales,omitempty"`

	Variants []Variant `json:"variants"`

	// Significance is the p-value threshold for declaring a winner.
	Significance float64 `json:"significance"`

	// MinSamples is the minimum exposures per variant before evaluation.
	MinSamples int64 `json:"minSamples"`

	State    string `json:"state"`
	WinnerID string `json:"winnerId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Variant is one arm of an experiment with per-locale counters.
type Variant struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Counters keyed by locale ("*" for the global segment).
	Exposures   map[string]int64 `json:"exposures"`
	Conversions map[string]int64 `json:"conversions"`
}

// GlobalLocale is the segment key used when an experiment has no locales.
const GlobalLocale = "*"

// TotalExposures sums exposures across all locales.
func (v *Variant) TotalExposures() int64 {
	var n int64
	for _, c := range v.Exposures {
		n += c
	}
	return n
}

// TotalConversions sums conversions across all locales.
func (v *Variant) TotalConversions() int64 {
	var n int64
	for _, c := range v.Conversions {
		n += c
	}
	return n
}

// ExperimentResult is the evaluation outcome for one experiment.
// Every field is always populated, regardless of how much data exists.
type ExperimentResult struct {
	ExperimentID string          `json:"experimentId"`
	Segments     []SegmentResult `json:"segments"`

	// Decided is true when every segment reached significance or the
	// experiment was stopped.
	Decided  bool   `json:"decided"`
	WinnerID string `json:"winnerId"`
}

// SegmentResult is the per-locale statistical comparison.
type SegmentResult struct {
	Locale string `json:"locale"`

	ControlID    string `json:"controlId"`
	ChallengerID string `json:"challengerId"`

	ControlRate    float64 `json:"controlRate"`
	ChallengerRate float64 `json:"challengerRate"`

	ZScore float64 `json:"zScore"`
	PValue float64 `json:"pValue"`

	Significant bool   `json:"significant"`
	Sufficient  bool   `json:"sufficient"`
	WinnerID    string `json:"winnerId"`
}
