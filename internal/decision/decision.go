// Package decision aggregates guardrail results into a final verdict
// on a proposed campaign action.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// EngineVersion is stamped into every decision's metadata.
const EngineVersion = "autopilot-1.0"

// Aggregator combines weighted guardrail scores into a decision.
type Aggregator struct {
	// RejectThreshold above which an action is rejected
	RejectThreshold float64

	// UseWeightedScoring applies guardrail weights in aggregation
	UseWeightedScoring bool
}

// NewAggregator creates an aggregator with default settings.
func NewAggregator() *Aggregator {
	return &Aggregator{
		RejectThreshold:    0.7,
		UseWeightedScoring: true,
	}
}

// Input contains all data needed for a decision.
type Input struct {
	TenantID         string
	CampaignID       string
	Action           string
	TraceID          string
	GuardrailResults []domain.GuardrailResult
	StartTime        time.Time
}

// Decide evaluates guardrail results and produces a final decision.
// Any blocking guardrail rejects the action outright; otherwise the
// weighted mean score is compared against the threshold.
func (a *Aggregator) Decide(ctx context.Context, input *Input) *domain.Decision {
	start := time.Now()

	d := &domain.Decision{
		ID:               uuid.New().String(),
		TenantID:         input.TenantID,
		CampaignID:       input.CampaignID,
		Action:           input.Action,
		Timestamp:        time.Now().UTC(),
		GuardrailResults: input.GuardrailResults,
	}

	agg := a.aggregate(input.GuardrailResults)

	if agg.HasBlock || agg.AggregateScore >= a.RejectThreshold {
		d.Status = domain.DecisionRejected
	} else {
		d.Status = domain.DecisionApproved
	}

	d.Score = agg.AggregateScore

	decisionMs := time.Since(start).Milliseconds()
	totalMs := time.Since(input.StartTime).Milliseconds()

	d.Metadata = domain.DecisionMetadata{
		TraceID:             input.TraceID,
		GuardrailsEvaluated: len(input.GuardrailResults),
		DecisionMs:          decisionMs,
		TotalMs:             totalMs,
		EngineVersion:       EngineVersion,
	}

	return d
}

// AggregateResult holds the aggregated scoring results.
type AggregateResult struct {
	AggregateScore      float64
	TotalWeight         float64
	GuardrailsTriggered int
	HasBlock            bool
}

// aggregate computes the weighted mean score from guardrail results.
func (a *Aggregator) aggregate(results []domain.GuardrailResult) *AggregateResult {
	if len(results) == 0 {
		return &AggregateResult{}
	}

	agg := &AggregateResult{}

	for _, r := range results {
		weight := r.Weight
		if weight <= 0 {
			weight = 1.0
		}

		switch r.SubRuleRef {
		case domain.GuardrailBlock:
			agg.HasBlock = true
			agg.GuardrailsTriggered++
		case domain.GuardrailReview:
			agg.GuardrailsTriggered++
		case domain.GuardrailError:
			// Evaluation errors fail closed
			agg.HasBlock = true
			agg.GuardrailsTriggered++
		}

		if a.UseWeightedScoring {
			agg.AggregateScore += r.Score * weight
			agg.TotalWeight += weight
		} else {
			agg.AggregateScore += r.Score
			agg.TotalWeight += 1.0
		}
	}

	if agg.TotalWeight > 0 {
		agg.AggregateScore = agg.AggregateScore / agg.TotalWeight
	}

	return agg
}

// Approved reports whether the decision allows the action to proceed.
func Approved(d *domain.Decision) bool {
	return d.Status == domain.DecisionApproved
}
