// Package experiment implements the multilingual A/B testing harness:
// deterministic variant assignment, per-locale counters, and a
// two-proportion z-test for declaring winners.
package experiment

import (
	"hash/fnv"
	"math"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// AssignVariant deterministically assigns a subject to a variant by
// hashing the experiment and subject IDs. The same subject always lands
// in the same variant for a given experiment.
func AssignVariant(e *domain.Experiment, subjectID string) string {
	if len(e.Variants) == 0 {
		return ""
	}

	h := fnv.New64a()
	h.Write([]byte(e.ID))
	h.Write([]byte{':'})
	h.Write([]byte(subjectID))

	idx := h.Sum64() % uint64(len(e.Variants))
	return e.Variants[idx].ID
}

// zTest runs a pooled two-proportion z-test.
// Returns the z-score and the two-tailed p-value.
func zTest(conversionsA, exposuresA, conversionsB, exposuresB int64) (float64, float64) {
	if exposuresA == 0 || exposuresB == 0 {
		return 0, 1
	}

	pA := float64(conversionsA) / float64(exposuresA)
	pB := float64(conversionsB) / float64(exposuresB)

	pooled := float64(conversionsA+conversionsB) / float64(exposuresA+exposuresB)
	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(exposuresA) + 1/float64(exposuresB)))
	if se == 0 {
		return 0, 1
	}

	z := (pB - pA) / se
	p := math.Erfc(math.Abs(z) / math.Sqrt2)

	return z, p
}

// locales returns the experiment's segment keys, defaulting to the
// global segment when no locales are configured.
func locales(e *domain.Experiment) []string {
	if len(e.Locales) == 0 {
		return []string{domain.GlobalLocale}
	}
	return e.Locales
}

// Evaluate runs the per-locale statistical comparison for an experiment.
// The first variant is the control; with more than two variants the
// challenger with the highest conversion rate in a segment is compared.
// Every segment is always present in the result, regardless of how much
// data has accumulated.
func Evaluate(e *domain.Experiment) *domain.ExperimentResult {
	result := &domain.ExperimentResult{
		ExperimentID: e.ID,
		Segments:     []domain.SegmentResult{},
	}

	if len(e.Variants) < 2 {
		return result
	}

	control := &e.Variants[0]
	minSamples := e.MinSamples
	if minSamples <= 0 {
		minSamples = 100
	}
	significance := e.Significance
	if significance <= 0 {
		significance = 0.05
	}

	allSignificant := true
	winners := make(map[string]int)

	for _, locale := range locales(e) {
		seg := evaluateSegment(e, control, locale, minSamples, significance)
		result.Segments = append(result.Segments, seg)

		if !seg.Significant {
			allSignificant = false
		}
		if seg.WinnerID != "" {
			winners[seg.WinnerID]++
		}
	}

	if allSignificant && len(result.Segments) > 0 {
		result.Decided = true
		result.WinnerID = majorityWinner(winners, result.Segments)
	}

	return result
}

func evaluateSegment(e *domain.Experiment, control *domain.Variant, locale string, minSamples int64, significance float64) domain.SegmentResult {
	challenger := bestChallenger(e, locale)

	seg := domain.SegmentResult{
		Locale:       locale,
		ControlID:    control.ID,
		ChallengerID: challenger.ID,
	}

	ce := control.Exposures[locale]
	cc := control.Conversions[locale]
	he := challenger.Exposures[locale]
	hc := challenger.Conversions[locale]

	if ce > 0 {
		seg.ControlRate = float64(cc) / float64(ce)
	}
	if he > 0 {
		seg.ChallengerRate = float64(hc) / float64(he)
	}

	seg.ZScore, seg.PValue = zTest(cc, ce, hc, he)
	seg.Sufficient = ce >= minSamples && he >= minSamples
	seg.Significant = seg.Sufficient && seg.PValue < significance

	if seg.Significant {
		if seg.ChallengerRate > seg.ControlRate {
			seg.WinnerID = challenger.ID
		} else {
			seg.WinnerID = control.ID
		}
	}

	return seg
}

// bestChallenger picks the non-control variant with the highest
// conversion rate in a locale. Ties keep the earlier variant.
func bestChallenger(e *domain.Experiment, locale string) *domain.Variant {
	best := &e.Variants[1]
	bestRate := conversionRate(best, locale)

	for i := 2; i < len(e.Variants); i++ {
		v := &e.Variants[i]
		if rate := conversionRate(v, locale); rate > bestRate {
			best = v
			bestRate = rate
		}
	}

	return best
}

func conversionRate(v *domain.Variant, locale string) float64 {
	exposures := v.Exposures[locale]
	if exposures == 0 {
		return 0
	}
	return float64(v.Conversions[locale]) / float64(exposures)
}

// majorityWinner picks the variant winning the most segments. Ties fall
// back to the first segment's winner for determinism.
func majorityWinner(winners map[string]int, segments []domain.SegmentResult) string {
	var winner string
	var count int
	for _, seg := range segments {
		if winners[seg.WinnerID] > count {
			winner = seg.WinnerID
			count = winners[seg.WinnerID]
		}
	}
	return winner
}
