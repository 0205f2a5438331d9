// Package forecast produces synthetic revenue and campaign projections.
// Generators are seeded so the same inputs always produce the same
// numbers, and output is structurally complete for any seed.
package forecast

import (
	"math"
	"math/rand"
	"sort"

	"github.com/autopilot-ventures/autopilot/internal/domain"
)

// nicheMultipliers skew projected growth by business niche. Unknown
// niches fall back to 1.0.
var nicheMultipliers = map[string]float64{
	"dev tools":  1.3,
	"ecommerce":  1.1,
	"newsletter": 0.8,
	"saas":       1.2,
	"content":    0.9,
}

// DailyPoint is one projected day.
type DailyPoint struct {
	Day         int     `json:"day"`
	Revenue     float64 `json:"revenue"`
	Spend       float64 `json:"spend"`
	Conversions int64   `json:"conversions"`
}

// RevenueProjection is a synthetic revenue outlook for a business.
type RevenueProjection struct {
	BusinessID string `json:"businessId"`
	Niche      string `json:"niche"`
	Seed       int64  `json:"seed"`

	HorizonDays int          `json:"horizonDays"`
	Daily       []DailyPoint `json:"daily"`

	TotalRevenue     float64 `json:"totalRevenue"`
	TotalSpend       float64 `json:"totalSpend"`
	TotalConversions int64   `json:"totalConversions"`

	// GrowthRate is the projected daily compounding rate.
	GrowthRate float64 `json:"growthRate"`
}

// Generator produces deterministic projections from a seed.
type Generator struct {
	seed int64
}

// New creates a generator with the given seed.
func New(seed int64) *Generator {
	return &Generator{seed: seed}
}

// ProjectRevenue builds a daily revenue projection for a business over
// the given horizon. The projection always has exactly days entries
// with non-negative values.
func (g *Generator) ProjectRevenue(b *domain.Business, days int) *RevenueProjection {
	if days <= 0 {
		days = 30
	}

	rng := g.rngFor(b.ID)

	multiplier := nicheMultipliers[b.Niche]
	if multiplier == 0 {
		multiplier = 1.0
	}

	// Baseline from current monthly recurring, floor for cold businesses
	baseDaily := b.MonthlyRecurring / 30.0
	if baseDaily < 5.0 {
		baseDaily = 5.0
	}

	growth := (0.005 + rng.Float64()*0.02) * multiplier

	proj := &RevenueProjection{
		BusinessID:  b.ID,
		Niche:       b.Niche,
		Seed:        g.seed,
		HorizonDays: days,
		Daily:       make([]DailyPoint, days),
		GrowthRate:  growth,
	}

	for day := 0; day < days; day++ {
		trend := baseDaily * math.Pow(1+growth, float64(day))
		noise := 1 + (rng.Float64()-0.5)*0.3
		revenue := trend * noise
		if revenue < 0 {
			revenue = 0
		}

		spend := revenue * (0.2 + rng.Float64()*0.3)
		conversions := int64(revenue / (10 + rng.Float64()*40))

		point := DailyPoint{
			Day:         day + 1,
			Revenue:     round2(revenue),
			Spend:       round2(spend),
			Conversions: conversions,
		}
		proj.Daily[day] = point

		proj.TotalRevenue += point.Revenue
		proj.TotalSpend += point.Spend
		proj.TotalConversions += point.Conversions
	}

	proj.TotalRevenue = round2(proj.TotalRevenue)
	proj.TotalSpend = round2(proj.TotalSpend)

	return proj
}

// CampaignOutlook is a synthetic performance projection for a campaign.
type CampaignOutlook struct {
	CampaignID string `json:"campaignId"`
	Seed       int64  `json:"seed"`

	HorizonDays int          `json:"horizonDays"`
	Daily       []DailyPoint `json:"daily"`

	ProjectedROI         float64 `json:"projectedRoi"`
	ProjectedConversions int64   `json:"projectedConversions"`
}

// ProjectCampaign builds a daily outlook for a campaign assuming the
// current budget holds.
func (g *Generator) ProjectCampaign(c *domain.Campaign, days int) *CampaignOutlook {
	if days <= 0 {
		days = 14
	}

	rng := g.rngFor(c.ID)

	budget := c.DailyBudget
	if budget <= 0 {
		budget = 10.0
	}

	// Observed ROI anchors the projection; cold campaigns assume parity
	roi := c.ROI()
	if roi == 0 {
		roi = 0.8 + rng.Float64()*0.4
	}

	outlook := &CampaignOutlook{
		CampaignID:  c.ID,
		Seed:        g.seed,
		HorizonDays: days,
		Daily:       make([]DailyPoint, days),
	}

	var totalRevenue, totalSpend float64
	for day := 0; day < days; day++ {
		spend := budget * (0.85 + rng.Float64()*0.15)
		revenue := spend * roi * (1 + (rng.Float64()-0.5)*0.2)
		if revenue < 0 {
			revenue = 0
		}
		conversions := int64(revenue / (15 + rng.Float64()*25))

		point := DailyPoint{
			Day:         day + 1,
			Revenue:     round2(revenue),
			Spend:       round2(spend),
			Conversions: conversions,
		}
		outlook.Daily[day] = point

		totalRevenue += point.Revenue
		totalSpend += point.Spend
		outlook.ProjectedConversions += point.Conversions
	}

	if totalSpend > 0 {
		outlook.ProjectedROI = round2(totalRevenue / totalSpend)
	}

	return outlook
}

// ScoreOpportunities projects every business over the horizon and ranks
// the results by score, best first. Score favors projected net revenue
// and compounding growth.
func (g *Generator) ScoreOpportunities(businesses []*domain.Business, days int) []*domain.Opportunity {
	opportunities := make([]*domain.Opportunity, 0, len(businesses))

	for _, b := range businesses {
		proj := g.ProjectRevenue(b, days)

		net := proj.TotalRevenue - proj.TotalSpend
		score := net * (1 + proj.GrowthRate*10)
		if score < 0 {
			score = 0
		}

		opportunities = append(opportunities, &domain.Opportunity{
			BusinessID:       b.ID,
			Name:             b.Name,
			Niche:            b.Niche,
			Score:            round2(score),
			ProjectedRevenue: proj.TotalRevenue,
			ProjectedSpend:   proj.TotalSpend,
			GrowthRate:       proj.GrowthRate,
			HorizonDays:      proj.HorizonDays,
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].Score > opportunities[j].Score
	})

	return opportunities
}

// rngFor derives a per-entity random source so projections for
// different entities do not share a sequence.
func (g *Generator) rngFor(entityID string) *rand.Rand {
	h := int64(0)
	for _, c := range entityID {
		h = h*31 + int64(c)
	}
	return rand.New(rand.NewSource(g.seed ^ h))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
