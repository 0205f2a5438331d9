package domain

// Opportunity is a scored growth opportunity for a business, derived
// from its revenue projection. Higher scores rank first.
type Opportunity struct {
	BusinessID string `json:"businessId"`
	Name       string `json:"name"`
	Niche      string `json:"niche"`

	Score float64 `json:"score"`

	ProjectedRevenue float64 `json:"projectedRevenue"`
	ProjectedSpend   float64 `json:"projectedSpend"`
	GrowthRate       float64 `json:"growthRate"`
	HorizonDays      int     `json:"horizonDays"`
}
