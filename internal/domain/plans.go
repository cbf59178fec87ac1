package domain

// Plan is a paid subscription option shown on the paywall.
type Plan struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	DurationMonths int    `json:"durationMonths"`
	PricePerMonth  int    `json:"pricePerMonth"` // BRL cents, display only
	TotalPrice     int    `json:"totalPrice"`    // BRL cents, charged once
	Featured       bool   `json:"featured"`      // Show "best offer" badge
}

// AvailablePlans returns all plans in paywall order.
func AvailablePlans() []Plan {
	return []Plan{
		{
			ID:             "monthly",
			Label:          "1 month",
			DurationMonths: 1,
			PricePerMonth:  3990,
			TotalPrice:     3990,
		},
		{
			ID:             "quarterly",
			Label:          "3 months",
			DurationMonths: 3,
			PricePerMonth:  2990,
			TotalPrice:     8970,
		},
		{
			ID:             "yearly",
			Label:          "1 year",
			DurationMonths: 12,
			PricePerMonth:  1790,
			TotalPrice:     21480,
			Featured:       true,
		},
	}
}

// GetPlan returns the plan for a given ID.
func GetPlan(id string) (Plan, bool) {
	for _, p := range AvailablePlans() {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}
