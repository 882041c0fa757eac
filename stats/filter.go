package stats

import "marketing-analytics/models"

// Filter selects rows for the data browser. Empty sets match anything and
// price bounds are inclusive.
type Filter struct {
	Directions []models.Direction `json:"directions" form:"direction"`
	Services   []string           `json:"services" form:"service"`
	MinPrice   *int               `json:"min_price" form:"min_price"`
	MaxPrice   *int               `json:"max_price" form:"max_price"`
}

func (f Filter) Match(v models.Visit) bool {
	if len(f.Directions) > 0 && !contains(f.Directions, v.Direction) {
		return false
	}
	if len(f.Services) > 0 && !contains(f.Services, v.Service) {
		return false
	}
	if f.MinPrice != nil && v.Price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && v.Price > *f.MaxPrice {
		return false
	}
	return true
}

// Apply keeps the matching rows in insertion order.
func (f Filter) Apply(visits []models.Visit) []models.Visit {
	out := make([]models.Visit, 0, len(visits))
	for _, v := range visits {
		if f.Match(v) {
			out = append(out, v)
		}
	}
	return out
}

func contains[T comparable](items []T, x T) bool {
	for _, it := range items {
		if it == x {
			return true
		}
	}
	return false
}
