package search

import (
	"encoding/json"
	"strings"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// Filter narrows a result view. Zero values disable a criterion. Price bounds
// exclude results without a rate; the other numeric bounds treat a missing
// value as failing the bound.
type Filter struct {
	MinPrice        float64   `json:"minPrice,omitempty"`
	MaxPrice        float64   `json:"maxPrice,omitempty"`
	Stars           []float64 `json:"stars,omitempty"`
	MinReview       float64   `json:"minReview,omitempty"`
	MaxDistance     float64   `json:"maxDistance,omitempty"`
	RecommendedOnly bool      `json:"recommendedOnly,omitempty"`
	Name            string    `json:"name,omitempty"`
}

// Empty reports whether the filter accepts everything.
func (f Filter) Empty() bool {
	return f.MinPrice == 0 && f.MaxPrice == 0 && len(f.Stars) == 0 &&
		f.MinReview == 0 && f.MaxDistance == 0 && !f.RecommendedOnly &&
		strings.TrimSpace(f.Name) == ""
}

// Match reports whether h passes every enabled criterion.
func (f Filter) Match(h domain.HotelResult) bool {
	if f.MinPrice > 0 || f.MaxPrice > 0 {
		if h.Rate == nil {
			return false
		}
		if f.MinPrice > 0 && h.Rate.Amount < f.MinPrice {
			return false
		}
		if f.MaxPrice > 0 && h.Rate.Amount > f.MaxPrice {
			return false
		}
	}
	if len(f.Stars) > 0 {
		if h.StarRating == nil {
			return false
		}
		matched := false
		for _, s := range f.Stars {
			if *h.StarRating == s {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.MinReview > 0 && reviewRating(h) < f.MinReview {
		return false
	}
	if f.MaxDistance > 0 && (h.Distance == nil || *h.Distance > f.MaxDistance) {
		return false
	}
	if f.RecommendedOnly && !h.IsRecommended {
		return false
	}
	if name := strings.TrimSpace(f.Name); name != "" &&
		!strings.Contains(strings.ToLower(h.Name), strings.ToLower(name)) {
		return false
	}
	return true
}

// Apply returns the matching items in their original order.
func (f Filter) Apply(items []domain.HotelResult) []domain.HotelResult {
	out := make([]domain.HotelResult, 0, len(items))
	for _, h := range items {
		if f.Match(h) {
			out = append(out, h)
		}
	}
	return out
}

// FilterData encodes the filter for the upstream filterdata query parameter.
// An empty filter encodes to "".
func (f Filter) FilterData() string {
	if f.Empty() {
		return ""
	}
	b, err := json.Marshal(f)
	if err != nil {
		return ""
	}
	return string(b)
}

// View applies the filter and then the sort mode to items.
func View(items []domain.HotelResult, f Filter, mode SortMode) []domain.HotelResult {
	if !f.Empty() {
		items = f.Apply(items)
	}
	return Sort(items, mode)
}
