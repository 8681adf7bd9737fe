package search

import (
	"cmp"
	"math"
	"slices"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// SortMode names a result ordering.
type SortMode string

const (
	SortPriceLow    SortMode = "price-low"
	SortPriceHigh   SortMode = "price-high"
	SortRating      SortMode = "rating"
	SortReview      SortMode = "review"
	SortDistance    SortMode = "distance"
	SortRecommended SortMode = "recommended"
)

// SortModes lists the supported modes in presentation order.
var SortModes = []SortMode{
	SortRecommended, SortPriceLow, SortPriceHigh, SortRating, SortReview, SortDistance,
}

// Valid reports whether m is a known mode.
func (m SortMode) Valid() bool {
	_, ok := comparators[m]
	return ok
}

var comparators = map[SortMode]func(a, b domain.HotelResult) int{
	SortPriceLow: func(a, b domain.HotelResult) int {
		return cmp.Compare(price(a, math.Inf(1)), price(b, math.Inf(1)))
	},
	SortPriceHigh: func(a, b domain.HotelResult) int {
		return cmp.Compare(price(b, 0), price(a, 0))
	},
	SortRating: func(a, b domain.HotelResult) int {
		if c := cmp.Compare(deref(b.StarRating, 0), deref(a.StarRating, 0)); c != 0 {
			return c
		}
		return cmp.Compare(reviewRating(b), reviewRating(a))
	},
	SortReview: func(a, b domain.HotelResult) int {
		if c := cmp.Compare(reviewRating(b), reviewRating(a)); c != 0 {
			return c
		}
		return cmp.Compare(reviewCount(b), reviewCount(a))
	},
	SortDistance: func(a, b domain.HotelResult) int {
		return cmp.Compare(deref(a.Distance, math.Inf(1)), deref(b.Distance, math.Inf(1)))
	},
	SortRecommended: func(a, b domain.HotelResult) int {
		if a.IsRecommended != b.IsRecommended {
			if a.IsRecommended {
				return -1
			}
			return 1
		}
		return cmp.Compare(deref(b.RelevanceScore, 0), deref(a.RelevanceScore, 0))
	},
}

// Sort returns a stably sorted copy of items. The input is never modified and
// an unknown mode yields a copy in the original order.
func Sort(items []domain.HotelResult, mode SortMode) []domain.HotelResult {
	out := slices.Clone(items)
	if c, ok := comparators[mode]; ok {
		slices.SortStableFunc(out, c)
	}
	return out
}

func price(h domain.HotelResult, missing float64) float64 {
	if h.Rate == nil {
		return missing
	}
	return h.Rate.Amount
}

func reviewRating(h domain.HotelResult) float64 {
	if h.UserReview == nil {
		return 0
	}
	return h.UserReview.Rating
}

func reviewCount(h domain.HotelResult) int {
	if h.UserReview == nil {
		return 0
	}
	return h.UserReview.Count
}

func deref(p *float64, missing float64) float64 {
	if p == nil {
		return missing
	}
	return *p
}
