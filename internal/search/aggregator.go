// Package search holds the pure, I/O-free parts of hotel browsing: the
// result aggregator that reconciles incremental batches into a stable set,
// the paginator that windows over it, and the sorter/filter that reorder it.
//
// Nothing in this package performs network calls; the poller in
// internal/services feeds it batches in issuance order.
package search

import "github.com/tbourn/go-stay-booking/internal/domain"

// MergeStats reports what a merge changed.
type MergeStats struct {
	Added     int
	Refreshed int
}

// ResultSet is the deduplicated, order-stable set of results for one search.
// Base order is first-seen order and is never affected by sorting, which
// always works on copies. A ResultSet is not safe for concurrent use; the
// owning session serializes access.
type ResultSet struct {
	searchID string
	items    []domain.HotelResult
	index    map[domain.HotelKey]int
}

// NewResultSet returns an empty set for searchID.
func NewResultSet(searchID string) *ResultSet {
	return &ResultSet{
		searchID: searchID,
		index:    make(map[domain.HotelKey]int),
	}
}

// SearchID returns the search this set belongs to.
func (rs *ResultSet) SearchID() string { return rs.searchID }

// Len returns the number of unique results.
func (rs *ResultSet) Len() int { return len(rs.items) }

// Merge folds batch into the set. A new (hotelId, providerName) is appended;
// a repeated one is a rate refresh that replaces only Rate and keeps the
// original position.
func (rs *ResultSet) Merge(batch []domain.HotelResult) MergeStats {
	var st MergeStats
	for _, h := range batch {
		k := h.Key()
		if i, ok := rs.index[k]; ok {
			if h.Rate != nil {
				r := *h.Rate
				rs.items[i].Rate = &r
			}
			st.Refreshed++
			continue
		}
		rs.index[k] = len(rs.items)
		rs.items = append(rs.items, cloneResult(h))
		st.Added++
	}
	return st
}

// MergeRates applies a rate-only refresh. Unknown keys are ignored: a rate
// refresh never introduces results.
func (rs *ResultSet) MergeRates(rates []domain.HotelResult) int {
	n := 0
	for _, h := range rates {
		i, ok := rs.index[h.Key()]
		if !ok || h.Rate == nil {
			continue
		}
		r := *h.Rate
		rs.items[i].Rate = &r
		n++
	}
	return n
}

// Get returns the result stored under k.
func (rs *ResultSet) Get(k domain.HotelKey) (domain.HotelResult, bool) {
	i, ok := rs.index[k]
	if !ok {
		return domain.HotelResult{}, false
	}
	return cloneResult(rs.items[i]), true
}

// Items returns a copy of the set in base order.
func (rs *ResultSet) Items() []domain.HotelResult {
	out := make([]domain.HotelResult, len(rs.items))
	for i, h := range rs.items {
		out[i] = cloneResult(h)
	}
	return out
}

// cloneResult copies the pointer fields so callers can never alias the set.
func cloneResult(h domain.HotelResult) domain.HotelResult {
	if h.Rate != nil {
		r := *h.Rate
		h.Rate = &r
	}
	if h.UserReview != nil {
		u := *h.UserReview
		h.UserReview = &u
	}
	h.StarRating = cloneFloat(h.StarRating)
	h.RelevanceScore = cloneFloat(h.RelevanceScore)
	h.Distance = cloneFloat(h.Distance)
	return h
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
