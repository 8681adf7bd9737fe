package search

import (
	"sync"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// DefaultDisplayLimit is the number of results revealed per page.
const DefaultDisplayLimit = 20

// Window describes the visible prefix of a result set.
type Window struct {
	SearchID string `json:"searchId"`
	Page     int    `json:"page"`
	Limit    int    `json:"limit"`
	Len      int    `json:"length"`
	Total    int    `json:"total"`
	HasMore  bool   `json:"hasMore"`
}

// Paginator exposes a growing prefix of length min(page*limit, total). For a
// given search the length never decreases; only a new search resets it.
// It is safe for concurrent use.
type Paginator struct {
	mu       sync.Mutex
	limit    int
	page     int
	total    int
	searchID string
	loading  bool
}

// NewPaginator returns a paginator revealing limit items per page.
func NewPaginator(limit int) *Paginator {
	if limit <= 0 {
		limit = DefaultDisplayLimit
	}
	return &Paginator{limit: limit, page: 1}
}

// Reset starts a new search: the window shows the first page only.
func (p *Paginator) Reset(searchID string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searchID = searchID
	p.page = 1
	p.total = max(total, 0)
	p.loading = false
}

// Sync applies an aggregator update. An update for a different searchID is a
// new search and resets the window; an update for the same search is a
// refresh and keeps the current page so the consumer's scroll position does
// not jump. When searchID is empty the size-change heuristic decides: a
// change of more than half the previous length counts as a new search.
// It reports whether the window was reset.
func (p *Paginator) Sync(searchID string, total int) bool {
	p.mu.Lock()
	newSearch := false
	switch {
	case searchID != "":
		newSearch = searchID != p.searchID
	default:
		newSearch = sizeChangeLooksNew(p.total, total)
		searchID = p.searchID
	}
	if !newSearch {
		p.total = max(total, 0)
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()
	p.Reset(searchID, total)
	return true
}

func sizeChangeLooksNew(prev, next int) bool {
	if prev == 0 {
		return next > 0
	}
	delta := next - prev
	if delta < 0 {
		delta = -delta
	}
	return delta*2 > prev
}

// Extend reveals one more page, clamped to the total. It reports whether the
// window grew.
func (p *Paginator) Extend() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.page*p.limit >= p.total {
		return false
	}
	p.page++
	return true
}

// TryBeginLoad claims the single in-flight "load more" slot. Rapid repeated
// triggers that arrive while a load is in flight get false and must drop.
func (p *Paginator) TryBeginLoad() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loading {
		return false
	}
	p.loading = true
	return true
}

// EndLoad releases the slot claimed by TryBeginLoad.
func (p *Paginator) EndLoad() {
	p.mu.Lock()
	p.loading = false
	p.mu.Unlock()
}

// LoadMore is the guarded extend used by threshold triggers.
func (p *Paginator) LoadMore() bool {
	if !p.TryBeginLoad() {
		return false
	}
	defer p.EndLoad()
	return p.Extend()
}

// Len returns the current window length.
func (p *Paginator) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lenLocked()
}

func (p *Paginator) lenLocked() int {
	return min(p.page*p.limit, p.total)
}

// HasMore reports whether results exist beyond the window.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total > p.lenLocked()
}

// Window returns a snapshot of the paginator.
func (p *Paginator) Window() Window {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.lenLocked()
	return Window{
		SearchID: p.searchID,
		Page:     p.page,
		Limit:    p.limit,
		Len:      n,
		Total:    p.total,
		HasMore:  p.total > n,
	}
}

// Visible returns the prefix of items covered by the window.
func (p *Paginator) Visible(items []domain.HotelResult) []domain.HotelResult {
	n := min(p.Len(), len(items))
	return items[:n]
}
