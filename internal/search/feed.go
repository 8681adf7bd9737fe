package search

import "github.com/tbourn/go-stay-booking/internal/domain"

// Feed is a pull-based iterator over a paginated view. The consumer asks for
// the next chunk; whenever fewer than Watermark revealed items remain
// unconsumed, the feed extends the window through the paginator's in-flight
// guard. This replaces viewport-intersection triggers.
type Feed struct {
	pager     *Paginator
	source    func() []domain.HotelResult
	watermark int
	cursor    int
}

// NewFeed builds a feed over the items returned by source (typically the
// sorted, filtered view of a result set).
func NewFeed(p *Paginator, watermark int, source func() []domain.HotelResult) *Feed {
	if watermark < 0 {
		watermark = 0
	}
	return &Feed{pager: p, source: source, watermark: watermark}
}

// Next returns up to n items after the cursor and advances it. The boolean
// reports whether more items can still be pulled now or after extension.
func (f *Feed) Next(n int) ([]domain.HotelResult, bool) {
	items := f.source()
	f.prefetch()

	visible := min(f.pager.Len(), len(items))
	end := min(f.cursor+max(n, 0), visible)
	var out []domain.HotelResult
	if end > f.cursor {
		out = append(out, items[f.cursor:end]...)
		f.cursor = end
	}
	f.prefetch()
	return out, f.cursor < min(f.pager.Len(), len(items)) || f.pager.HasMore()
}

// Consumed returns the cursor position.
func (f *Feed) Consumed() int { return f.cursor }

// Rewind moves the cursor back to the start, e.g. after the sort changed.
func (f *Feed) Rewind() { f.cursor = 0 }

func (f *Feed) prefetch() {
	if f.pager.Len()-f.cursor < f.watermark || f.pager.Len() == f.cursor {
		f.pager.LoadMore()
	}
}
