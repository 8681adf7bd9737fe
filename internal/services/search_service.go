// Package services – SearchService
//
// SearchService owns the live search sessions. Each session pairs a result
// set and a paginator with one background polling goroutine; everything in
// a session is guarded by its mutex and readers only ever receive copies.
// Closing a session cancels its poll loop and marks it closed so a late
// batch cannot mutate a torn-down session.
package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/flow"
	"github.com/tbourn/go-stay-booking/internal/observability"
	"github.com/tbourn/go-stay-booking/internal/search"
)

// Search status events.
const (
	evProgress = "progress"
	evComplete = "complete"
	evFail     = "fail"
)

func newSearchMachine() *flow.Machine[domain.SearchStatus, string] {
	type r = flow.Rule[domain.SearchStatus, string]
	return flow.New(domain.SearchPending,
		r{From: domain.SearchPending, Event: evProgress, To: domain.SearchInProgress},
		r{From: domain.SearchInProgress, Event: evProgress, To: domain.SearchInProgress},
		r{From: domain.SearchPending, Event: evComplete, To: domain.SearchComplete},
		r{From: domain.SearchInProgress, Event: evComplete, To: domain.SearchComplete},
		r{From: domain.SearchPending, Event: evFail, To: domain.SearchFailed},
		r{From: domain.SearchInProgress, Event: evFail, To: domain.SearchFailed},
	)
}

// SearchQuery shapes a snapshot: client-side filter and sort mode.
type SearchQuery struct {
	Sort   search.SortMode
	Filter search.Filter
}

// SearchView is a point-in-time copy of a session.
type SearchView struct {
	Session domain.SearchSession `json:"session"`
	Window  search.Window        `json:"window"`
	Hotels  []domain.HotelResult `json:"hotels"`
	// Err is the terminal polling error, if any. Results stay readable.
	Err error `json:"-"`
}

type searchSession struct {
	mu      sync.Mutex
	meta    domain.SearchSession
	results *search.ResultSet
	pager   *search.Paginator
	status  *flow.Machine[domain.SearchStatus, string]
	err     error
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// SearchService manages search sessions keyed by searchID.
type SearchService struct {
	Poller       *SearchPoller
	DisplayLimit int

	mu       sync.RWMutex
	sessions map[string]*searchSession
}

// NewSearchService returns a service with no sessions.
func NewSearchService(p *SearchPoller, displayLimit int) *SearchService {
	if displayLimit <= 0 {
		displayLimit = search.DefaultDisplayLimit
	}
	return &SearchService{Poller: p, DisplayLimit: displayLimit, sessions: make(map[string]*searchSession)}
}

// Start initiates a search and begins polling it in the background. The poll
// loop outlives ctx's cancellation but keeps its trace linkage; it ends on
// completion, failure, ceiling, Close or Shutdown.
func (s *SearchService) Start(ctx context.Context, cr domain.Criteria, filter search.Filter) (domain.SearchSession, error) {
	tr := otel.Tracer("services/SearchService")
	ctx, span := tr.Start(ctx, "Start",
		trace.WithAttributes(attribute.String("search.destination", cr.Destination)),
	)
	defer span.End()

	meta, err := s.Poller.Initiate(ctx, cr)
	if err != nil {
		return domain.SearchSession{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ss := &searchSession{
		meta:    meta,
		results: search.NewResultSet(meta.SearchID),
		pager:   search.NewPaginator(s.DisplayLimit),
		status:  newSearchMachine(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	ss.pager.Reset(meta.SearchID, 0)
	ss.status.Subscribe(func(c flow.Change[domain.SearchStatus, string]) {
		if c.From != c.To {
			log.Debug().Str("search_id", meta.SearchID).
				Str("from", string(c.From)).Str("to", string(c.To)).Msg("search status")
		}
	})

	s.mu.Lock()
	if old, ok := s.sessions[meta.SearchID]; ok {
		s.mu.Unlock()
		s.closeSession(old)
		s.mu.Lock()
	}
	s.sessions[meta.SearchID] = ss
	s.mu.Unlock()

	go s.run(runCtx, ss, filter.FilterData())
	return meta, nil
}

func (s *SearchService) run(ctx context.Context, ss *searchSession, filterData string) {
	defer close(ss.done)

	ss.mu.Lock()
	start := ss.meta
	ss.mu.Unlock()

	final, err := s.Poller.Run(ctx, start, filterData, func(sess domain.SearchSession, b domain.Batch) {
		ss.mu.Lock()
		defer ss.mu.Unlock()
		if ss.closed {
			return
		}
		st := ss.results.Merge(b.Hotels)
		observability.MergedResults.WithLabelValues("added").Add(float64(st.Added))
		observability.MergedResults.WithLabelValues("refreshed").Add(float64(st.Refreshed))
		ss.pager.Sync(sess.SearchID, ss.results.Len())
		ss.meta = sess
		if sess.Status != domain.SearchComplete && sess.Status != domain.SearchFailed {
			_, _ = ss.status.Fire(evProgress)
		}
	})

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return
	}
	ss.meta = final
	ss.err = err
	switch {
	case final.Status == domain.SearchComplete:
		_, _ = ss.status.Fire(evComplete)
	case final.Status == domain.SearchFailed:
		_, _ = ss.status.Fire(evFail)
	}
}

func (s *SearchService) get(id string) (*searchSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ss, ok := s.sessions[id]
	if !ok {
		return nil, ErrSearchNotFound
	}
	return ss, nil
}

// Snapshot returns the current status and the visible window of the sorted,
// filtered results. The window length is min(page*limit, len(view)).
func (s *SearchService) Snapshot(ctx context.Context, id string, q SearchQuery) (*SearchView, error) {
	_, span := otel.Tracer("services/SearchService").Start(ctx, "Snapshot",
		trace.WithAttributes(attribute.String("search.id", id), attribute.String("search.sort", string(q.Sort))),
	)
	defer span.End()

	ss, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()

	view := search.View(ss.results.Items(), q.Filter, q.Sort)
	w := ss.pager.Window()
	n := min(w.Page*w.Limit, len(view))
	w.Len, w.Total, w.HasMore = n, len(view), len(view) > n
	return &SearchView{
		Session: ss.meta,
		Window:  w,
		Hotels:  view[:n],
		Err:     ss.err,
	}, nil
}

// LoadMore extends the window by one page. Overlapping requests collapse
// into one extension.
func (s *SearchService) LoadMore(id string) (search.Window, error) {
	ss, err := s.get(id)
	if err != nil {
		return search.Window{}, err
	}
	ss.pager.LoadMore()
	return ss.pager.Window(), nil
}

// Feed returns a pull iterator over the session's current view.
func (s *SearchService) Feed(id string, q SearchQuery, watermark int) (*search.Feed, error) {
	ss, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return search.NewFeed(ss.pager, watermark, func() []domain.HotelResult {
		ss.mu.Lock()
		defer ss.mu.Unlock()
		return search.View(ss.results.Items(), q.Filter, q.Sort)
	}), nil
}

// Session returns the session metadata.
func (s *SearchService) Session(id string) (domain.SearchSession, error) {
	ss, err := s.get(id)
	if err != nil {
		return domain.SearchSession{}, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.meta, nil
}

// Hotel returns one result of the session.
func (s *SearchService) Hotel(id string, key domain.HotelKey) (domain.HotelResult, error) {
	ss, err := s.get(id)
	if err != nil {
		return domain.HotelResult{}, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	h, ok := ss.results.Get(key)
	if !ok {
		return domain.HotelResult{}, ErrOfferNotFound
	}
	return h, nil
}

// FindHotel returns the first result for hotelID in base order.
func (s *SearchService) FindHotel(id, hotelID string) (domain.HotelResult, error) {
	ss, err := s.get(id)
	if err != nil {
		return domain.HotelResult{}, err
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, h := range ss.results.Items() {
		if h.HotelID == hotelID {
			return h, nil
		}
	}
	return domain.HotelResult{}, ErrOfferNotFound
}

// RefreshRates applies the rate-only refresh to a completed search. The
// window is preserved because the update belongs to the same search.
func (s *SearchService) RefreshRates(ctx context.Context, id string) (int, error) {
	tr := otel.Tracer("services/SearchService")
	ctx, span := tr.Start(ctx, "RefreshRates", trace.WithAttributes(attribute.String("search.id", id)))
	defer span.End()

	ss, err := s.get(id)
	if err != nil {
		return 0, err
	}
	if st := ss.status.State(); st != domain.SearchComplete {
		return 0, &domain.StateError{From: string(st), Event: "refresh-rates"}
	}
	rates, err := s.Poller.RefreshRates(ctx, id)
	if err != nil {
		return 0, err
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return 0, ErrSessionClosed
	}
	n := ss.results.MergeRates(rates)
	observability.MergedResults.WithLabelValues("rate").Add(float64(n))
	ss.pager.Sync(id, ss.results.Len())
	return n, nil
}

// Wait blocks until the session's poll loop has ended and returns its
// terminal error.
func (s *SearchService) Wait(ctx context.Context, id string) error {
	ss, err := s.get(id)
	if err != nil {
		return err
	}
	select {
	case <-ss.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.err
}

// Close tears a session down: the poll loop is cancelled and the session is
// forgotten.
func (s *SearchService) Close(id string) error {
	s.mu.Lock()
	ss, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSearchNotFound
	}
	s.closeSession(ss)
	return nil
}

func (s *SearchService) closeSession(ss *searchSession) {
	ss.mu.Lock()
	ss.closed = true
	ss.mu.Unlock()
	ss.cancel()
	<-ss.done
}

// Shutdown closes every session.
func (s *SearchService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*searchSession)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, ss := range all {
			s.closeSession(ss)
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of live sessions.
func (s *SearchService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
