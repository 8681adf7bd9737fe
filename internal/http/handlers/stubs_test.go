package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/search"
	"github.com/tbourn/go-stay-booking/internal/services"
)

// ---------- request helper ----------

type call struct {
	method  string
	route   string
	path    string
	body    any
	headers map[string]string
}

// serve registers h on route behind the idempotency middleware and performs
// one request.
func serve(t *testing.T, lookup middleware.IdempotencyLookup, cl call, h gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		c.Next()
	})
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, lookup))
	r.Handle(cl.method, cl.route, h)

	var buf bytes.Buffer
	if cl.body != nil {
		if err := json.NewEncoder(&buf).Encode(cl.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(cl.method, cl.path, &buf)
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range cl.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (body=%s)", err, w.Body.String())
	}
	return v
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status=%d want %d body=%s", w.Code, status, w.Body.String())
	}
}

func ptr[T any](v T) *T { return &v }

// ---------- search + price stubs ----------

type stubSearches struct {
	start     func(context.Context, domain.Criteria, search.Filter) (domain.SearchSession, error)
	snapshot  func(context.Context, string, services.SearchQuery) (*services.SearchView, error)
	loadMore  func(string) (search.Window, error)
	feed      func(string, services.SearchQuery, int) (*search.Feed, error)
	refresh   func(context.Context, string) (int, error)
	hotel     func(string, domain.HotelKey) (domain.HotelResult, error)
	findHotel func(string, string) (domain.HotelResult, error)
	closed    []string
}

func (s *stubSearches) Start(ctx context.Context, cr domain.Criteria, f search.Filter) (domain.SearchSession, error) {
	if s.start != nil {
		return s.start(ctx, cr, f)
	}
	return domain.SearchSession{SearchID: "s1", Criteria: cr, Status: domain.SearchPending}, nil
}

func (s *stubSearches) Snapshot(ctx context.Context, id string, q services.SearchQuery) (*services.SearchView, error) {
	if s.snapshot != nil {
		return s.snapshot(ctx, id, q)
	}
	return nil, services.ErrSearchNotFound
}

func (s *stubSearches) LoadMore(id string) (search.Window, error) {
	if s.loadMore != nil {
		return s.loadMore(id)
	}
	return search.Window{}, services.ErrSearchNotFound
}

func (s *stubSearches) Feed(id string, q services.SearchQuery, wm int) (*search.Feed, error) {
	if s.feed != nil {
		return s.feed(id, q, wm)
	}
	return nil, services.ErrSearchNotFound
}

func (s *stubSearches) RefreshRates(ctx context.Context, id string) (int, error) {
	if s.refresh != nil {
		return s.refresh(ctx, id)
	}
	return 0, services.ErrSearchNotFound
}

func (s *stubSearches) Hotel(id string, key domain.HotelKey) (domain.HotelResult, error) {
	if s.hotel != nil {
		return s.hotel(id, key)
	}
	return domain.HotelResult{}, services.ErrOfferNotFound
}

func (s *stubSearches) FindHotel(id, hotelID string) (domain.HotelResult, error) {
	if s.findHotel != nil {
		return s.findHotel(id, hotelID)
	}
	return domain.HotelResult{}, services.ErrOfferNotFound
}

func (s *stubSearches) Close(id string) error {
	if id != "s1" {
		return services.ErrSearchNotFound
	}
	s.closed = append(s.closed, id)
	return nil
}

type stubPrices struct {
	remembered map[services.OfferKey]*domain.Rate
	resolve    func(context.Context, services.OfferKey) (domain.Price, error)
	details    func(context.Context, string, string, string) (*domain.HotelDetail, error)
	forgotten  []string
}

func (p *stubPrices) Remember(k services.OfferKey, rate *domain.Rate) {
	if p.remembered == nil {
		p.remembered = map[services.OfferKey]*domain.Rate{}
	}
	p.remembered[k] = rate
}

func (p *stubPrices) Resolve(ctx context.Context, k services.OfferKey) (domain.Price, error) {
	if p.resolve != nil {
		return p.resolve(ctx, k)
	}
	return domain.Price{PriceID: "p-" + k.HotelID, RecommendationID: k.RecommendationID, Amount: 100, Currency: "AED"}, nil
}

func (p *stubPrices) ResolveMany(ctx context.Context, keys []services.OfferKey) []services.Resolution {
	out := make([]services.Resolution, len(keys))
	for i, k := range keys {
		pr, err := p.Resolve(ctx, k)
		out[i] = services.Resolution{Key: k, Price: pr, Err: err}
	}
	return out
}

func (p *stubPrices) Details(ctx context.Context, searchID, hotelID, provider string) (*domain.HotelDetail, error) {
	if p.details != nil {
		return p.details(ctx, searchID, hotelID, provider)
	}
	return &domain.HotelDetail{HotelID: hotelID, ProviderName: provider}, nil
}

func (p *stubPrices) Forget(searchID string) { p.forgotten = append(p.forgotten, searchID) }

// ---------- booking stubs ----------

type stubSelector struct {
	got services.Selection
	err error
}

func (s *stubSelector) Draft(_ context.Context, sel services.Selection) (domain.BookingDraft, error) {
	s.got = sel
	if s.err != nil {
		return domain.BookingDraft{}, s.err
	}
	return domain.BookingDraft{SearchID: sel.SearchID, Hotel: domain.HotelSnapshot{HotelID: sel.HotelID}, PriceID: "p1"}, nil
}

type stubBookings struct {
	views    map[string]*services.BookingView
	owner    map[string]string
	submits  int
	submit   func(string) (*services.BookingView, error)
	payErr   error
	payer    *domain.PaymentInfo
	complete func(string, domain.PaymentStatus) (*domain.PaymentSession, error)
}

func newStubBookings() *stubBookings {
	return &stubBookings{views: map[string]*services.BookingView{}, owner: map[string]string{}}
}

func (b *stubBookings) Create(_ context.Context, userID string, d domain.BookingDraft) (*services.BookingView, error) {
	d.ID, d.UserID, d.State = "d-1", userID, domain.DraftOpen
	v := &services.BookingView{Draft: d, Timer: domain.TimerState{MaxDuration: 15 * time.Minute, Remaining: 15 * time.Minute}}
	b.views[d.ID], b.owner[d.ID] = v, userID
	return v, nil
}

func (b *stubBookings) List(_ context.Context, userID string) ([]services.BookingSummary, error) {
	var out []services.BookingSummary
	for id, v := range b.views {
		if b.owner[id] == userID {
			out = append(out, services.BookingSummary{ID: id, State: v.Draft.State, HotelID: v.Draft.Hotel.HotelID})
		}
	}
	return out, nil
}

func (b *stubBookings) Version(ctx context.Context, userID string) (int64, *time.Time, error) {
	list, _ := b.List(ctx, userID)
	return int64(len(list)), nil, nil
}

func (b *stubBookings) Get(_ context.Context, userID, id string) (*services.BookingView, error) {
	v, ok := b.views[id]
	if !ok || b.owner[id] != userID {
		return nil, services.ErrDraftNotFound
	}
	return v, nil
}

func (b *stubBookings) UpdateGuest(ctx context.Context, userID, id string, g domain.GuestInfo, p *domain.PaymentInfo) (*services.BookingView, error) {
	v, err := b.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	v.Draft.Guest = g
	if p != nil {
		v.Draft.Payment = *p
	}
	return v, nil
}

func (b *stubBookings) Submit(ctx context.Context, userID, id string) (*services.BookingView, error) {
	b.submits++
	if b.submit != nil {
		return b.submit(id)
	}
	v, err := b.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if v.Draft.State != domain.DraftOpen {
		return nil, &domain.StateError{From: string(v.Draft.State), Event: "submit"}
	}
	v.Draft.State = domain.DraftCreated
	v.Itinerary = &domain.Itinerary{TUI: "tui-1", TransactionID: "tx-1"}
	return v, nil
}

func (b *stubBookings) Revise(ctx context.Context, userID, id string) (*services.BookingView, error) {
	v, err := b.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if v.Draft.State != domain.DraftFailed {
		return nil, &domain.StateError{From: string(v.Draft.State), Event: "revise"}
	}
	nv := *v
	nv.Draft.ID, nv.Draft.State = id+"-r", domain.DraftOpen
	delete(b.views, id)
	b.views[nv.Draft.ID], b.owner[nv.Draft.ID] = &nv, userID
	return &nv, nil
}

func (b *stubBookings) InitiatePayment(ctx context.Context, userID, id string, payer *domain.PaymentInfo) (*domain.PaymentSession, error) {
	v, err := b.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	b.payer = payer
	if b.payErr != nil {
		return nil, b.payErr
	}
	if v.Itinerary == nil {
		return nil, services.ErrItineraryRequired
	}
	return &domain.PaymentSession{TransactionID: v.Itinerary.TransactionID, RedirectURL: "https://pay.example/r", State: domain.PaymentRedirected}, nil
}

func (b *stubBookings) CompletePayment(_ context.Context, tx string, status domain.PaymentStatus) (*domain.PaymentSession, error) {
	if b.complete != nil {
		return b.complete(tx, status)
	}
	if tx != "tx-1" {
		return nil, services.ErrDraftNotFound
	}
	return &domain.PaymentSession{TransactionID: tx, State: domain.PaymentRedirected, Status: status}, nil
}

func (b *stubBookings) Abandon(_ context.Context, userID, id string) error {
	if _, ok := b.views[id]; !ok || b.owner[id] != userID {
		return services.ErrDraftNotFound
	}
	delete(b.views, id)
	return nil
}

// memIdem is an in-memory IdempotencyStore.
type memIdem struct {
	recs map[string]domain.Idempotency
}

func newMemIdem() *memIdem { return &memIdem{recs: map[string]domain.Idempotency{}} }

func (m *memIdem) key(userID, draftID, key string) string { return userID + "|" + draftID + "|" + key }

func (m *memIdem) Lookup(_ context.Context, userID, draftID, key string, _ time.Time) (*domain.Idempotency, error) {
	rec, ok := m.recs[m.key(userID, draftID, key)]
	if !ok {
		return nil, services.ErrDraftNotFound
	}
	return &rec, nil
}

func (m *memIdem) Record(_ context.Context, userID, draftID, key, tx string, status int) error {
	m.recs[m.key(userID, draftID, key)] = domain.Idempotency{UserID: userID, DraftID: draftID, Key: key, TransactionID: tx, Status: status}
	return nil
}

func (m *memIdem) lookup() middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, draftID, key string, now time.Time) (bool, error) {
		rec, err := m.Lookup(ctx, userID, draftID, key, now)
		return err == nil && rec != nil, err
	}
}

// ---------- retrieval stub ----------

type stubRetrieval struct {
	req domain.ReferenceRequest
	err error
	doc *domain.Document
}

func (r *stubRetrieval) Retrieve(_ context.Context, req domain.ReferenceRequest) (*domain.BookingStatus, error) {
	r.req = req
	if r.err != nil {
		return nil, r.err
	}
	return &domain.BookingStatus{TransactionID: "tx-1", Status: "CONFIRMED"}, nil
}

func (r *stubRetrieval) Voucher(_ context.Context, tx string) (*domain.Document, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.doc != nil {
		return r.doc, nil
	}
	return &domain.Document{Data: []byte("%PDF-1.4 " + tx)}, nil
}
