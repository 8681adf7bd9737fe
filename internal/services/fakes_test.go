package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/upstream"
)

// ----- Fake upstream -----

type pollStep struct {
	batch domain.Batch
	err   error
}

// fakeUpstream scripts every upstream port. Poll steps are consumed in
// order; the last step repeats once the script runs out.
type fakeUpstream struct {
	mu sync.Mutex

	searchID  string
	initErr   error
	initCalls int

	steps     []pollStep
	pollCalls int
	offsets   []int
	filters   []string

	rates    []domain.HotelResult
	ratesErr error

	prices     map[string]*domain.Price
	priceErr   map[string]error
	priceCalls int

	detail *domain.HotelDetail

	itin        *domain.Itinerary
	itinErr     error
	itinCalls   int
	itinPayload upstream.ItineraryPayload
	itinBlock   chan struct{}

	redirect   *upstream.PaymentRedirect
	payErr     error
	payCalls   int
	payPayload upstream.PaymentPayload

	retrieveErrs  []error
	retrieveCalls int
	booking       *domain.BookingStatus

	voucher *domain.Document
}

func (f *fakeUpstream) InitSearch(ctx context.Context, cr domain.Criteria) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	if f.initErr != nil {
		return "", f.initErr
	}
	if f.searchID == "" {
		return "s-1", nil
	}
	return f.searchID, nil
}

func (f *fakeUpstream) SearchResults(ctx context.Context, searchID string, offset, limit int, filterData string) (domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets = append(f.offsets, offset)
	f.filters = append(f.filters, filterData)
	if len(f.steps) == 0 {
		return domain.Batch{Status: domain.SearchComplete}, nil
	}
	i := min(f.pollCalls, len(f.steps)-1)
	f.pollCalls++
	st := f.steps[i]
	return st.batch, st.err
}

func (f *fakeUpstream) SearchRates(ctx context.Context, searchID string) ([]domain.HotelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rates, f.ratesErr
}

func (f *fakeUpstream) Price(ctx context.Context, searchID, hotelID, providerName, recommendationID string) (*domain.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if err := f.priceErr[hotelID]; err != nil {
		return nil, err
	}
	if p, ok := f.prices[hotelID]; ok {
		cp := *p
		return &cp, nil
	}
	return &domain.Price{PriceID: "p-" + hotelID, RecommendationID: recommendationID, Amount: 100, Currency: "AED"}, nil
}

func (f *fakeUpstream) HotelDetail(ctx context.Context, searchID, hotelID, priceProvider string) (*domain.HotelDetail, error) {
	if f.detail == nil {
		return &domain.HotelDetail{HotelID: hotelID}, nil
	}
	return f.detail, nil
}

func (f *fakeUpstream) CreateItinerary(ctx context.Context, p upstream.ItineraryPayload) (*domain.Itinerary, error) {
	f.mu.Lock()
	f.itinCalls++
	f.itinPayload = p
	block := f.itinBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.itinErr != nil {
		return nil, f.itinErr
	}
	if f.itin != nil {
		cp := *f.itin
		return &cp, nil
	}
	return &domain.Itinerary{TUI: "tui-1", TransactionID: "tx-1", NetAmount: 420.5, CurrencyCode: "AED"}, nil
}

func (f *fakeUpstream) InitiatePayment(ctx context.Context, p upstream.PaymentPayload) (*upstream.PaymentRedirect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payCalls++
	f.payPayload = p
	if f.payErr != nil {
		return nil, f.payErr
	}
	if f.redirect != nil {
		cp := *f.redirect
		return &cp, nil
	}
	return &upstream.PaymentRedirect{RedirectURL: "https://pay.example/r/1", GatewayRef: "gw-1"}, nil
}

func (f *fakeUpstream) RetrieveBooking(ctx context.Context, r domain.ReferenceRequest) (*domain.BookingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.retrieveCalls
	f.retrieveCalls++
	if i < len(f.retrieveErrs) && f.retrieveErrs[i] != nil {
		return nil, f.retrieveErrs[i]
	}
	if f.booking != nil {
		return f.booking, nil
	}
	return &domain.BookingStatus{TransactionID: r.ReferenceNumber, Status: "CONFIRMED"}, nil
}

func (f *fakeUpstream) Voucher(ctx context.Context, transactionID string) (*domain.Document, error) {
	if f.voucher == nil {
		return &domain.Document{Data: []byte("%PDF"), ContentType: "application/pdf", Filename: "v.pdf"}, nil
	}
	return f.voucher, nil
}

func (f *fakeUpstream) calls() (polls, itin, pay int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCalls, f.itinCalls, f.payCalls
}

// ----- Helpers -----

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func f64(v float64) *float64 { return &v }

func hotelN(prefix string, from, to int) []domain.HotelResult {
	out := make([]domain.HotelResult, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, domain.HotelResult{
			HotelID:      fmt.Sprintf("%s%02d", prefix, i),
			ProviderName: "prov",
			Name:         fmt.Sprintf("Hotel %d", i),
			Rate:         &domain.Rate{Amount: float64(100 + i), Currency: "AED"},
		})
	}
	return out
}

func inProgress(h []domain.HotelResult) pollStep {
	return pollStep{batch: domain.Batch{Status: domain.SearchInProgress, Hotels: h}}
}

func complete(h []domain.HotelResult) pollStep {
	return pollStep{batch: domain.Batch{Status: domain.SearchComplete, Hotels: h}}
}

func validCriteria() domain.Criteria {
	return domain.Criteria{
		Destination: "Dubai",
		CheckIn:     "2026-11-01",
		CheckOut:    "2026-11-04",
		Occupancies: []domain.Occupancy{{Adults: 2, Children: 1, ChildAges: []int{8}}},
		Nationality: "saudi_arabia",
	}
}

func readyDraft() domain.BookingDraft {
	return domain.BookingDraft{
		ID:          "d-1",
		SearchID:    "s-1",
		Hotel:       domain.HotelSnapshot{HotelID: "h1", ProviderName: "prov", Name: "Hotel 1"},
		Room:        domain.RoomSnapshot{RoomID: "r1", RecommendationID: "rec-1"},
		Stay:        domain.Stay{CheckIn: "2026-11-01", CheckOut: "2026-11-04"},
		Occupancies: []domain.Occupancy{{Adults: 2, Children: 1, ChildAges: []int{8}}},
		Guest:       domain.GuestInfo{FirstName: "A", LastName: "B", Email: "a@b.com", Phone: "123"},
		PriceID:     "price-1",
		TotalPrice:  420.5,
	}
}
