// Package handlers exposes the hotel search and booking flows over HTTP.
//
// Handlers are transport-thin: they validate and normalize input, call the
// coordinators in internal/services, and translate results and typed errors
// into HTTP responses.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/search"
	"github.com/tbourn/go-stay-booking/internal/services"
)

//
// Service contracts (context-aware)
//

// SearchService manages live search sessions.
type SearchService interface {
	Start(ctx context.Context, cr domain.Criteria, filter search.Filter) (domain.SearchSession, error)
	Snapshot(ctx context.Context, id string, q services.SearchQuery) (*services.SearchView, error)
	LoadMore(id string) (search.Window, error)
	Feed(id string, q services.SearchQuery, watermark int) (*search.Feed, error)
	RefreshRates(ctx context.Context, id string) (int, error)
	Hotel(id string, key domain.HotelKey) (domain.HotelResult, error)
	FindHotel(id, hotelID string) (domain.HotelResult, error)
	Close(id string) error
}

// PriceService resolves authoritative prices and hotel details.
type PriceService interface {
	Remember(k services.OfferKey, rate *domain.Rate)
	Resolve(ctx context.Context, k services.OfferKey) (domain.Price, error)
	ResolveMany(ctx context.Context, keys []services.OfferKey) []services.Resolution
	Details(ctx context.Context, searchID, hotelID, priceProvider string) (*domain.HotelDetail, error)
	Forget(searchID string)
}

// DraftSelector turns a selected offer into a booking draft.
type DraftSelector interface {
	Draft(ctx context.Context, sel services.Selection) (domain.BookingDraft, error)
}

// BookingService drives booking drafts from creation to payment.
type BookingService interface {
	Create(ctx context.Context, userID string, d domain.BookingDraft) (*services.BookingView, error)
	List(ctx context.Context, userID string) ([]services.BookingSummary, error)
	Version(ctx context.Context, userID string) (int64, *time.Time, error)
	Get(ctx context.Context, userID, id string) (*services.BookingView, error)
	UpdateGuest(ctx context.Context, userID, id string, g domain.GuestInfo, p *domain.PaymentInfo) (*services.BookingView, error)
	Submit(ctx context.Context, userID, id string) (*services.BookingView, error)
	Revise(ctx context.Context, userID, id string) (*services.BookingView, error)
	InitiatePayment(ctx context.Context, userID, id string, payer *domain.PaymentInfo) (*domain.PaymentSession, error)
	CompletePayment(ctx context.Context, transactionID string, status domain.PaymentStatus) (*domain.PaymentSession, error)
	Abandon(ctx context.Context, userID, id string) error
}

// RetrievalService looks up existing bookings and their documents.
type RetrievalService interface {
	Retrieve(ctx context.Context, req domain.ReferenceRequest) (*domain.BookingStatus, error)
	Voucher(ctx context.Context, transactionID string) (*domain.Document, error)
}

// FavoritesService keeps per-user favorite hotels.
type FavoritesService interface {
	Add(ctx context.Context, userID string, f domain.Favorite) (domain.Favorite, error)
	Remove(ctx context.Context, userID, hotelID string) error
	List(ctx context.Context, userID string) ([]domain.Favorite, error)
}

// IdempotencyStore records completed submits so retries with the same
// Idempotency-Key replay instead of re-submitting.
type IdempotencyStore interface {
	Lookup(ctx context.Context, userID, draftID, key string, now time.Time) (*domain.Idempotency, error)
	Record(ctx context.Context, userID, draftID, key, transactionID string, status int) error
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers. Idempotency may be nil.
type Services struct {
	Searches    SearchService
	Prices      PriceService
	Selector    DraftSelector
	Bookings    BookingService
	Retrieval   RetrievalService
	Favorites   FavoritesService
	Idempotency IdempotencyStore

	// FeedWatermark is the prefetch threshold of the results feed.
	FeedWatermark int
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	searches  SearchService
	prices    PriceService
	selector  DraftSelector
	bookings  BookingService
	retrieval RetrievalService
	favorites FavoritesService
	idem      IdempotencyStore
	watermark int
}

// New constructs Handlers bound to svc.
func New(svc Services) *Handlers {
	return &Handlers{
		searches:  svc.Searches,
		prices:    svc.Prices,
		selector:  svc.Selector,
		bookings:  svc.Bookings,
		retrieval: svc.Retrieval,
		favorites: svc.Favorites,
		idem:      svc.Idempotency,
		watermark: svc.FeedWatermark,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the X-User-ID header, and finally
// to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader(middleware.HeaderUserID)); h != "" {
			return h
		}
	}
	return "demo-user"
}
