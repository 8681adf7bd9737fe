package httpapi

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-stay-booking/internal/config"
	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/handlers"
	"github.com/tbourn/go-stay-booking/internal/kvstore"
	"github.com/tbourn/go-stay-booking/internal/repo"
	"github.com/tbourn/go-stay-booking/internal/services"
)

// Upstream is the aggregator surface the services depend on.
// *upstream.Client satisfies it.
type Upstream interface {
	services.SearchAPI
	services.PriceAPI
	services.ItineraryAPI
	services.PaymentAPI
	services.RetrievalAPI
}

// bookingRepoShim adapts the repository free functions to the
// services.BookingRepo interface expected by the BookingService.
type bookingRepoShim struct{}

// SaveBookingSession proxies repo.SaveBookingSession.
func (bookingRepoShim) SaveBookingSession(ctx context.Context, db *gorm.DB, rec *domain.BookingSessionRecord) error {
	return repo.SaveBookingSession(ctx, db, rec)
}

// GetBookingSession proxies repo.GetBookingSession.
func (bookingRepoShim) GetBookingSession(ctx context.Context, db *gorm.DB, id, userID string, now time.Time) (*domain.BookingSessionRecord, error) {
	return repo.GetBookingSession(ctx, db, id, userID, now)
}

// GetBookingSessionByTransaction proxies repo.GetBookingSessionByTransaction.
func (bookingRepoShim) GetBookingSessionByTransaction(ctx context.Context, db *gorm.DB, transactionID string, now time.Time) (*domain.BookingSessionRecord, error) {
	return repo.GetBookingSessionByTransaction(ctx, db, transactionID, now)
}

// DeleteBookingSession proxies repo.DeleteBookingSession.
func (bookingRepoShim) DeleteBookingSession(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteBookingSession(ctx, db, id, userID)
}

// PurgeExpiredBookingSessions proxies repo.PurgeExpiredBookingSessions.
func (bookingRepoShim) PurgeExpiredBookingSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	return repo.PurgeExpiredBookingSessions(ctx, db, now)
}

// ListBookingSessions proxies repo.ListBookingSessions.
func (bookingRepoShim) ListBookingSessions(ctx context.Context, db *gorm.DB, userID string, now time.Time) ([]domain.BookingSessionRecord, error) {
	return repo.ListBookingSessions(ctx, db, userID, now)
}

// BookingSessionsStats proxies repo.BookingSessionsStats.
func (bookingRepoShim) BookingSessionsStats(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, *time.Time, error) {
	return repo.BookingSessionsStats(ctx, db, userID, now)
}

// idempotencyShim stores submit outcomes in the idempotency table.
type idempotencyShim struct {
	db  *gorm.DB
	ttl time.Duration
}

// Lookup proxies repo.GetIdempotency.
func (s idempotencyShim) Lookup(ctx context.Context, userID, draftID, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, userID, draftID, key, now)
}

// Record proxies repo.CreateIdempotency. A key recorded twice keeps the
// first outcome.
func (s idempotencyShim) Record(ctx context.Context, userID, draftID, key, transactionID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, draftID, key, transactionID, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// App owns the long-lived services behind the HTTP API. The caller starts
// it with NewApp, serves it with RegisterRoutes and stops it with Shutdown.
type App struct {
	DB        *gorm.DB
	KV        kvstore.Backend
	Searches  *services.SearchService
	Prices    *services.PriceResolver
	Bookings  *services.BookingService
	Retrieval *services.RetrievalService
	Favorites *services.FavoritesService

	idemTTL   time.Duration
	watermark int
}

// NewApp wires the services to db, the aggregator api and the kv backend.
func NewApp(cfg config.Config, db *gorm.DB, api Upstream, kv kvstore.Backend) *App {
	poller := services.NewSearchPoller(api, services.PollConfig{
		PollInterval:      cfg.Search.PollInterval,
		RetryInterval:     cfg.Search.RetryInterval,
		MaxPolls:          cfg.Search.MaxPolls,
		MaxNetworkRetries: cfg.Search.MaxNetworkRetries,
		PageLimit:         cfg.Search.PageLimit,
	})

	bookings := services.NewBookingService(db, bookingRepoShim{}, api, api)
	if cfg.Booking.SessionMax > 0 {
		bookings.SessionMax = cfg.Booking.SessionMax
	}
	bookings.ReturnBaseURL = cfg.Payment.ReturnBaseURL
	bookings.DefaultNationality = cfg.Payment.DefaultNationality

	return &App{
		DB:        db,
		KV:        kv,
		Searches:  services.NewSearchService(poller, cfg.Search.DisplayLimit),
		Prices:    services.NewPriceResolver(api),
		Bookings:  bookings,
		Retrieval: services.NewRetrievalService(api, cfg.Booking.RetrieveAttempts),
		Favorites: services.NewFavoritesService(kv),
		idemTTL:   cfg.IdempotencyTTL,
		watermark: cfg.Search.Watermark,
	}
}

// Handlers binds the HTTP handlers to the app's services.
func (a *App) Handlers() *handlers.Handlers {
	return handlers.New(handlers.Services{
		Searches:      a.Searches,
		Prices:        a.Prices,
		Selector:      services.Selector{Searches: a.Searches, Prices: a.Prices},
		Bookings:      a.Bookings,
		Retrieval:     a.Retrieval,
		Favorites:     a.Favorites,
		Idempotency:   idempotencyShim{db: a.DB, ttl: a.idemTTL},
		FeedWatermark: a.watermark,
	})
}

// purger is implemented by kv backends that keep expired rows around.
type purger interface {
	Purge(ctx context.Context) (int64, error)
}

// SweepStats counts what one Sweep removed.
type SweepStats struct {
	Sessions    int
	Idempotency int64
	KV          int64
}

// Sweep drops expired booking sessions, idempotency records and kv rows.
// It runs every step and returns the first error.
func (a *App) Sweep(ctx context.Context) (SweepStats, error) {
	var st SweepStats
	var errs []error

	n, err := a.Bookings.Sweep(ctx)
	st.Sessions = n
	errs = append(errs, err)

	st.Idempotency, err = repo.PurgeExpiredIdempotency(ctx, a.DB, time.Now().UTC())
	errs = append(errs, err)

	if p, ok := a.KV.(purger); ok {
		st.KV, err = p.Purge(ctx)
		errs = append(errs, err)
	}
	for _, e := range errs {
		if e != nil {
			return st, e
		}
	}
	return st, nil
}

// Shutdown stops search polling and booking timers.
func (a *App) Shutdown(ctx context.Context) error {
	a.Bookings.Shutdown()
	return a.Searches.Shutdown(ctx)
}
