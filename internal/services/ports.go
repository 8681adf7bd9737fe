package services

import (
	"context"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/upstream"
)

// SearchAPI is the slice of the aggregator used by the search poller.
type SearchAPI interface {
	InitSearch(ctx context.Context, cr domain.Criteria) (string, error)
	SearchResults(ctx context.Context, searchID string, offset, limit int, filterData string) (domain.Batch, error)
	SearchRates(ctx context.Context, searchID string) ([]domain.HotelResult, error)
}

// PriceAPI resolves offer prices and hotel content.
type PriceAPI interface {
	Price(ctx context.Context, searchID, hotelID, providerName, recommendationID string) (*domain.Price, error)
	HotelDetail(ctx context.Context, searchID, hotelID, priceProvider string) (*domain.HotelDetail, error)
}

// ItineraryAPI creates itineraries.
type ItineraryAPI interface {
	CreateItinerary(ctx context.Context, p upstream.ItineraryPayload) (*domain.Itinerary, error)
}

// PaymentAPI initiates gateway payments.
type PaymentAPI interface {
	InitiatePayment(ctx context.Context, p upstream.PaymentPayload) (*upstream.PaymentRedirect, error)
}

// RetrievalAPI reads bookings and their documents.
type RetrievalAPI interface {
	RetrieveBooking(ctx context.Context, r domain.ReferenceRequest) (*domain.BookingStatus, error)
	Voucher(ctx context.Context, transactionID string) (*domain.Document, error)
}

var (
	_ SearchAPI    = (*upstream.Client)(nil)
	_ PriceAPI     = (*upstream.Client)(nil)
	_ ItineraryAPI = (*upstream.Client)(nil)
	_ PaymentAPI   = (*upstream.Client)(nil)
	_ RetrievalAPI = (*upstream.Client)(nil)
)
