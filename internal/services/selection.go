package services

import (
	"context"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// Selection is the offer a user picked from a live search.
type Selection struct {
	SearchID         string               `json:"searchId"`
	HotelID          string               `json:"hotelId"`
	ProviderName     string               `json:"providerName"`
	RecommendationID string               `json:"recommendationId"`
	Room             *domain.RoomSnapshot `json:"room,omitempty"`
}

// DraftFromSelection snapshots the selected hotel, room, stay and
// occupancies from the live search and resolves the authoritative price. The
// draft cannot be booked without a price id, so a failed resolve is
// returned.
func DraftFromSelection(ctx context.Context, searches *SearchService, prices *PriceResolver, sel Selection) (domain.BookingDraft, error) {
	key := OfferKey{
		SearchID:         sel.SearchID,
		HotelID:          sel.HotelID,
		ProviderName:     sel.ProviderName,
		RecommendationID: sel.RecommendationID,
	}
	if err := domain.NewValidationError(missingOfferFields(key)...); err != nil {
		return domain.BookingDraft{}, err
	}
	meta, err := searches.Session(sel.SearchID)
	if err != nil {
		return domain.BookingDraft{}, err
	}
	h, err := searches.Hotel(sel.SearchID, domain.HotelKey{HotelID: sel.HotelID, ProviderName: sel.ProviderName})
	if err != nil {
		return domain.BookingDraft{}, err
	}

	prices.Remember(key, h.Rate)
	p, err := prices.Resolve(ctx, key)
	if err != nil {
		return domain.BookingDraft{}, err
	}

	room := domain.RoomSnapshot{RecommendationID: sel.RecommendationID, Refundable: p.Refundable}
	if sel.Room != nil {
		room = *sel.Room
		room.RecommendationID = sel.RecommendationID
	}
	occ := make([]domain.Occupancy, len(meta.Criteria.Occupancies))
	for i, o := range meta.Criteria.Occupancies {
		o.ChildAges = append([]int(nil), o.ChildAges...)
		occ[i] = o
	}
	return domain.BookingDraft{
		SearchID: sel.SearchID,
		Hotel: domain.HotelSnapshot{
			HotelID:      h.HotelID,
			ProviderName: h.ProviderName,
			Name:         h.Name,
			StarRating:   h.StarRating,
		},
		Room:        room,
		Stay:        domain.Stay{CheckIn: meta.Criteria.CheckIn, CheckOut: meta.Criteria.CheckOut},
		Occupancies: occ,
		Guest:       domain.GuestInfo{Nationality: meta.Criteria.Nationality},
		PriceID:     p.PriceID,
		TotalPrice:  p.Amount,
		Currency:    p.Currency,
	}, nil
}

// Selector binds DraftFromSelection to a search service and price resolver.
type Selector struct {
	Searches *SearchService
	Prices   *PriceResolver
}

// Draft builds a booking draft from sel.
func (s Selector) Draft(ctx context.Context, sel Selection) (domain.BookingDraft, error) {
	return DraftFromSelection(ctx, s.Searches, s.Prices, sel)
}
