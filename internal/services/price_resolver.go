// Package services – PriceResolver
//
// PriceResolver turns an indicative search rate into an authoritative price.
// Every offer is its own failure domain: a failed resolve flags only that
// offer and hands back the last known indicative price with the typed error,
// so browsing of other results and the search session are unaffected.
package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// OfferKey identifies one priced offer.
type OfferKey struct {
	SearchID         string `json:"searchId"`
	HotelID          string `json:"hotelId"`
	ProviderName     string `json:"providerName"`
	RecommendationID string `json:"recommendationId"`
}

// OfferState is what the resolver remembers about an offer.
type OfferState struct {
	Indicative *domain.Rate  `json:"indicative,omitempty"`
	Price      *domain.Price `json:"price,omitempty"`
	PriceError bool          `json:"priceError"`
}

// Resolution is one result of ResolveMany.
type Resolution struct {
	Key   OfferKey     `json:"offer"`
	Price domain.Price `json:"price"`
	Err   error        `json:"-"`
}

// PriceResolver is safe for concurrent use.
type PriceResolver struct {
	API PriceAPI
	// Concurrency bounds ResolveMany; <= 0 means 4.
	Concurrency int

	mu     sync.Mutex
	offers map[OfferKey]*OfferState
}

// NewPriceResolver returns a resolver over api.
func NewPriceResolver(api PriceAPI) *PriceResolver {
	return &PriceResolver{API: api, Concurrency: 4, offers: make(map[OfferKey]*OfferState)}
}

func (r *PriceResolver) state(k OfferKey) *OfferState {
	if r.offers == nil {
		r.offers = make(map[OfferKey]*OfferState)
	}
	st, ok := r.offers[k]
	if !ok {
		st = &OfferState{}
		r.offers[k] = st
	}
	return st
}

// Remember records the indicative rate shown in search results.
func (r *PriceResolver) Remember(k OfferKey, rate *domain.Rate) {
	if rate == nil {
		return
	}
	cp := *rate
	r.mu.Lock()
	r.state(k).Indicative = &cp
	r.mu.Unlock()
}

// Resolve fetches the authoritative price. On failure the offer is flagged
// and the returned price carries the last indicative amount.
func (r *PriceResolver) Resolve(ctx context.Context, k OfferKey) (domain.Price, error) {
	tr := otel.Tracer("services/PriceResolver")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("search.id", k.SearchID),
			attribute.String("hotel.id", k.HotelID),
			attribute.String("hotel.provider", k.ProviderName),
		),
	)
	defer span.End()

	if err := domain.NewValidationError(missingOfferFields(k)...); err != nil {
		return domain.Price{}, err
	}

	p, err := r.API.Price(ctx, k.SearchID, k.HotelID, k.ProviderName, k.RecommendationID)

	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(k)
	if err != nil {
		st.PriceError = true
		log.Warn().Err(err).Str("search_id", k.SearchID).Str("hotel_id", k.HotelID).Msg("price resolve failed")
		fallback := domain.Price{RecommendationID: k.RecommendationID}
		if st.Indicative != nil {
			fallback.Amount = st.Indicative.Amount
			fallback.Currency = st.Indicative.Currency
		}
		return fallback, err
	}
	cp := *p
	st.Price = &cp
	st.PriceError = false
	st.Indicative = &domain.Rate{Amount: p.Amount, Currency: p.Currency}
	return cp, nil
}

func missingOfferFields(k OfferKey) []string {
	var f []string
	if k.SearchID == "" {
		f = append(f, "searchId")
	}
	if k.HotelID == "" {
		f = append(f, "hotelId")
	}
	if k.ProviderName == "" {
		f = append(f, "providerName")
	}
	if k.RecommendationID == "" {
		f = append(f, "recommendationId")
	}
	return f
}

// ResolveMany resolves offers concurrently. Failures are reported per offer
// and never cancel the others.
func (r *PriceResolver) ResolveMany(ctx context.Context, keys []OfferKey) []Resolution {
	out := make([]Resolution, len(keys))
	limit := r.Concurrency
	if limit <= 0 {
		limit = 4
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, k := range keys {
		g.Go(func() error {
			p, err := r.Resolve(ctx, k)
			out[i] = Resolution{Key: k, Price: p, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// State returns a copy of what is known about k.
func (r *PriceResolver) State(k OfferKey) (OfferState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.offers[k]
	if !ok {
		return OfferState{}, false
	}
	out := OfferState{PriceError: st.PriceError}
	if st.Indicative != nil {
		v := *st.Indicative
		out.Indicative = &v
	}
	if st.Price != nil {
		v := *st.Price
		out.Price = &v
	}
	return out, true
}

// Forget drops every offer of searchID.
func (r *PriceResolver) Forget(searchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.offers {
		if k.SearchID == searchID {
			delete(r.offers, k)
		}
	}
}

// Details fetches a hotel's content and rooms.
func (r *PriceResolver) Details(ctx context.Context, searchID, hotelID, priceProvider string) (*domain.HotelDetail, error) {
	tr := otel.Tracer("services/PriceResolver")
	ctx, span := tr.Start(ctx, "Details",
		trace.WithAttributes(
			attribute.String("search.id", searchID),
			attribute.String("hotel.id", hotelID),
		),
	)
	defer span.End()

	var missing []string
	if searchID == "" {
		missing = append(missing, "searchId")
	}
	if hotelID == "" {
		missing = append(missing, "hotelId")
	}
	if err := domain.NewValidationError(missing...); err != nil {
		return nil, err
	}
	return r.API.HotelDetail(ctx, searchID, hotelID, priceProvider)
}
