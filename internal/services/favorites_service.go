package services

import (
	"cmp"
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/kvstore"
)

// ErrFavoriteNotFound is returned when removing a hotel that is not a
// favorite.
var ErrFavoriteNotFound = errors.New("favorite not found")

// FavoritesService keeps per-user favorite hotels in a key-value store.
// Keys are "<user>:<hotel>", both parts query-escaped.
type FavoritesService struct {
	Store *kvstore.Store[domain.Favorite]
	Now   func() time.Time
}

// NewFavoritesService returns a service over b in the "fav" namespace.
func NewFavoritesService(b kvstore.Backend) *FavoritesService {
	return &FavoritesService{Store: kvstore.NewStore[domain.Favorite](b, "fav", 0), Now: time.Now}
}

func favKey(userID, hotelID string) string {
	return url.QueryEscape(userID) + ":" + url.QueryEscape(hotelID)
}

// Add stores f for userID, keeping the original AddedAt on re-add.
func (s *FavoritesService) Add(ctx context.Context, userID string, f domain.Favorite) (domain.Favorite, error) {
	f.HotelID = strings.TrimSpace(f.HotelID)
	if f.HotelID == "" {
		return domain.Favorite{}, domain.NewValidationError("hotelId")
	}
	k := favKey(userID, f.HotelID)
	if prev, err := s.Store.Get(ctx, k); err == nil {
		f.AddedAt = prev.AddedAt
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return domain.Favorite{}, err
	}
	if f.AddedAt.IsZero() {
		f.AddedAt = s.Now().UTC()
	}
	if err := s.Store.Put(ctx, k, f); err != nil {
		return domain.Favorite{}, err
	}
	return f, nil
}

// Remove deletes hotelID from userID's favorites.
func (s *FavoritesService) Remove(ctx context.Context, userID, hotelID string) error {
	k := favKey(userID, strings.TrimSpace(hotelID))
	if _, err := s.Store.Get(ctx, k); err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return ErrFavoriteNotFound
		}
		return err
	}
	return s.Store.Delete(ctx, k)
}

// List returns userID's favorites, most recently added first.
func (s *FavoritesService) List(ctx context.Context, userID string) ([]domain.Favorite, error) {
	m, err := s.Store.List(ctx, url.QueryEscape(userID)+":")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Favorite, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b domain.Favorite) int {
		if c := b.AddedAt.Compare(a.AddedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.HotelID, b.HotelID)
	})
	return out, nil
}
