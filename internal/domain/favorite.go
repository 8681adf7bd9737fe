package domain

import "time"

// Favorite is a hotel bookmarked by a user. Favorites are client-held
// preferences kept in the key-value store, not booking state.
type Favorite struct {
	HotelID      string    `json:"hotelId"`
	ProviderName string    `json:"providerName,omitempty"`
	Name         string    `json:"name,omitempty"`
	StarRating   *float64  `json:"starRating,omitempty"`
	AddedAt      time.Time `json:"addedAt"`
}
