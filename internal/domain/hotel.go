package domain

import "time"

// SearchStatus is the lifecycle of an upstream search job.
type SearchStatus string

const (
	SearchPending    SearchStatus = "PENDING"
	SearchInProgress SearchStatus = "IN_PROGRESS"
	SearchComplete   SearchStatus = "COMPLETE"
	SearchFailed     SearchStatus = "FAILED"
)

// Terminal reports whether no further polls will be issued.
func (s SearchStatus) Terminal() bool {
	return s == SearchComplete || s == SearchFailed
}

// Occupancy describes one room's guests.
type Occupancy struct {
	Adults    int   `json:"adults"`
	Children  int   `json:"children"`
	ChildAges []int `json:"childAges,omitempty"`
}

// Criteria is the search request forwarded to search/init.
type Criteria struct {
	Destination string      `json:"destination"`
	CheckIn     string      `json:"checkIn"`  // YYYY-MM-DD
	CheckOut    string      `json:"checkOut"` // YYYY-MM-DD
	Occupancies []Occupancy `json:"occupancies"`
	Nationality string      `json:"nationality,omitempty"`
	Currency    string      `json:"currency,omitempty"`
}

// Nights returns the stay length, or 0 when the dates do not parse.
func (c Criteria) Nights() int {
	in, err1 := time.Parse(time.DateOnly, c.CheckIn)
	out, err2 := time.Parse(time.DateOnly, c.CheckOut)
	if err1 != nil || err2 != nil {
		return 0
	}
	return int(out.Sub(in).Hours() / 24)
}

// Validate reports every criteria field that prevents starting a search.
func (c Criteria) Validate() error {
	var missing []string
	if c.Destination == "" {
		missing = append(missing, "destination")
	}
	in, err := time.Parse(time.DateOnly, c.CheckIn)
	if err != nil {
		missing = append(missing, "checkIn")
	}
	out, err2 := time.Parse(time.DateOnly, c.CheckOut)
	if err2 != nil {
		missing = append(missing, "checkOut")
	}
	if err == nil && err2 == nil && !out.After(in) {
		missing = append(missing, "checkOut")
	}
	if len(c.Occupancies) == 0 {
		missing = append(missing, "occupancies")
	}
	for _, o := range c.Occupancies {
		if o.Adults < 1 || o.Children < 0 || len(o.ChildAges) != o.Children {
			missing = append(missing, "occupancies")
			break
		}
	}
	return NewValidationError(missing...)
}

// Rate is a price snapshot for one offer.
type Rate struct {
	Amount   float64 `json:"amount"`
	PerNight float64 `json:"perNight"`
	Currency string  `json:"currency,omitempty"`
}

// UserReview aggregates guest reviews.
type UserReview struct {
	Rating float64 `json:"rating"`
	Count  int     `json:"count"`
}

// HotelKey identifies one result in a result set.
type HotelKey struct {
	HotelID      string
	ProviderName string
}

// HotelResult is one search hit. Nil pointer fields mean the upstream did not
// report the value. Only Rate is ever replaced after the first merge.
type HotelResult struct {
	HotelID          string      `json:"hotelId"`
	ProviderName     string      `json:"providerName"`
	RecommendationID string      `json:"recommendationId,omitempty"`
	Name             string      `json:"name"`
	StarRating       *float64    `json:"starRating,omitempty"`
	RelevanceScore   *float64    `json:"relevanceScore,omitempty"`
	IsRecommended    bool        `json:"isRecommended"`
	Rate             *Rate       `json:"rate,omitempty"`
	Distance         *float64    `json:"distance,omitempty"`
	UserReview       *UserReview `json:"userReview,omitempty"`
}

// Key returns the dedupe key.
func (h HotelResult) Key() HotelKey {
	return HotelKey{HotelID: h.HotelID, ProviderName: h.ProviderName}
}

// SearchSession is the poller-owned view of one upstream search job.
type SearchSession struct {
	SearchID     string       `json:"searchId"`
	Criteria     Criteria     `json:"criteria"`
	Status       SearchStatus `json:"status"`
	PollAttempts int          `json:"pollAttempts"`
	LastOffset   int          `json:"lastOffset"`
	TimedOut     bool         `json:"timedOut"`
	StartedAt    time.Time    `json:"startedAt"`
	Error        string       `json:"error,omitempty"`
}

// Batch is what a single poll returns.
type Batch struct {
	Status SearchStatus  `json:"status"`
	Hotels []HotelResult `json:"hotels"`
}

// Price is the authoritative price of an offer.
type Price struct {
	PriceID          string  `json:"priceId"`
	RecommendationID string  `json:"recommendationId"`
	Amount           float64 `json:"amount"`
	Currency         string  `json:"currency"`
	Refundable       bool    `json:"refundable"`
}

// Room is one bookable room in a hotel detail.
type Room struct {
	RoomID           string  `json:"roomId"`
	Name             string  `json:"name"`
	RecommendationID string  `json:"recommendationId"`
	BoardBasis       string  `json:"boardBasis,omitempty"`
	Rate             *Rate   `json:"rate,omitempty"`
	Refundable       bool    `json:"refundable"`
	MaxOccupancy     int     `json:"maxOccupancy,omitempty"`
	CancellationText string  `json:"cancellationText,omitempty"`
	Discount         float64 `json:"discount,omitempty"`
}

// HotelDetail is the content of details/{searchId}/{hotelId}/content.
type HotelDetail struct {
	HotelID      string   `json:"hotelId"`
	ProviderName string   `json:"providerName"`
	Name         string   `json:"name"`
	Address      string   `json:"address,omitempty"`
	StarRating   *float64 `json:"starRating,omitempty"`
	Facilities   []string `json:"facilities,omitempty"`
	Rooms        []Room   `json:"rooms"`
}
