package domain

import "time"

// DraftState is the booking orchestrator's state.
type DraftState string

const (
	DraftOpen       DraftState = "DRAFT"
	DraftSubmitting DraftState = "SUBMITTING"
	DraftCreated    DraftState = "CREATED"
	DraftFailed     DraftState = "FAILED"
)

// PaymentState is the payment coordinator's state.
type PaymentState string

const (
	PaymentIdle       PaymentState = "IDLE"
	PaymentInitiating PaymentState = "INITIATING"
	PaymentRedirected PaymentState = "REDIRECTED"
	PaymentFailed     PaymentState = "FAILED"
)

// PaymentStatus is the gateway's terminal verdict, delivered out of band.
type PaymentStatus string

const (
	PaymentSuccess   PaymentStatus = "SUCCESS"
	PaymentFailure   PaymentStatus = "FAILURE"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// HotelSnapshot freezes what the user saw when selecting the room.
type HotelSnapshot struct {
	HotelID      string   `json:"hotelId"`
	ProviderName string   `json:"providerName"`
	Name         string   `json:"name"`
	StarRating   *float64 `json:"starRating,omitempty"`
	Address      string   `json:"address,omitempty"`
}

// RoomSnapshot freezes the selected room offer.
type RoomSnapshot struct {
	RoomID           string `json:"roomId"`
	Name             string `json:"name"`
	RecommendationID string `json:"recommendationId"`
	BoardBasis       string `json:"boardBasis,omitempty"`
	Refundable       bool   `json:"refundable"`
}

// Stay is the booked date range.
type Stay struct {
	CheckIn  string `json:"checkIn"`
	CheckOut string `json:"checkOut"`
}

// GuestInfo is the lead contact entered in the booking wizard.
type GuestInfo struct {
	Title       string `json:"title,omitempty"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Nationality string `json:"nationality,omitempty"`
}

// PaymentInfo carries what the payment step needs from the wizard.
type PaymentInfo struct {
	Method      string `json:"method,omitempty"`
	Nationality string `json:"nationality,omitempty"`
}

// BookingDraft is assembled step by step and discarded on successful
// submission or session expiry.
type BookingDraft struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	SearchID    string        `json:"searchId"`
	Hotel       HotelSnapshot `json:"hotel"`
	Room        RoomSnapshot  `json:"room"`
	Stay        Stay          `json:"stay"`
	Occupancies []Occupancy   `json:"occupancies"`
	Guest       GuestInfo     `json:"guest"`
	Payment     PaymentInfo   `json:"payment"`
	PriceID     string        `json:"priceId"`
	TotalPrice  float64       `json:"totalPrice"`
	Currency    string        `json:"currency,omitempty"`
	State       DraftState    `json:"state"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Itinerary is the supplier-accepted booking record, created exactly once.
type Itinerary struct {
	TUI           string  `json:"TUI"`
	TransactionID string  `json:"TransactionID"`
	NetAmount     float64 `json:"NetAmount"`
	CurrencyCode  string  `json:"CurrencyCode"`
}

// PaymentSession is the handoff to the external gateway.
type PaymentSession struct {
	TransactionID string        `json:"transactionId"`
	GatewayRef    string        `json:"gatewayRef,omitempty"`
	RedirectURL   string        `json:"redirectUrl"`
	SuccessURL    string        `json:"successUrl"`
	FailureURL    string        `json:"failureUrl"`
	State         PaymentState  `json:"state"`
	Status        PaymentStatus `json:"status,omitempty"`
}

// TimerState is the snapshot of a session timer.
type TimerState struct {
	StartedAt   time.Time     `json:"startedAt"`
	MaxDuration time.Duration `json:"maxDuration"`
	Remaining   time.Duration `json:"remaining"`
	Expired     bool          `json:"expired"`
}

// ReferenceRequest is the body of booking/retrieve.
type ReferenceRequest struct {
	ReferenceType   string `json:"ReferenceType"`
	ReferenceNumber string `json:"ReferenceNumber"`
	TUI             string `json:"TUI,omitempty"`
	ClientID        string `json:"ClientID,omitempty"`
}

// BookingStatus is a retrieved booking.
type BookingStatus struct {
	TransactionID   string  `json:"TransactionID"`
	BookingRef      string  `json:"BookingRef,omitempty"`
	Status          string  `json:"Status"`
	PaymentStatus   string  `json:"PaymentStatus,omitempty"`
	HotelName       string  `json:"HotelName,omitempty"`
	CheckIn         string  `json:"CheckIn,omitempty"`
	CheckOut        string  `json:"CheckOut,omitempty"`
	NetAmount       float64 `json:"NetAmount,omitempty"`
	CurrencyCode    string  `json:"CurrencyCode,omitempty"`
	LeadGuestName   string  `json:"LeadGuestName,omitempty"`
	SupplierMessage string  `json:"SupplierMessage,omitempty"`
}

// Document is a binary post-booking document such as a voucher.
type Document struct {
	Data        []byte
	ContentType string
	Filename    string
}
