package upstream

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

// Pax types of guest records.
const (
	PaxAdult = "ADT"
	PaxChild = "CHD"
)

// Guest is one passenger record of an itinerary. Only the lead guest carries
// contact fields.
type Guest struct {
	Room      int    `json:"room"`
	PaxType   string `json:"paxType"`
	Title     string `json:"title"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Mobile    string `json:"mobile"`
	Age       int    `json:"age,omitempty"`
	Lead      bool   `json:"lead,omitempty"`
}

// ItineraryPayload is the body of itinerary/create.
type ItineraryPayload struct {
	SearchID         string  `json:"searchId"`
	HotelID          string  `json:"hotelId"`
	ProviderName     string  `json:"providerName"`
	RecommendationID string  `json:"recommendationId"`
	PriceID          string  `json:"priceId"`
	CheckIn          string  `json:"checkIn"`
	CheckOut         string  `json:"checkOut"`
	Nationality      string  `json:"nationality,omitempty"`
	Rooms            int     `json:"rooms"`
	Guests           []Guest `json:"guests"`
}

// PaymentPayload is the body of payment/initiate.
type PaymentPayload struct {
	TransactionID string  `json:"transactionId"`
	TUI           string  `json:"tui"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Nationality   string  `json:"nationality"`
	Method        string  `json:"method,omitempty"`
	SuccessURL    string  `json:"successUrl"`
	FailureURL    string  `json:"failureUrl"`
}

// PaymentRedirect is the answer of payment/initiate.
type PaymentRedirect struct {
	RedirectURL string `json:"redirectUrl"`
	GatewayRef  string `json:"gatewayRef,omitempty"`
}

func seg(parts ...string) string {
	esc := make([]string, len(parts))
	for i, p := range parts {
		esc[i] = url.PathEscape(p)
	}
	return path.Join(esc...)
}

// InitSearch starts a search job and returns its id.
func (c *Client) InitSearch(ctx context.Context, cr domain.Criteria) (string, error) {
	var out struct {
		SearchID string `json:"searchId"`
	}
	if err := c.callJSON(ctx, call{op: OpSearchInit, method: http.MethodPost, path: "search/init", body: cr}, &out); err != nil {
		return "", err
	}
	if out.SearchID == "" {
		return "", &domain.UpstreamError{Op: OpSearchInit, Status: http.StatusBadGateway, Message: "missing searchId"}
	}
	return out.SearchID, nil
}

// SearchResults fetches one batch of results starting at offset.
func (c *Client) SearchResults(ctx context.Context, searchID string, offset, limit int, filterData string) (domain.Batch, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if filterData != "" {
		q.Set("filterdata", filterData)
	}
	var out domain.Batch
	err := c.callJSON(ctx, call{
		op: OpSearchContent, method: http.MethodGet,
		path: seg("search", "result", searchID, "content"), query: q,
	}, &out)
	if err != nil {
		return domain.Batch{}, err
	}
	if out.Status == "" {
		out.Status = domain.SearchInProgress
	}
	return out, nil
}

// SearchRates fetches the rate-only refresh of a search.
func (c *Client) SearchRates(ctx context.Context, searchID string) ([]domain.HotelResult, error) {
	var out struct {
		Hotels []domain.HotelResult `json:"hotels"`
	}
	err := c.callJSON(ctx, call{
		op: OpSearchRates, method: http.MethodGet,
		path: seg("search", "result", searchID, "rate"),
	}, &out)
	return out.Hotels, err
}

// HotelDetail fetches a hotel's content and rooms.
func (c *Client) HotelDetail(ctx context.Context, searchID, hotelID, priceProvider string) (*domain.HotelDetail, error) {
	q := url.Values{}
	if priceProvider != "" {
		q.Set("priceProvider", priceProvider)
	}
	var out domain.HotelDetail
	err := c.callJSON(ctx, call{
		op: OpHotelDetail, method: http.MethodGet,
		path: seg("details", searchID, hotelID, "content"), query: q,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Price resolves the authoritative price of one offer.
func (c *Client) Price(ctx context.Context, searchID, hotelID, providerName, recommendationID string) (*domain.Price, error) {
	var out domain.Price
	err := c.callJSON(ctx, call{
		op: OpPrice, method: http.MethodGet,
		path: seg("details", searchID, hotelID, "price", providerName, recommendationID),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.RecommendationID == "" {
		out.RecommendationID = recommendationID
	}
	return &out, nil
}

// CreateItinerary submits a booking.
func (c *Client) CreateItinerary(ctx context.Context, p ItineraryPayload) (*domain.Itinerary, error) {
	var out domain.Itinerary
	if err := c.callJSON(ctx, call{op: OpItineraryCreate, method: http.MethodPost, path: "itinerary/create", body: p}, &out); err != nil {
		return nil, err
	}
	if out.TransactionID == "" {
		return nil, &domain.UpstreamError{Op: OpItineraryCreate, Status: http.StatusBadGateway, Message: "missing TransactionID"}
	}
	return &out, nil
}

// InitiatePayment asks the gateway for a redirect URL.
func (c *Client) InitiatePayment(ctx context.Context, p PaymentPayload) (*PaymentRedirect, error) {
	var out PaymentRedirect
	if err := c.callJSON(ctx, call{op: OpPaymentInitiate, method: http.MethodPost, path: "payment/initiate", body: p}, &out); err != nil {
		return nil, err
	}
	if out.RedirectURL == "" {
		return nil, &domain.UpstreamError{Op: OpPaymentInitiate, Status: http.StatusBadGateway, Message: "missing redirectUrl"}
	}
	return &out, nil
}

// RetrieveBooking looks a booking up by reference. ClientID defaults to the
// client's configured id.
func (c *Client) RetrieveBooking(ctx context.Context, r domain.ReferenceRequest) (*domain.BookingStatus, error) {
	if r.ClientID == "" {
		r.ClientID = c.clientID
	}
	var out domain.BookingStatus
	if err := c.callJSON(ctx, call{op: OpBookingRetrieve, method: http.MethodPost, path: "booking/retrieve", body: r}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Voucher downloads the booking voucher as a binary document.
func (c *Client) Voucher(ctx context.Context, transactionID string) (*domain.Document, error) {
	raw, hdr, err := c.do(ctx, call{
		op: OpVoucher, method: http.MethodGet,
		path: seg("booking", transactionID, "voucher"),
	})
	if err != nil {
		return nil, err
	}
	ct := hdr.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(raw)
	}
	if mt, _, _ := mime.ParseMediaType(ct); mt == "application/json" {
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Success != nil && !*env.Success {
			return nil, &domain.UpstreamError{Op: OpVoucher, Status: http.StatusBadRequest, Message: env.text()}
		}
	}
	return &domain.Document{
		Data:        raw,
		ContentType: ct,
		Filename:    voucherFilename(hdr.Get("Content-Disposition"), transactionID),
	}, nil
}

func voucherFilename(disposition, transactionID string) string {
	if _, params, err := mime.ParseMediaType(disposition); err == nil {
		if fn := strings.TrimSpace(params["filename"]); fn != "" {
			return path.Base(fn)
		}
	}
	return "voucher-" + transactionID + ".pdf"
}
