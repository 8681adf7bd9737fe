// Booking HTTP handlers.
//
// This file exposes REST endpoints for booking drafts and their payment:
//   - POST   /bookings                   (create a draft from a selected offer)
//   - GET    /bookings                   (resumable drafts, ETag support)
//   - GET    /bookings/{id}              (read, resuming from storage)
//   - PUT    /bookings/{id}/guest        (guest and payment details)
//   - POST   /bookings/{id}/submit       (create the itinerary, idempotent)
//   - POST   /bookings/{id}/revise       (retry a failed draft under a new id)
//   - POST   /bookings/{id}/payment      (hand off to the payment gateway)
//   - DELETE /bookings/{id}              (abandon)
//   - GET    /payments/return/{outcome}  (gateway return)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// submit exists for (user, draft, key), the handler returns the current
// booking view and sets `Idempotency-Replayed: true` without calling the
// supplier again.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/services"
)

//
// DTOs
//

// UpdateGuestRequest is the JSON payload of the guest step.
type UpdateGuestRequest struct {
	Guest   domain.GuestInfo    `json:"guest"`
	Payment *domain.PaymentInfo `json:"payment,omitempty"`
}

// InitiatePaymentRequest optionally overrides the payer details stored on
// the draft.
type InitiatePaymentRequest struct {
	Payer *domain.PaymentInfo `json:"payer,omitempty"`
}

// ListBookingsResponse lists the caller's resumable drafts.
type ListBookingsResponse struct {
	Bookings []services.BookingSummary `json:"bookings"`
}

// SubmitReplayResponse is returned for a replayed submit whose draft is no
// longer live.
type SubmitReplayResponse struct {
	DraftID       string `json:"draftId"`
	TransactionID string `json:"transactionId"`
}

//
// Helpers
//

// paymentOutcome maps the gateway return path and optional status query onto
// a terminal payment status.
func paymentOutcome(outcome, status string) (domain.PaymentStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case string(domain.PaymentSuccess):
		return domain.PaymentSuccess, true
	case string(domain.PaymentFailure):
		return domain.PaymentFailure, true
	case string(domain.PaymentCancelled):
		return domain.PaymentCancelled, true
	}
	switch strings.ToLower(outcome) {
	case "success":
		return domain.PaymentSuccess, true
	case "failure":
		return domain.PaymentFailure, true
	case "cancel", "cancelled":
		return domain.PaymentCancelled, true
	}
	return "", false
}

//
// Handlers
//

// CreateBooking godoc
// @ID          createBooking
// @Summary     Create a booking draft
// @Description Snapshots the selected offer from a live search, resolves its authoritative price and starts the booking session timer.
// @Tags        Bookings
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    services.Selection  true  "Selected offer"
//
// @Success     201  {object}  services.BookingView
// @Failure     400  {object}  handlers.ErrorResponse  "Missing offer fields"
// @Failure     404  {object}  handlers.ErrorResponse  "Search or offer not found"
// @Failure     502  {object}  handlers.ErrorResponse  "Price could not be resolved"
// @Router      /bookings [post]
func (h *Handlers) CreateBooking(c *gin.Context) {
	var sel services.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()
	d, err := h.selector.Draft(ctx, sel)
	if err != nil {
		failErr(c, err)
		return
	}
	v, err := h.bookings.Create(ctx, userID(c), d)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+v.Draft.ID)
	ok(c, http.StatusCreated, v)
}

// ListBookings godoc
// @ID          listBookings
// @Summary     List resumable booking drafts
// @Description Returns the caller's drafts whose session has not expired, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Bookings
// @Produce     json
// @Param       X-User-ID      header  string  false "User ID (demo header)"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Success     200  {object}  handlers.ListBookingsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Router      /bookings [get]
func (h *Handlers) ListBookings(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	if count, latest, err := h.bookings.Version(ctx, uid); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"bookings:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	list, err := h.bookings.List(ctx, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	if list == nil {
		list = []services.BookingSummary{}
	}
	ok(c, http.StatusOK, ListBookingsResponse{Bookings: list})
}

// GetBooking godoc
// @ID          getBooking
// @Summary     Read a booking draft
// @Description Returns the draft, itinerary, payment handoff and remaining session time. A draft persisted before a restart is resumed.
// @Tags        Bookings
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Draft ID"
// @Success     200  {object}  services.BookingView
// @Failure     404  {object}  handlers.ErrorResponse  "Draft not found"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired"
// @Router      /bookings/{id} [get]
func (h *Handlers) GetBooking(c *gin.Context) {
	v, err := h.bookings.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// UpdateGuest godoc
// @ID          updateGuest
// @Summary     Set guest details
// @Tags        Bookings
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Draft ID"
// @Param       body       body    handlers.UpdateGuestRequest  true  "Guest and payment details"
// @Success     200  {object}  services.BookingView
// @Failure     404  {object}  handlers.ErrorResponse  "Draft not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Draft already submitted"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired"
// @Router      /bookings/{id}/guest [put]
func (h *Handlers) UpdateGuest(c *gin.Context) {
	var req UpdateGuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	v, err := h.bookings.UpdateGuest(c.Request.Context(), userID(c), c.Param("id"), req.Guest, req.Payment)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, v)
}

// SubmitBooking godoc
// @ID          submitBooking
// @Summary     Submit a booking draft
// @Description Validates the draft and creates the supplier itinerary exactly once. A second submit is rejected without contacting the supplier.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Bookings
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Draft ID"
//
// @Success     200  {object}  services.BookingView
// @Header      200  {string}  Idempotency-Replayed  "true when a previous result was replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Draft incomplete"
// @Failure     409  {object}  handlers.ErrorResponse  "Draft already submitted"
// @Failure     410  {object}  handlers.ErrorResponse  "Session expired"
// @Failure     502  {object}  handlers.ErrorResponse  "Supplier rejected the booking"
// @Router      /bookings/{id}/submit [post]
func (h *Handlers) SubmitBooking(c *gin.Context) {
	ctx := c.Request.Context()
	uid, id := userID(c), c.Param("id")

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.idem != nil && middleware.IsReplay(c) {
		if rec, err := h.idem.Lookup(ctx, uid, id, idemKey, time.Now().UTC()); err == nil && rec != nil {
			c.Header("Idempotency-Replayed", "true")
			if v, err := h.bookings.Get(ctx, uid, id); err == nil {
				ok(c, http.StatusOK, v)
			} else {
				ok(c, http.StatusOK, SubmitReplayResponse{DraftID: id, TransactionID: rec.TransactionID})
			}
			return
		}
	}

	v, err := h.bookings.Submit(ctx, uid, id)
	if err != nil {
		failErr(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && h.idem != nil && v.Itinerary != nil {
		if err := h.idem.Record(ctx, uid, id, idemKey, v.Itinerary.TransactionID, http.StatusOK); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("draft_id", id).Msg("idempotency record failed")
		}
	}
	ok(c, http.StatusOK, v)
}

// ReviseBooking godoc
// @ID          reviseBooking
// @Summary     Revise a failed booking draft
// @Description Copies a FAILED draft into a new DRAFT under a new id; the session window keeps its original start.
// @Tags        Bookings
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Draft ID"
// @Success     201  {object}  services.BookingView
// @Failure     404  {object}  handlers.ErrorResponse  "Draft not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Draft did not fail"
// @Router      /bookings/{id}/revise [post]
func (h *Handlers) ReviseBooking(c *gin.Context) {
	v, err := h.bookings.Revise(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, v)
}

// InitiatePayment godoc
// @ID          initiatePayment
// @Summary     Start the payment handoff
// @Description Registers the itinerary with the payment gateway and returns the redirect URL together with the success and failure return URLs.
// @Tags        Payments
// @Accept      json
// @Produce     json
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Draft ID"
// @Param       body       body    handlers.InitiatePaymentRequest  false  "Payer override"
// @Success     200  {object}  domain.PaymentSession
// @Failure     409  {object}  handlers.ErrorResponse  "Itinerary required"
// @Failure     502  {object}  handlers.ErrorResponse  "Gateway error"
// @Router      /bookings/{id}/payment [post]
func (h *Handlers) InitiatePayment(c *gin.Context) {
	var req InitiatePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	ps, err := h.bookings.InitiatePayment(c.Request.Context(), userID(c), c.Param("id"), req.Payer)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ps)
}

// AbandonBooking godoc
// @ID          abandonBooking
// @Summary     Abandon a booking draft
// @Tags        Bookings
// @Param       X-User-ID  header  string  false "User ID (demo header)"
// @Param       id         path    string  true  "Draft ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Draft not found"
// @Router      /bookings/{id} [delete]
func (h *Handlers) AbandonBooking(c *gin.Context) {
	if err := h.bookings.Abandon(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// PaymentReturn godoc
// @ID          paymentReturn
// @Summary     Payment gateway return
// @Description Records the gateway verdict. An explicit status query parameter wins over the path outcome.
// @Tags        Payments
// @Produce     json
// @Param       outcome        path   string  true   "Return outcome"  Enums(success, failure, cancel)
// @Param       transactionId  query  string  true   "Itinerary transaction ID"
// @Param       status         query  string  false  "Gateway status"  Enums(SUCCESS, FAILURE, CANCELLED)
// @Success     200  {object}  domain.PaymentSession
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown outcome"
// @Failure     404  {object}  handlers.ErrorResponse  "Transaction not found"
// @Router      /payments/return/{outcome} [get]
func (h *Handlers) PaymentReturn(c *gin.Context) {
	status, known := paymentOutcome(c.Param("outcome"), c.Query("status"))
	if !known {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown payment outcome")
		return
	}
	ps, err := h.bookings.CompletePayment(c.Request.Context(), c.Query("transactionId"), status)
	if err != nil {
		var se *domain.StateError
		if errors.As(err, &se) {
			// Gateways may call the return URL more than once.
			middleware.LoggerFrom(c).Info().Err(err).Msg("duplicate payment return")
		}
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ps)
}
