package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/services"
)

func newBookingHandlers() (*Handlers, *stubBookings, *stubSelector, *memIdem) {
	b, sel, idem := newStubBookings(), &stubSelector{}, newMemIdem()
	return New(Services{Bookings: b, Selector: sel, Idempotency: idem}), b, sel, idem
}

func createDraft(t *testing.T, h *Handlers, user string) services.BookingView {
	t.Helper()
	body := services.Selection{SearchID: "s1", HotelID: "h1", ProviderName: "prov", RecommendationID: "rec-1"}
	w := serve(t, nil, call{
		method: http.MethodPost, route: "/bookings", path: "/bookings", body: body,
		headers: map[string]string{middleware.HeaderUserID: user},
	}, h.CreateBooking)
	wantStatus(t, w, http.StatusCreated)
	return decode[services.BookingView](t, w)
}

func TestCreateBooking_FromSelection(t *testing.T) {
	h, _, sel, _ := newBookingHandlers()

	v := createDraft(t, h, "u1")
	if sel.got.RecommendationID != "rec-1" || sel.got.HotelID != "h1" {
		t.Fatalf("selection not passed: %+v", sel.got)
	}
	if v.Draft.ID != "d-1" || v.Draft.UserID != "u1" || v.Draft.State != domain.DraftOpen || v.Draft.PriceID != "p1" {
		t.Fatalf("view = %+v", v.Draft)
	}

	sel.err = domain.NewValidationError("recommendationId")
	w := serve(t, nil, call{method: http.MethodPost, route: "/bookings", path: "/bookings", body: services.Selection{}}, h.CreateBooking)
	wantStatus(t, w, http.StatusBadRequest)
	if er := decode[ErrorResponse](t, w); er.Fields[0] != "recommendationId" {
		t.Fatalf("fields = %v", er.Fields)
	}
}

func TestGetBooking_OwnerOnly(t *testing.T) {
	h, _, _, _ := newBookingHandlers()
	createDraft(t, h, "u1")

	w := serve(t, nil, call{method: http.MethodGet, route: "/bookings/:id", path: "/bookings/d-1",
		headers: map[string]string{middleware.HeaderUserID: "u1"}}, h.GetBooking)
	wantStatus(t, w, http.StatusOK)

	w = serve(t, nil, call{method: http.MethodGet, route: "/bookings/:id", path: "/bookings/d-1",
		headers: map[string]string{middleware.HeaderUserID: "intruder"}}, h.GetBooking)
	wantStatus(t, w, http.StatusNotFound)
}

func TestListBookings_ETag(t *testing.T) {
	h, _, _, _ := newBookingHandlers()
	hdr := map[string]string{middleware.HeaderUserID: "u1"}
	cl := call{method: http.MethodGet, route: "/bookings", path: "/bookings", headers: hdr}

	w := serve(t, nil, cl, h.ListBookings)
	wantStatus(t, w, http.StatusOK)
	if got := decode[ListBookingsResponse](t, w); got.Bookings == nil || len(got.Bookings) != 0 {
		t.Fatalf("empty list = %+v", got)
	}
	empty := w.Header().Get("ETag")

	createDraft(t, h, "u1")
	w = serve(t, nil, cl, h.ListBookings)
	wantStatus(t, w, http.StatusOK)
	etag := w.Header().Get("ETag")
	if etag == "" || etag == empty {
		t.Fatalf("etag = %q (empty list %q)", etag, empty)
	}
	if got := decode[ListBookingsResponse](t, w); len(got.Bookings) != 1 || got.Bookings[0].ID != "d-1" {
		t.Fatalf("list = %+v", got)
	}

	cl.headers = map[string]string{middleware.HeaderUserID: "u1", "If-None-Match": etag}
	w = serve(t, nil, cl, h.ListBookings)
	wantStatus(t, w, http.StatusNotModified)
}

func TestUpdateGuest_ThenSubmitTwice(t *testing.T) {
	h, b, _, _ := newBookingHandlers()
	createDraft(t, h, "u1")
	hdr := map[string]string{middleware.HeaderUserID: "u1"}

	guest := UpdateGuestRequest{
		Guest:   domain.GuestInfo{FirstName: "Amal", LastName: "Haddad", Email: "amal@example.com", Phone: "+971500000000"},
		Payment: &domain.PaymentInfo{Method: "card", Nationality: "AE"},
	}
	w := serve(t, nil, call{method: http.MethodPut, route: "/bookings/:id/guest", path: "/bookings/d-1/guest", body: guest, headers: hdr}, h.UpdateGuest)
	wantStatus(t, w, http.StatusOK)
	if v := decode[services.BookingView](t, w); v.Draft.Guest.Email != "amal@example.com" || v.Draft.Payment.Method != "card" {
		t.Fatalf("guest not applied: %+v", v.Draft)
	}

	w = serve(t, nil, call{method: http.MethodPost, route: "/bookings/:id/submit", path: "/bookings/d-1/submit", headers: hdr}, h.SubmitBooking)
	wantStatus(t, w, http.StatusOK)
	if v := decode[services.BookingView](t, w); v.Itinerary == nil || v.Itinerary.TransactionID != "tx-1" {
		t.Fatalf("itinerary missing: %+v", v)
	}

	w = serve(t, nil, call{method: http.MethodPost, route: "/bookings/:id/submit", path: "/bookings/d-1/submit", headers: hdr}, h.SubmitBooking)
	wantStatus(t, w, http.StatusConflict)
	if er := decode[ErrorResponse](t, w); er.Code != ErrCodeInvalidState {
		t.Fatalf("second submit code = %q", er.Code)
	}
	if b.submits != 2 {
		t.Fatalf("submits = %d", b.submits)
	}
}

func TestSubmitBooking_IdempotentReplay(t *testing.T) {
	h, b, _, idem := newBookingHandlers()
	createDraft(t, h, "u1")
	hdr := map[string]string{middleware.HeaderUserID: "u1", middleware.HeaderIdempotencyKey: "submit-key-1"}
	cl := call{method: http.MethodPost, route: "/bookings/:id/submit", path: "/bookings/d-1/submit", headers: hdr}

	w := serve(t, idem.lookup(), cl, h.SubmitBooking)
	wantStatus(t, w, http.StatusOK)
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first submit must not be a replay")
	}
	if rec, err := idem.Lookup(context.Background(), "u1", "d-1", "submit-key-1", time.Now()); err != nil || rec.TransactionID != "tx-1" {
		t.Fatalf("idempotency not recorded: %+v %v", rec, err)
	}

	w = serve(t, idem.lookup(), cl, h.SubmitBooking)
	wantStatus(t, w, http.StatusOK)
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	if v := decode[services.BookingView](t, w); v.Itinerary == nil || v.Itinerary.TransactionID != "tx-1" {
		t.Fatalf("replay view = %+v", v)
	}
	if b.submits != 1 {
		t.Fatalf("replay reached the service: submits=%d", b.submits)
	}

	// The draft is gone; the replay still answers from the record.
	delete(b.views, "d-1")
	w = serve(t, idem.lookup(), cl, h.SubmitBooking)
	wantStatus(t, w, http.StatusOK)
	if r := decode[SubmitReplayResponse](t, w); r.TransactionID != "tx-1" || r.DraftID != "d-1" {
		t.Fatalf("record replay = %+v", r)
	}
}

func TestSubmitBooking_ExpiredAndRejected(t *testing.T) {
	h, b, _, _ := newBookingHandlers()
	cl := call{method: http.MethodPost, route: "/bookings/:id/submit", path: "/bookings/d-9/submit"}

	b.submit = func(string) (*services.BookingView, error) { return nil, services.ErrDraftExpired }
	w := serve(t, nil, cl, h.SubmitBooking)
	wantStatus(t, w, http.StatusGone)

	b.submit = func(string) (*services.BookingView, error) {
		return nil, &domain.UpstreamError{Op: "itinerary", Status: 422, Message: "Guest name invalid"}
	}
	w = serve(t, nil, cl, h.SubmitBooking)
	wantStatus(t, w, http.StatusBadGateway)
	if er := decode[ErrorResponse](t, w); er.Message != "Guest name invalid" {
		t.Fatalf("message = %q", er.Message)
	}
}

func TestReviseBooking(t *testing.T) {
	h, b, _, _ := newBookingHandlers()
	createDraft(t, h, "u1")
	hdr := map[string]string{middleware.HeaderUserID: "u1"}
	cl := call{method: http.MethodPost, route: "/bookings/:id/revise", path: "/bookings/d-1/revise", headers: hdr}

	w := serve(t, nil, cl, h.ReviseBooking)
	wantStatus(t, w, http.StatusConflict)

	b.views["d-1"].Draft.State = domain.DraftFailed
	w = serve(t, nil, cl, h.ReviseBooking)
	wantStatus(t, w, http.StatusCreated)
	if v := decode[services.BookingView](t, w); v.Draft.ID != "d-1-r" || v.Draft.State != domain.DraftOpen {
		t.Fatalf("revised = %+v", v.Draft)
	}
}

func TestInitiatePayment(t *testing.T) {
	h, b, _, _ := newBookingHandlers()
	createDraft(t, h, "u1")
	hdr := map[string]string{middleware.HeaderUserID: "u1"}
	route, path := "/bookings/:id/payment", "/bookings/d-1/payment"

	w := serve(t, nil, call{method: http.MethodPost, route: route, path: path, headers: hdr}, h.InitiatePayment)
	wantStatus(t, w, http.StatusConflict)
	if b.payer != nil {
		t.Fatalf("payer without body should be nil")
	}

	b.views["d-1"].Itinerary = &domain.Itinerary{TransactionID: "tx-1"}
	body := InitiatePaymentRequest{Payer: &domain.PaymentInfo{Nationality: "Saudi Arabia"}}
	w = serve(t, nil, call{method: http.MethodPost, route: route, path: path, body: body, headers: hdr}, h.InitiatePayment)
	wantStatus(t, w, http.StatusOK)
	if ps := decode[domain.PaymentSession](t, w); ps.RedirectURL == "" || ps.State != domain.PaymentRedirected {
		t.Fatalf("payment = %+v", ps)
	}
	if b.payer == nil || b.payer.Nationality != "Saudi Arabia" {
		t.Fatalf("payer override not passed: %+v", b.payer)
	}
}

func TestPaymentReturn(t *testing.T) {
	h, b, _, _ := newBookingHandlers()
	route := "/payments/return/:outcome"

	w := serve(t, nil, call{method: http.MethodGet, route: route, path: "/payments/return/success?transactionId=tx-1"}, h.PaymentReturn)
	wantStatus(t, w, http.StatusOK)
	if ps := decode[domain.PaymentSession](t, w); ps.Status != domain.PaymentSuccess {
		t.Fatalf("status = %q", ps.Status)
	}

	w = serve(t, nil, call{method: http.MethodGet, route: route, path: "/payments/return/failure?transactionId=tx-1&status=cancelled"}, h.PaymentReturn)
	wantStatus(t, w, http.StatusOK)
	if ps := decode[domain.PaymentSession](t, w); ps.Status != domain.PaymentCancelled {
		t.Fatalf("explicit status should win: %q", ps.Status)
	}

	w = serve(t, nil, call{method: http.MethodGet, route: route, path: "/payments/return/maybe?transactionId=tx-1"}, h.PaymentReturn)
	wantStatus(t, w, http.StatusBadRequest)

	w = serve(t, nil, call{method: http.MethodGet, route: route, path: "/payments/return/success?transactionId=tx-404"}, h.PaymentReturn)
	wantStatus(t, w, http.StatusNotFound)

	b.complete = func(string, domain.PaymentStatus) (*domain.PaymentSession, error) {
		return nil, &domain.StateError{From: string(domain.PaymentIdle), Event: "complete"}
	}
	w = serve(t, nil, call{method: http.MethodGet, route: route, path: "/payments/return/success?transactionId=tx-1"}, h.PaymentReturn)
	wantStatus(t, w, http.StatusConflict)
}

func TestAbandonBooking(t *testing.T) {
	h, _, _, _ := newBookingHandlers()
	createDraft(t, h, "u1")
	cl := call{method: http.MethodDelete, route: "/bookings/:id", path: "/bookings/d-1", headers: map[string]string{middleware.HeaderUserID: "u1"}}

	wantStatus(t, serve(t, nil, cl, h.AbandonBooking), http.StatusNoContent)
	wantStatus(t, serve(t, nil, cl, h.AbandonBooking), http.StatusNotFound)
}

func Test_paymentOutcome(t *testing.T) {
	cases := []struct {
		outcome, status string
		want            domain.PaymentStatus
		ok              bool
	}{
		{"success", "", domain.PaymentSuccess, true},
		{"FAILURE", "", domain.PaymentFailure, true},
		{"cancel", "", domain.PaymentCancelled, true},
		{"success", "failure", domain.PaymentFailure, true},
		{"unknown", "", "", false},
	}
	for _, tc := range cases {
		got, ok := paymentOutcome(tc.outcome, tc.status)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("paymentOutcome(%q,%q) = %q,%v", tc.outcome, tc.status, got, ok)
		}
	}
}
