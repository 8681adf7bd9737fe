package services

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

func TestNormalizeNationality(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"saudi_arabia", "SA"},
		{"Saudi Arabia", "SA"},
		{"ae", "AE"},
		{" gb ", "GB"},
		{"UNITED-KINGDOM", "GB"},
		{"uk", "GB"},
		{"Côte d'Ivoire", "CI"},
		{"atlantis", "QA"},
		{"", "QA"},
		{"zz", "QA"},
	}
	for _, tc := range cases {
		if got := NormalizeNationality(tc.in, "qa"); got != tc.want {
			t.Errorf("NormalizeNationality(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := NormalizeNationality("atlantis", ""); got != DefaultNationality {
		t.Fatalf("empty fallback = %q", got)
	}
}

func TestReturnURLs_EmbedTransactionID(t *testing.T) {
	ok, fail := ReturnURLs("https://stay.example/", "tx 1/2")
	for _, raw := range []string{ok, fail} {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if u.Query().Get("transactionId") != "tx 1/2" {
			t.Fatalf("transactionId lost in %q", raw)
		}
	}
	if ok != "https://stay.example/payments/return/success?transactionId=tx+1%2F2" {
		t.Fatalf("success = %q", ok)
	}
	if fail != "https://stay.example/payments/return/failure?transactionId=tx+1%2F2" {
		t.Fatalf("failure = %q", fail)
	}
}

func created() *domain.Itinerary {
	return &domain.Itinerary{TUI: "tui-1", TransactionID: "tx-1", NetAmount: 420.5, CurrencyCode: "AED"}
}

func TestInitiate_RequiresCreatedItinerary(t *testing.T) {
	api := &fakeUpstream{}
	p := NewPaymentCoordinator(api, "https://stay.example", "AE")

	_, err := p.Initiate(context.Background(), domain.DraftOpen, created(), domain.PaymentInfo{})
	var se *domain.StateError
	if !errors.As(err, &se) {
		t.Fatalf("want StateError, got %v", err)
	}
	if _, err := p.Initiate(context.Background(), domain.DraftCreated, nil, domain.PaymentInfo{}); !errors.Is(err, ErrItineraryRequired) {
		t.Fatalf("want ErrItineraryRequired, got %v", err)
	}
	if _, _, calls := api.calls(); calls != 0 || p.State() != domain.PaymentIdle {
		t.Fatalf("calls = %d state = %s", calls, p.State())
	}
}

func TestInitiate_Redirects(t *testing.T) {
	api := &fakeUpstream{}
	p := NewPaymentCoordinator(api, "https://stay.example", "AE")

	s, err := p.Initiate(context.Background(), domain.DraftCreated, created(), domain.PaymentInfo{Nationality: "saudi_arabia", Method: "card"})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if s.State != domain.PaymentRedirected || s.RedirectURL != "https://pay.example/r/1" || s.GatewayRef != "gw-1" {
		t.Fatalf("session = %+v", s)
	}
	pl := api.payPayload
	if pl.Nationality != "SA" || pl.TransactionID != "tx-1" || pl.TUI != "tui-1" || pl.Amount != 420.5 || pl.Currency != "AED" {
		t.Fatalf("payload = %+v", pl)
	}
	if pl.SuccessURL != s.SuccessURL || pl.FailureURL != s.FailureURL {
		t.Fatalf("return urls differ: %+v vs %+v", pl, s)
	}

	if _, err := p.Initiate(context.Background(), domain.DraftCreated, created(), domain.PaymentInfo{}); err == nil {
		t.Fatal("second initiate after REDIRECTED should be a StateError")
	}
}

func TestInitiate_FailureAllowsRetry(t *testing.T) {
	api := &fakeUpstream{payErr: &domain.UpstreamError{Status: 502, Message: "gateway down"}}
	p := NewPaymentCoordinator(api, "https://stay.example", "AE")

	if _, err := p.Initiate(context.Background(), domain.DraftCreated, created(), domain.PaymentInfo{}); err == nil {
		t.Fatal("want error")
	}
	if p.State() != domain.PaymentFailed || p.Session() != nil {
		t.Fatalf("state = %s session = %+v", p.State(), p.Session())
	}
	if api.payPayload.Nationality != "AE" {
		t.Fatalf("default nationality not applied: %q", api.payPayload.Nationality)
	}

	api.payErr = nil
	if _, err := p.Initiate(context.Background(), domain.DraftCreated, created(), domain.PaymentInfo{}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if p.State() != domain.PaymentRedirected {
		t.Fatalf("state = %s", p.State())
	}
}

func TestComplete_RecordsFirstVerdict(t *testing.T) {
	p := NewPaymentCoordinator(&fakeUpstream{}, "https://stay.example", "AE")
	if _, err := p.Complete(domain.PaymentSuccess); err == nil {
		t.Fatal("complete before redirect should fail")
	}
	if _, err := p.Initiate(context.Background(), domain.DraftCreated, created(), domain.PaymentInfo{}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := p.Complete("MAYBE"); err == nil {
		t.Fatal("unknown status should be rejected")
	}
	s, err := p.Complete(domain.PaymentCancelled)
	if err != nil || s.Status != domain.PaymentCancelled {
		t.Fatalf("Complete = %+v, %v", s, err)
	}
	s, _ = p.Complete(domain.PaymentSuccess)
	if s.Status != domain.PaymentCancelled {
		t.Fatalf("verdict overwritten: %s", s.Status)
	}
}

func TestRestorePaymentCoordinator_InitiatingBecomesFailed(t *testing.T) {
	p := RestorePaymentCoordinator(&fakeUpstream{}, "", "", &domain.PaymentSession{State: domain.PaymentInitiating})
	if p.State() != domain.PaymentFailed {
		t.Fatalf("state = %s", p.State())
	}
}
