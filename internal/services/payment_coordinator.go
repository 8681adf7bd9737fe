// Package services – PaymentCoordinator
//
// PaymentCoordinator hands a created itinerary over to the external payment
// gateway:
//
//	IDLE --initiate--> INITIATING --redirect--> REDIRECTED
//	FAILED --initiate--^          --fail-----> FAILED
//
// It only initiates payment. The gateway's verdict arrives out of band on the
// return URLs, which embed the TransactionID, and is confirmed later through
// RetrievalService.
package services

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/flow"
	"github.com/tbourn/go-stay-booking/internal/observability"
	"github.com/tbourn/go-stay-booking/internal/upstream"
)

// Payment events.
const (
	evInitiate = "initiate"
	evRedirect = "redirect"
	evPayFail  = "fail"
)

func newPaymentMachine(initial domain.PaymentState) *flow.Machine[domain.PaymentState, string] {
	type r = flow.Rule[domain.PaymentState, string]
	return flow.New(initial,
		r{From: domain.PaymentIdle, Event: evInitiate, To: domain.PaymentInitiating},
		r{From: domain.PaymentFailed, Event: evInitiate, To: domain.PaymentInitiating},
		r{From: domain.PaymentInitiating, Event: evRedirect, To: domain.PaymentRedirected},
		r{From: domain.PaymentInitiating, Event: evPayFail, To: domain.PaymentFailed},
	)
}

// ReturnURLs builds the gateway success and failure return URLs for
// transactionID under base.
func ReturnURLs(base, transactionID string) (success, failure string) {
	base = strings.TrimRight(base, "/")
	q := url.Values{"transactionId": {transactionID}}.Encode()
	return base + "/payments/return/success?" + q, base + "/payments/return/failure?" + q
}

// PaymentCoordinator is bound to one booking draft and is safe for
// concurrent use.
type PaymentCoordinator struct {
	API                PaymentAPI
	ReturnBaseURL      string
	DefaultNationality string

	mu      sync.Mutex
	session *domain.PaymentSession
	machine *flow.Machine[domain.PaymentState, string]
}

// NewPaymentCoordinator returns an IDLE coordinator.
func NewPaymentCoordinator(api PaymentAPI, returnBaseURL, defaultNationality string) *PaymentCoordinator {
	return RestorePaymentCoordinator(api, returnBaseURL, defaultNationality, nil)
}

// RestorePaymentCoordinator rebuilds a coordinator from a persisted session.
// A session persisted while INITIATING comes back FAILED so it can be
// initiated again.
func RestorePaymentCoordinator(api PaymentAPI, returnBaseURL, defaultNationality string, s *domain.PaymentSession) *PaymentCoordinator {
	state := domain.PaymentIdle
	if s != nil {
		cp := *s
		s = &cp
		state = s.State
		if state == domain.PaymentInitiating || state == "" {
			state = domain.PaymentFailed
		}
		s.State = state
	}
	return &PaymentCoordinator{
		API:                api,
		ReturnBaseURL:      returnBaseURL,
		DefaultNationality: defaultNationality,
		session:            s,
		machine:            newPaymentMachine(state),
	}
}

// State returns the current state.
func (p *PaymentCoordinator) State() domain.PaymentState { return p.machine.State() }

// Subscribe registers fn for every state change.
func (p *PaymentCoordinator) Subscribe(fn func(flow.Change[domain.PaymentState, string])) func() {
	return p.machine.Subscribe(fn)
}

// Session returns a copy of the payment session, or nil before initiation.
func (p *PaymentCoordinator) Session() *domain.PaymentSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	s := *p.session
	s.State = p.machine.State()
	return &s
}

// Initiate starts a gateway payment for itin. draftState must be CREATED and
// itin non-nil, otherwise the call fails before any network I/O.
func (p *PaymentCoordinator) Initiate(ctx context.Context, draftState domain.DraftState, itin *domain.Itinerary, payer domain.PaymentInfo) (*domain.PaymentSession, error) {
	tr := otel.Tracer("services/PaymentCoordinator")
	ctx, span := tr.Start(ctx, "Initiate",
		trace.WithAttributes(attribute.String("draft.state", string(draftState))),
	)
	defer span.End()

	if draftState != domain.DraftCreated {
		return nil, &domain.StateError{From: string(draftState), Event: "pay"}
	}
	if itin == nil || itin.TransactionID == "" {
		return nil, ErrItineraryRequired
	}
	span.SetAttributes(attribute.String("transaction.id", itin.TransactionID))

	if _, err := p.machine.Fire(evInitiate); err != nil {
		return nil, err
	}

	success, failure := ReturnURLs(p.ReturnBaseURL, itin.TransactionID)
	payload := upstream.PaymentPayload{
		TransactionID: itin.TransactionID,
		TUI:           itin.TUI,
		Amount:        itin.NetAmount,
		Currency:      itin.CurrencyCode,
		Nationality:   NormalizeNationality(payer.Nationality, p.DefaultNationality),
		Method:        payer.Method,
		SuccessURL:    success,
		FailureURL:    failure,
	}
	logger := log.With().Str("transaction_id", itin.TransactionID).Logger()

	redirect, err := p.API.InitiatePayment(ctx, payload)
	if err != nil {
		_, _ = p.machine.Fire(evPayFail)
		observability.PaymentInitiations.WithLabelValues(string(domain.PaymentFailed)).Inc()
		logger.Warn().Err(err).Msg("payment initiation failed")
		return nil, err
	}

	sess := &domain.PaymentSession{
		TransactionID: itin.TransactionID,
		GatewayRef:    redirect.GatewayRef,
		RedirectURL:   redirect.RedirectURL,
		SuccessURL:    success,
		FailureURL:    failure,
	}
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()
	_, _ = p.machine.Fire(evRedirect)
	observability.PaymentInitiations.WithLabelValues(string(domain.PaymentRedirected)).Inc()
	logger.Info().Str("gateway_ref", redirect.GatewayRef).Msg("payment redirect issued")
	return p.Session(), nil
}

// Complete records the gateway verdict carried by the return callback. Only
// a REDIRECTED session can complete; the first verdict wins.
func (p *PaymentCoordinator) Complete(status domain.PaymentStatus) (*domain.PaymentSession, error) {
	switch status {
	case domain.PaymentSuccess, domain.PaymentFailure, domain.PaymentCancelled:
	default:
		return nil, domain.NewValidationError("status")
	}
	if st := p.State(); st != domain.PaymentRedirected {
		return nil, &domain.StateError{From: string(st), Event: "complete"}
	}
	p.mu.Lock()
	if p.session.Status == "" {
		p.session.Status = status
	}
	p.mu.Unlock()
	return p.Session(), nil
}
