package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-stay-booking/internal/clock"
	"github.com/tbourn/go-stay-booking/internal/domain"
)

// RetrievalService reads bookings after the gateway handoff. Retrieval has
// no side effects, so network failures are retried with a linear backoff.
type RetrievalService struct {
	API RetrievalAPI
	// Attempts is the total number of tries; <= 0 means 3.
	Attempts int
	// Backoff is multiplied by the attempt number between tries.
	Backoff time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetrievalService returns a service with attempts tries.
func NewRetrievalService(api RetrievalAPI, attempts int) *RetrievalService {
	return &RetrievalService{API: api, Attempts: attempts, Backoff: 500 * time.Millisecond}
}

func (s *RetrievalService) wait(ctx context.Context, d time.Duration) error {
	if s.Sleep != nil {
		return s.Sleep(ctx, d)
	}
	return clock.Sleep(ctx, clock.Real{}, d)
}

// Retrieve looks up a booking by reference. Only NetworkError is retried;
// an upstream answer, even a 5xx, is returned as is.
func (s *RetrievalService) Retrieve(ctx context.Context, req domain.ReferenceRequest) (*domain.BookingStatus, error) {
	tr := otel.Tracer("services/RetrievalService")
	ctx, span := tr.Start(ctx, "Retrieve",
		trace.WithAttributes(
			attribute.String("reference.type", req.ReferenceType),
			attribute.String("reference.number", req.ReferenceNumber),
		),
	)
	defer span.End()

	req.ReferenceType = strings.TrimSpace(req.ReferenceType)
	req.ReferenceNumber = strings.TrimSpace(req.ReferenceNumber)
	var missing []string
	if req.ReferenceNumber == "" {
		missing = append(missing, "referenceNumber")
	}
	if req.ReferenceType == "" {
		missing = append(missing, "referenceType")
	}
	if err := domain.NewValidationError(missing...); err != nil {
		return nil, err
	}

	attempts := s.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		st, err := s.API.RetrieveBooking(ctx, req)
		if err == nil {
			span.SetAttributes(attribute.Int("retrieve.attempts", i))
			return st, nil
		}
		lastErr = err
		var ne *domain.NetworkError
		if !errors.As(err, &ne) || i == attempts {
			break
		}
		log.Debug().Err(err).Int("attempt", i).Str("reference", req.ReferenceNumber).Msg("booking retrieve retry")
		if werr := s.wait(ctx, time.Duration(i)*s.Backoff); werr != nil {
			return nil, werr
		}
	}
	return nil, lastErr
}

// Voucher downloads the booking voucher.
func (s *RetrievalService) Voucher(ctx context.Context, transactionID string) (*domain.Document, error) {
	tr := otel.Tracer("services/RetrievalService")
	ctx, span := tr.Start(ctx, "Voucher",
		trace.WithAttributes(attribute.String("transaction.id", transactionID)),
	)
	defer span.End()

	if strings.TrimSpace(transactionID) == "" {
		return nil, domain.NewValidationError("transactionId")
	}
	return s.API.Voucher(ctx, transactionID)
}
