// Package services – SearchPoller
//
// SearchPoller starts upstream search jobs and drives their result polling.
// One poll is in flight per search at any time, so batches reach the sink in
// issuance order. The loop distinguishes three failure kinds:
//
//   - NetworkError: wait RetryInterval; does not consume a poll unit. After
//     MaxNetworkRetries consecutive failures the search is FAILED.
//   - UpstreamError 5xx: consumes a poll unit, wait RetryInterval.
//   - UpstreamError 4xx: terminal, the search is FAILED.
//
// Reaching MaxPolls without COMPLETE returns domain.ErrUpstreamTimeout; the
// batches already delivered to the sink stay valid.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-stay-booking/internal/clock"
	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/observability"
	"github.com/tbourn/go-stay-booking/internal/upstream"
)

// PollConfig tunes the polling loop.
type PollConfig struct {
	PollInterval      time.Duration
	RetryInterval     time.Duration
	MaxPolls          int
	MaxNetworkRetries int
	PageLimit         int
}

// DefaultPollConfig returns the production polling parameters.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		PollInterval:      2 * time.Second,
		RetryInterval:     3 * time.Second,
		MaxPolls:          60,
		MaxNetworkRetries: 5,
		PageLimit:         50,
	}
}

func (c PollConfig) normalized() PollConfig {
	d := DefaultPollConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = d.MaxPolls
	}
	if c.MaxNetworkRetries <= 0 {
		c.MaxNetworkRetries = d.MaxNetworkRetries
	}
	if c.PageLimit <= 0 {
		c.PageLimit = d.PageLimit
	}
	return c
}

// BatchSink receives each successful batch together with the session as it
// stands after the poll.
type BatchSink func(sess domain.SearchSession, batch domain.Batch)

// SearchPoller is stateless between calls; per-search state travels in the
// domain.SearchSession value passed to Run.
type SearchPoller struct {
	API    SearchAPI
	Config PollConfig
	Clock  clock.Clock

	// Sleep waits between polls. Nil uses clock.Sleep on Clock.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewSearchPoller returns a poller over api with cfg (zero fields default).
func NewSearchPoller(api SearchAPI, cfg PollConfig) *SearchPoller {
	return &SearchPoller{API: api, Config: cfg.normalized(), Clock: clock.Real{}}
}

func (p *SearchPoller) clock() clock.Clock {
	if p.Clock == nil {
		return clock.Real{}
	}
	return p.Clock
}

func (p *SearchPoller) wait(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return clock.Sleep(ctx, p.clock(), d)
}

// Initiate validates criteria locally and starts an upstream search job.
func (p *SearchPoller) Initiate(ctx context.Context, cr domain.Criteria) (domain.SearchSession, error) {
	tr := otel.Tracer("services/SearchPoller")
	ctx, span := tr.Start(ctx, "Initiate",
		trace.WithAttributes(attribute.String("search.destination", cr.Destination)),
	)
	defer span.End()

	cr.Destination = strings.TrimSpace(cr.Destination)
	if err := cr.Validate(); err != nil {
		return domain.SearchSession{}, err
	}
	id, err := p.API.InitSearch(ctx, cr)
	if err != nil {
		return domain.SearchSession{}, err
	}
	span.SetAttributes(attribute.String("search.id", id))
	return domain.SearchSession{
		SearchID:  id,
		Criteria:  cr,
		Status:    domain.SearchPending,
		StartedAt: p.clock().Now().UTC(),
	}, nil
}

// Poll fetches the batch starting at offset.
func (p *SearchPoller) Poll(ctx context.Context, searchID string, offset int, filterData string) (domain.Batch, error) {
	tr := otel.Tracer("services/SearchPoller")
	ctx, span := tr.Start(ctx, "Poll",
		trace.WithAttributes(
			attribute.String("search.id", searchID),
			attribute.Int("search.offset", offset),
		),
	)
	defer span.End()
	return p.API.SearchResults(ctx, searchID, offset, p.Config.normalized().PageLimit, filterData)
}

// Run polls until the search completes, fails, exceeds MaxPolls or ctx ends.
// It returns the final session; sink is called synchronously after every
// successful poll.
func (p *SearchPoller) Run(ctx context.Context, sess domain.SearchSession, filterData string, sink BatchSink) (domain.SearchSession, error) {
	cfg := p.Config.normalized()
	logger := log.With().Str("search_id", sess.SearchID).Logger()
	netFails := 0

	for {
		batch, err := p.Poll(ctx, sess.SearchID, sess.LastOffset, filterData)
		if ctx.Err() != nil {
			return sess, ctx.Err()
		}

		var (
			ne    *domain.NetworkError
			ue    *domain.UpstreamError
			pause = cfg.PollInterval
		)
		switch {
		case err == nil:
			netFails = 0
			sess.PollAttempts++
			sess.LastOffset += len(batch.Hotels)
			sess.Status = batch.Status
			if sess.Status == "" || sess.Status == domain.SearchPending {
				sess.Status = domain.SearchInProgress
			}
			if sink != nil {
				sink(sess, batch)
			}
			switch sess.Status {
			case domain.SearchComplete:
				observability.SearchPolls.WithLabelValues("complete").Inc()
				logger.Debug().Int("polls", sess.PollAttempts).Int("offset", sess.LastOffset).Msg("search complete")
				return sess, nil
			case domain.SearchFailed:
				observability.SearchPolls.WithLabelValues("upstream_error").Inc()
				sess.Error = "search failed upstream"
				return sess, &domain.UpstreamError{Op: upstream.OpSearchContent, Status: http.StatusBadGateway, Message: sess.Error}
			}
			observability.SearchPolls.WithLabelValues("batch").Inc()

		case errors.As(err, &ne):
			observability.SearchPolls.WithLabelValues("network_error").Inc()
			netFails++
			if netFails > cfg.MaxNetworkRetries {
				sess.Status = domain.SearchFailed
				sess.Error = err.Error()
				logger.Warn().Err(err).Int("attempts", netFails).Msg("search unreachable")
				return sess, err
			}
			pause = cfg.RetryInterval

		case errors.As(err, &ue) && ue.Status >= http.StatusInternalServerError:
			observability.SearchPolls.WithLabelValues("upstream_error").Inc()
			netFails = 0
			sess.PollAttempts++
			pause = cfg.RetryInterval

		default:
			observability.SearchPolls.WithLabelValues("upstream_error").Inc()
			sess.Status = domain.SearchFailed
			sess.Error = err.Error()
			logger.Warn().Err(err).Msg("search rejected")
			return sess, err
		}

		if sess.PollAttempts >= cfg.MaxPolls {
			sess.TimedOut = true
			observability.SearchPolls.WithLabelValues("timeout").Inc()
			logger.Warn().Int("polls", sess.PollAttempts).Msg("search poll ceiling reached")
			return sess, fmt.Errorf("%w after %d polls", domain.ErrUpstreamTimeout, sess.PollAttempts)
		}
		if err := p.wait(ctx, pause); err != nil {
			return sess, err
		}
	}
}

// RefreshRates fetches the rate-only refresh of a search.
func (p *SearchPoller) RefreshRates(ctx context.Context, searchID string) ([]domain.HotelResult, error) {
	tr := otel.Tracer("services/SearchPoller")
	ctx, span := tr.Start(ctx, "RefreshRates",
		trace.WithAttributes(attribute.String("search.id", searchID)),
	)
	defer span.End()
	return p.API.SearchRates(ctx, searchID)
}
