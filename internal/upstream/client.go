// Package upstream is the HTTP client for the hotel aggregator API.
//
// Every endpoint answers with the envelope {success, data | error | message}.
// The client unwraps it and converts failures into the domain taxonomy:
//
//   - no response at all (dial, reset, client timeout) → *domain.NetworkError
//   - HTTP status >= 400, or success=false             → *domain.UpstreamError
//
// Calls are paced by a token bucket, traced with OpenTelemetry and timed into
// the stay_upstream_request_duration_seconds histogram.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/observability"
)

// Operation names used for errors, spans and metrics.
const (
	OpSearchInit      = "search.init"
	OpSearchContent   = "search.content"
	OpSearchRates     = "search.rates"
	OpHotelDetail     = "details.content"
	OpPrice           = "details.price"
	OpItineraryCreate = "itinerary.create"
	OpPaymentInitiate = "payment.initiate"
	OpBookingRetrieve = "booking.retrieve"
	OpVoucher         = "booking.voucher"
)

const maxBodyBytes = 16 << 20

// Client talks to the aggregator. The zero value is not usable; use New.
type Client struct {
	baseURL  *url.URL
	clientID string
	http     *http.Client
	limiter  *rate.Limiter
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit paces outgoing calls. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClientID sets the ClientID stamped on retrieval requests.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

// New returns a client rooted at baseURL (e.g. https://api.example.com/v1/).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream: invalid base URL %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ClientID returns the configured client identifier.
func (c *Client) ClientID() string { return c.clientID }

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func (e envelope) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

type call struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

// do performs the call and returns the raw response body and headers of a
// successful answer.
func (c *Client) do(ctx context.Context, k call) ([]byte, http.Header, error) {
	ctx, span := otel.Tracer("upstream").Start(ctx, k.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", k.method),
			attribute.String("upstream.path", k.path),
		),
	)
	defer span.End()
	started := time.Now()

	body, hdr, err := c.roundTrip(ctx, k)
	outcome := "ok"
	if err != nil {
		var ne *domain.NetworkError
		if errors.As(err, &ne) {
			outcome = "network_error"
		} else {
			outcome = "upstream_error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	observability.ObserveUpstream(k.op, outcome, started)
	return body, hdr, err
}

func (c *Client) roundTrip(ctx context.Context, k call) ([]byte, http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, &domain.NetworkError{Op: k.op, Err: err}
		}
	}

	// k.path holds escaped segments; the "./" prefix keeps a colon in the
	// first segment from parsing as a scheme.
	ref, err := url.Parse("./" + k.path)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: build request: %w", k.op, err)
	}
	if len(k.query) > 0 {
		ref.RawQuery = k.query.Encode()
	}
	target := c.baseURL.ResolveReference(ref)

	var rdr io.Reader
	if k.body != nil {
		b, err := json.Marshal(k.body)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: encode request: %w", k.op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, k.method, target.String(), rdr)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: build request: %w", k.op, err)
	}
	req.Header.Set("Accept", "application/json, */*")
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &domain.NetworkError{Op: k.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, &domain.NetworkError{Op: k.op, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var env envelope
		_ = json.Unmarshal(raw, &env)
		return nil, nil, &domain.UpstreamError{Op: k.op, Status: resp.StatusCode, Message: env.text()}
	}
	return raw, resp.Header, nil
}

// callJSON performs k and decodes the envelope's data into out.
func (c *Client) callJSON(ctx context.Context, k call, out any) error {
	raw, _, err := c.do(ctx, k)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &domain.UpstreamError{Op: k.op, Status: http.StatusBadGateway, Message: "malformed response"}
	}
	if env.Success != nil && !*env.Success {
		// A 2xx carrying success=false is a rejection of the request itself.
		return &domain.UpstreamError{Op: k.op, Status: http.StatusBadRequest, Message: env.text()}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &domain.UpstreamError{Op: k.op, Status: http.StatusBadGateway, Message: "malformed response"}
	}
	return nil
}
