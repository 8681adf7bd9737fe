package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/tbourn/go-stay-booking/internal/domain"
)

func newTestPoller(api SearchAPI, cfg PollConfig) (*SearchPoller, *[]time.Duration) {
	var waits []time.Duration
	p := NewSearchPoller(api, cfg)
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return p, &waits
}

func TestInitiate_InvalidCriteria_NoNetworkCall(t *testing.T) {
	api := &fakeUpstream{}
	p, _ := newTestPoller(api, PollConfig{})

	_, err := p.Initiate(context.Background(), domain.Criteria{Destination: "  "})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(ve.Fields) < 3 {
		t.Fatalf("every missing field should be listed, got %v", ve.Fields)
	}
	if api.initCalls != 0 {
		t.Fatalf("InitSearch called %d times", api.initCalls)
	}
}

func TestInitiate_ReturnsPendingSession(t *testing.T) {
	api := &fakeUpstream{searchID: "abc"}
	p, _ := newTestPoller(api, PollConfig{})

	sess, err := p.Initiate(context.Background(), validCriteria())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if sess.SearchID != "abc" || sess.Status != domain.SearchPending || sess.PollAttempts != 0 {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestRun_CompletesAndAdvancesOffset(t *testing.T) {
	api := &fakeUpstream{steps: []pollStep{
		inProgress(hotelN("h", 0, 15)),
		inProgress(hotelN("h", 15, 30)),
		inProgress(hotelN("h", 30, 40)),
		complete(hotelN("h", 40, 45)),
	}}
	p, waits := newTestPoller(api, PollConfig{})

	var batches int
	var statuses []domain.SearchStatus
	final, err := p.Run(context.Background(), domain.SearchSession{SearchID: "s-1"}, "fd", func(s domain.SearchSession, b domain.Batch) {
		batches++
		statuses = append(statuses, s.Status)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Status != domain.SearchComplete || final.PollAttempts != 4 || final.LastOffset != 45 {
		t.Fatalf("final = %+v", final)
	}
	if batches != 4 {
		t.Fatalf("sink calls = %d, want 4", batches)
	}
	if statuses[0] != domain.SearchInProgress || statuses[3] != domain.SearchComplete {
		t.Fatalf("statuses = %v", statuses)
	}
	wantOffsets := []int{0, 15, 30, 40}
	for i, o := range wantOffsets {
		if api.offsets[i] != o {
			t.Fatalf("offsets = %v, want %v", api.offsets, wantOffsets)
		}
	}
	if api.filters[0] != "fd" {
		t.Fatalf("filterdata not forwarded: %v", api.filters)
	}
	for _, w := range *waits {
		if w != 2*time.Second {
			t.Fatalf("poll interval = %v, want 2s", w)
		}
	}
}

func TestRun_NetworkErrorDoesNotConsumePollUnit(t *testing.T) {
	netErr := &domain.NetworkError{Op: "search.content", Err: io.ErrUnexpectedEOF}
	api := &fakeUpstream{steps: []pollStep{
		{err: netErr},
		{err: netErr},
		complete(hotelN("h", 0, 3)),
	}}
	p, waits := newTestPoller(api, PollConfig{MaxPolls: 1})

	final, err := p.Run(context.Background(), domain.SearchSession{SearchID: "s-1"}, "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.PollAttempts != 1 || final.Status != domain.SearchComplete {
		t.Fatalf("final = %+v", final)
	}
	if len(*waits) != 2 || (*waits)[0] != 3*time.Second {
		t.Fatalf("waits = %v, want two 3s retries", *waits)
	}
}

func TestRun_TooManyNetworkErrorsFails(t *testing.T) {
	api := &fakeUpstream{steps: []pollStep{{err: &domain.NetworkError{Op: "x", Err: io.EOF}}}}
	p, _ := newTestPoller(api, PollConfig{MaxNetworkRetries: 2})

	final, err := p.Run(context.Background(), domain.SearchSession{SearchID: "s-1"}, "", nil)
	var ne *domain.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("want NetworkError, got %v", err)
	}
	if final.Status != domain.SearchFailed || api.pollCalls != 3 {
		t.Fatalf("final = %+v polls = %d", final, api.pollCalls)
	}
}

func TestRun_ServerErrorConsumesUnitAndRetries(t *testing.T) {
	api := &fakeUpstream{steps: []pollStep{
		{err: &domain.UpstreamError{Status: http.StatusServiceUnavailable}},
		complete(hotelN("h", 0, 2)),
	}}
	p, waits := newTestPoller(api, PollConfig{})

	final, err := p.Run(context.Background(), domain.SearchSession{SearchID: "s-1"}, "", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.PollAttempts != 2 {
		t.Fatalf("PollAttempts = %d, want 2", final.PollAttempts)
	}
	if (*waits)[0] != 3*time.Second {
		t.Fatalf("retry wait = %v", (*waits)[0])
	}
}

func TestRun_ClientErrorIsTerminal(t *testing.T) {
	api := &fakeUpstream{steps: []pollStep{
		inProgress(hotelN("h", 0, 5)),
		{err: &domain.UpstreamError{Status: http.StatusBadRequest, Message: "bad search"}},
	}}
	p, _ := newTestPoller(api, PollConfig{})

	final, err := p.Run(context.Background(), domain.SearchSession{SearchID: "s-1"}, "", nil)
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Text() != "bad search" {
		t.Fatalf("want UpstreamError(bad search), got %v", err)
	}
	if final.Status != domain.SearchFailed || final.LastOffset != 5 {
		t.Fatalf("final = %+v", final)
	}
}

func TestRun_CeilingSurfacesTimeoutKeepsPartials(t *testing.T) {
	api := &fakeUpstream{steps: []pollStep{inProgress(hotelN("h", 0, 2))}}
	p, _ := newTestPoller(api, PollConfig{MaxPolls: 3})

	merged := 0
	final, err := p.Run(context.Background(), domain.SearchSession{SearchID: "s-1"}, "", func(_ domain.SearchSession, b domain.Batch) {
		merged += len(b.Hotels)
	})
	if !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("want ErrUpstreamTimeout, got %v", err)
	}
	if !final.TimedOut || final.PollAttempts != 3 || merged != 6 {
		t.Fatalf("final = %+v merged = %d", final, merged)
	}
	if final.Status == domain.SearchComplete {
		t.Fatal("timed out search must not be COMPLETE")
	}
}

func TestRun_UpstreamReportsFailedStatus(t *testing.T) {
	api := &fakeUpstream{steps: []pollStep{{batch: domain.Batch{Status: domain.SearchFailed}}}}
	p, _ := newTestPoller(api, PollConfig{})

	final, err := p.Run(context.Background(), domain.SearchSession{SearchID: "s-1"}, "", nil)
	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || final.Status != domain.SearchFailed {
		t.Fatalf("final = %+v err = %v", final, err)
	}
}

func TestRun_ContextCancelStops(t *testing.T) {
	api := &fakeUpstream{steps: []pollStep{inProgress(nil)}}
	p := NewSearchPoller(api, PollConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := p.Run(ctx, domain.SearchSession{SearchID: "s-1"}, "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestPollConfig_NormalizedDefaults(t *testing.T) {
	c := PollConfig{}.normalized()
	if c != DefaultPollConfig() {
		t.Fatalf("normalized zero config = %+v", c)
	}
	c = PollConfig{MaxNetworkRetries: 1, MaxPolls: 7}.normalized()
	if c.MaxNetworkRetries != 1 || c.MaxPolls != 7 || c.PollInterval != 2*time.Second {
		t.Fatalf("explicit values must survive: %+v", c)
	}
}
