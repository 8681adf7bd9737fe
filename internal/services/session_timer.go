package services

import (
	"sync"
	"time"

	"github.com/tbourn/go-stay-booking/internal/clock"
	"github.com/tbourn/go-stay-booking/internal/domain"
)

// SessionTimer bounds the lifetime of a booking draft. Remaining time is
// always derived from the clock's wall time since StartedAt, never from
// elapsed ticks, so a suspended process sees the right deadline on wake-up.
// OnTimeout fires at most once per Start/Reset/Resume and runs on the
// clock's callback goroutine without the timer's lock held.
type SessionTimer struct {
	Clock     clock.Clock
	OnTimeout func()

	mu        sync.Mutex
	startedAt time.Time
	max       time.Duration
	pending   clock.Timer
	gen       uint64
	running   bool
	fired     bool
}

// NewSessionTimer returns a stopped timer.
func NewSessionTimer(c clock.Clock, onTimeout func()) *SessionTimer {
	if c == nil {
		c = clock.Real{}
	}
	return &SessionTimer{Clock: c, OnTimeout: onTimeout}
}

// Start begins a window of max from now. The start carries no monotonic
// reading so the window is measured in wall time.
func (t *SessionTimer) Start(max time.Duration) {
	t.Resume(t.Clock.Now().UTC(), max)
}

// Resume begins a window of max measured from startedAt, which may lie in
// the past.
func (t *SessionTimer) Resume(startedAt time.Time, max time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.startedAt, t.max = startedAt, max
	t.running, t.fired = true, false
	t.armLocked(t.remainingLocked())
}

// Reset restarts the window from now and clears any pending fire.
func (t *SessionTimer) Reset() {
	t.mu.Lock()
	max := t.max
	t.mu.Unlock()
	t.Start(max)
}

// Cancel stops the timer; OnTimeout will not fire for the current window.
func (t *SessionTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	t.running = false
}

// Remaining returns the time left, zero once expired or when never started.
func (t *SessionTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return 0
	}
	return t.remainingLocked()
}

// Expired reports whether the window has elapsed.
func (t *SessionTimer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiredLocked()
}

// State returns a snapshot.
func (t *SessionTimer) State() domain.TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := domain.TimerState{StartedAt: t.startedAt, MaxDuration: t.max, Expired: t.expiredLocked()}
	if t.running {
		st.Remaining = t.remainingLocked()
	}
	return st
}

func (t *SessionTimer) expiredLocked() bool {
	return t.fired || (t.running && t.remainingLocked() == 0)
}

func (t *SessionTimer) remainingLocked() time.Duration {
	return max(t.max-t.Clock.Now().Sub(t.startedAt), 0)
}

func (t *SessionTimer) stopLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
	t.gen++
}

func (t *SessionTimer) armLocked(d time.Duration) {
	gen := t.gen
	t.pending = t.Clock.AfterFunc(d, func() { t.fire(gen) })
}

func (t *SessionTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running || t.fired {
		t.mu.Unlock()
		return
	}
	if rem := t.remainingLocked(); rem > 0 {
		t.armLocked(rem)
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.pending = nil
	cb := t.OnTimeout
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}
