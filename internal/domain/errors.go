// Package domain defines the core data model shared by the search, booking
// and payment layers. This file holds the error taxonomy every coordinator
// returns, so handlers and callers can branch with errors.Is / errors.As
// regardless of which component produced the failure.
package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUpstreamTimeout reports that a search exceeded its poll ceiling. Results
// merged before the ceiling was hit remain readable.
var ErrUpstreamTimeout = errors.New("upstream search timed out")

// ValidationError reports missing or malformed local input. No network call
// is issued when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return "validation failed: missing or invalid " + strings.Join(e.Fields, ", ")
}

// NewValidationError returns nil when fields is empty.
func NewValidationError(fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// StateError reports an illegal transition, e.g. a second submit of the same
// booking draft.
type StateError struct {
	From  string
	Event string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal transition: %q not allowed in state %q", e.Event, e.From)
}

// UpstreamError is a 4xx/5xx answer from the aggregator, a supplier or the
// payment gateway.
type UpstreamError struct {
	Op      string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Text())
}

// Text returns the upstream message verbatim when one was supplied, otherwise
// a fallback keyed by the status class.
func (e *UpstreamError) Text() string {
	if m := strings.TrimSpace(e.Message); m != "" {
		return m
	}
	return StatusFallback(e.Status)
}

// Temporary reports whether the status class suggests a retry may succeed.
func (e *UpstreamError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

// StatusFallback maps an HTTP status to the generic user-facing message used
// when the upstream did not supply one.
func StatusFallback(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not found"
	case status >= 500:
		return "server error"
	case status >= 400:
		return "invalid request"
	default:
		return "unexpected response"
	}
}

// NetworkError means no response was received at all (dial failure, reset,
// client timeout). It is distinct from UpstreamError.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying without changing input:
// network failures, upstream timeouts and 5xx answers.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Temporary()
	}
	return errors.Is(err, ErrUpstreamTimeout)
}
