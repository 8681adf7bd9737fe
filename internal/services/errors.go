// Package services holds the coordinators of hotel search and booking: the
// search poller and session manager, price resolution, the booking and
// payment state machines, retrieval and the booking session timer.
//
// This file centralizes service-level sentinel errors. The typed taxonomy
// (validation, state, upstream, network, timeout) lives in internal/domain;
// translation into HTTP status codes is done by the handler layer.
package services

import "errors"

var (
	// ErrSearchNotFound indicates that no live search session has the given id.
	ErrSearchNotFound = errors.New("search not found")

	// ErrDraftNotFound indicates that the booking draft does not exist, has
	// been discarded, or belongs to another user.
	ErrDraftNotFound = errors.New("booking draft not found")

	// ErrDraftExpired is returned for any operation on a draft whose session
	// timer has run out.
	ErrDraftExpired = errors.New("booking session expired")

	// ErrItineraryRequired is returned when payment is requested before an
	// itinerary was created.
	ErrItineraryRequired = errors.New("itinerary required before payment")

	// ErrOfferNotFound indicates that the referenced hotel offer is not part
	// of the search's results.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrSessionClosed is returned when a search or booking session was torn
	// down while the call was in progress.
	ErrSessionClosed = errors.New("session closed")
)
