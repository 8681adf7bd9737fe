// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via fail() and failErr() in this package). These codes give
// clients a stable, machine-readable error taxonomy that supplements the
// human-readable message.
//
// Conventions:
//   - Codes are lowercase and snake_case.
//   - Generic codes (bad_request, not_found, conflict) mirror HTTP status
//     semantics.
//   - Domain codes (validation_failed, invalid_state, upstream_*,
//     session_expired) follow the booking error taxonomy so clients can
//     decide between correcting input, retrying, or restarting a flow.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "validation failed: missing or invalid email",
//	  "fields": ["email"]
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeValidation          = "validation_failed"
	ErrCodeInvalidState        = "invalid_state"
	ErrCodeUpstream            = "upstream_error"
	ErrCodeUpstreamTimeout     = "upstream_timeout"
	ErrCodeUpstreamUnreachable = "upstream_unreachable"
	ErrCodeSessionExpired      = "session_expired"
)
