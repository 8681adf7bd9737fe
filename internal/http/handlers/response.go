// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the standard response utilities used across all endpoints:
// the structured error envelope, the translation of service errors into HTTP
// statuses, and helpers for common success shapes.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `failErr()` is the single place where the domain error taxonomy is
//     mapped onto HTTP; handlers never pick statuses for service errors.
//   - 5xx responses are logged with the request-scoped logger.
//
// Example error response:
//
//	HTTP/1.1 502 Bad Gateway
//	Retry-After: 3
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "upstream_error",
//	  "message": "server error"
//	}
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/services"
)

// retryAfterSeconds is advertised on retryable upstream failures.
const retryAfterSeconds = "3"

// ErrorResponse is the standard error envelope returned by all endpoints.
//
// Fields:
//   - RequestID: correlation ID echoed from the X-Request-ID header.
//   - Code: a stable, machine-readable string (see errors.go constants).
//   - Message: a human-readable description, safe for display to users.
//     Upstream messages are passed through verbatim.
//   - Fields: the offending input fields of a validation failure.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
	// Missing or invalid input fields
	Fields []string `json:"fields,omitempty" example:"email,phone"`
}

// fail aborts the request with a structured error and logs server-side errors.
func fail(c *gin.Context, status int, code, msg string) {
	abort(c, status, ErrorResponse{Code: code, Message: msg})
}

// Fail is the exported variant of fail().
//
// External packages (e.g., router setup) should call Fail to return
// consistent error envelopes without directly depending on unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func abort(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")
	middleware.SetErrorCode(c, resp.Code)

	// Log 5xx (server-side) with request-scoped logger
	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", resp.Code).
			Str("detail", resp.Message).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// classify maps a service error onto an HTTP status and error envelope. The
// boolean reports whether the failure is worth retrying unchanged.
func classify(err error) (int, ErrorResponse, bool) {
	var (
		ve *domain.ValidationError
		se *domain.StateError
		ue *domain.UpstreamError
		ne *domain.NetworkError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ErrorResponse{Code: ErrCodeValidation, Message: ve.Error(), Fields: ve.Fields}, false
	case errors.As(err, &se):
		return http.StatusConflict, ErrorResponse{Code: ErrCodeInvalidState, Message: se.Error()}, false
	case errors.Is(err, services.ErrItineraryRequired):
		return http.StatusConflict, ErrorResponse{Code: ErrCodeInvalidState, Message: err.Error()}, false
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Code: ErrCodeUpstreamTimeout, Message: "upstream timed out"}, true
	case errors.As(err, &ue):
		return http.StatusBadGateway, ErrorResponse{Code: ErrCodeUpstream, Message: ue.Text()}, ue.Temporary()
	case errors.As(err, &ne):
		return http.StatusServiceUnavailable, ErrorResponse{Code: ErrCodeUpstreamUnreachable, Message: "upstream unreachable"}, true
	case errors.Is(err, services.ErrDraftExpired):
		return http.StatusGone, ErrorResponse{Code: ErrCodeSessionExpired, Message: err.Error()}, false
	case errors.Is(err, services.ErrSearchNotFound),
		errors.Is(err, services.ErrDraftNotFound),
		errors.Is(err, services.ErrOfferNotFound),
		errors.Is(err, services.ErrFavoriteNotFound):
		return http.StatusNotFound, ErrorResponse{Code: ErrCodeNotFound, Message: err.Error()}, false
	case errors.Is(err, services.ErrSessionClosed):
		return http.StatusConflict, ErrorResponse{Code: ErrCodeConflict, Message: err.Error()}, false
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: ErrCodeInternal, Message: err.Error()}, false
	}
}

// failErr aborts the request with the status and envelope for err.
func failErr(c *gin.Context, err error) {
	status, resp, retry := classify(err)
	if retry {
		c.Header("Retry-After", retryAfterSeconds)
	}
	abort(c, status, resp)
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
