// Package middleware holds the Gin middleware shared by the booking API:
// correlation ids, redacted access logs, panic recovery, idempotency keys,
// rate limiting, Prometheus instrumentation and security headers.
//
// The request-scoped zerolog.Logger is stored under the "logger" context key
// and carries the booking identifiers of the matched route (search_id,
// draft_id, hotel_id, transaction_id), so a handler log line can be joined
// to the access log of the same request.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the bytes of raw query logged per request.
	maxQueryLogLength = 1024
)

// RequestID propagates X-Request-ID when the client sent one and generates a
// UUIDv4 otherwise. The id is echoed on the response and stored in the Gin
// context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// requestID returns the correlation id set by RequestID. Without it the
// response header and then the request header are used.
func requestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	return c.GetHeader(requestIDHeader)
}

// withRoute adds the booking identifiers found in the matched route to zc.
// The ":id" parameter names a search under /searches and a draft under
// /bookings.
func withRoute(zc zerolog.Context, c *gin.Context) zerolog.Context {
	route := c.FullPath()
	if id := c.Param("id"); id != "" {
		switch {
		case strings.Contains(route, "/searches/:id"):
			zc = zc.Str("search_id", id)
		case strings.Contains(route, "/bookings/:id"):
			zc = zc.Str("draft_id", id)
		}
	}
	if v := c.Param("hotelId"); v != "" {
		zc = zc.Str("hotel_id", v)
	}
	if v := c.Param("transactionId"); v != "" {
		zc = zc.Str("transaction_id", v)
	} else if v := c.Query("transactionId"); v != "" {
		zc = zc.Str("transaction_id", v)
	}
	return zc
}

// attachLogger builds the request-scoped logger and stores it on c.
func attachLogger(c *gin.Context) *zerolog.Logger {
	l := withRoute(log.With().
		Str("request_id", requestID(c)).
		Str("user_id", userIDFromCtx(c)), c).
		Logger()
	c.Set(loggerKey, &l)
	return &l
}

// Recovery turns a panic into a JSON 500 with the same envelope the handlers
// use for errors. When the handler already wrote a response only the status
// is forced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			lg := LoggerFrom(c)
			if _, ok := c.Get(loggerKey); !ok {
				lg = attachLogger(c)
			}
			lg.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			rid := requestID(c)
			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			SetErrorCode(c, "internal_error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when no
// access logging middleware ran for c.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// truncate cuts s to max bytes and appends an ellipsis. max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
