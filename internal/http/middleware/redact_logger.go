package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RedactOptions extends the built-in scrub lists of RedactingLogger.
//
// MaskHeaders names request headers whose values are replaced with
// "[REDACTED]" on top of Authorization, Cookie and Set-Cookie.
// MaskQuery names query parameters whose values are replaced outright on top
// of email, phone and token. Both lists match case-insensitively.
type RedactOptions struct {
	MaskHeaders []string
	MaskQuery   []string
}

var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// 13 to 19 digits, optionally grouped by spaces or dashes.
	panRE   = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// redactor scrubs guest and payment data out of request metadata.
type redactor struct {
	headers map[string]struct{}
	query   map[string]struct{}
}

func newRedactor(opts RedactOptions) *redactor {
	return &redactor{
		headers: lowerSet([]string{"Authorization", "Cookie", "Set-Cookie"}, opts.MaskHeaders),
		query:   lowerSet([]string{"email", "phone", "token"}, opts.MaskQuery),
	}
}

func lowerSet(lists ...[]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, l := range lists {
		for _, s := range l {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

// text replaces ids, emails, card numbers and phone numbers in s. Ids go
// first and card numbers before phones, since the phone pattern would
// otherwise eat their digit groups.
func (r *redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = panRE.ReplaceAllString(s, "[REDACTED:pan]")
	s = phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// rawQuery masks the configured parameters and scrubs the remaining values.
// Parameter order is kept.
func (r *redactor) rawQuery(q string) string {
	if q == "" {
		return q
	}
	parts := strings.Split(q, "&")
	for i, p := range parts {
		k, v, found := strings.Cut(p, "=")
		if !found {
			continue
		}
		name, err := url.QueryUnescape(k)
		if err != nil {
			name = k
		}
		if _, ok := r.query[strings.ToLower(name)]; ok {
			parts[i] = k + "=[REDACTED]"
			continue
		}
		if uv, err := url.QueryUnescape(v); err == nil {
			v = uv
		}
		parts[i] = k + "=" + r.text(v)
	}
	return truncate(strings.Join(parts, "&"), maxQueryLogLength)
}

func (r *redactor) header(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if _, ok := r.headers[strings.ToLower(k)]; ok {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = r.text(strings.Join(vv, ", "))
	}
	return out
}

// RedactingLogger attaches the request-scoped logger and writes one access
// log line per request with query strings and headers scrubbed. Bodies are
// never logged. The level is error for 5xx or when handlers recorded gin
// errors, warn for 4xx and info otherwise.
//
// Install it after RequestID and before Recovery.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	rd := newRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()
		lg := attachLogger(c)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		query := rd.rawQuery(c.Request.URL.RawQuery)
		headers := rd.header(c.Request.Header)

		c.Next()

		status := c.Writer.Status()
		level := zerolog.InfoLevel
		switch {
		case status >= 500 || len(c.Errors) > 0:
			level = zerolog.ErrorLevel
		case status >= 400:
			level = zerolog.WarnLevel
		}
		ev := lg.WithLevel(level)
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", route).
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
