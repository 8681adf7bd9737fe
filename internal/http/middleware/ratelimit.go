package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc names the bucket a request draws from.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys buckets by the caller's user id ("user:<id>") from the
// context or X-User-ID, and by client IP ("ip:<addr>") for anonymous callers.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get("userID"); ok {
			if s, ok := v.(string); ok && s != "" {
				return "user:" + s
			}
		}
		if h := strings.TrimSpace(c.GetHeader(HeaderUserID)); h != "" {
			return "user:" + h
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per caller. The router runs
// one instance for all traffic and a stricter one in front of the routes
// that call the supplier synchronously. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lastGC   time.Time
}

// NewRateLimiter returns a limiter refilling rps tokens per second up to
// burst (at least 1) per key.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    max(burst, 1),
		keyFn:    keyFn,
		now:      time.Now,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
	}
}

// limiter returns the bucket for key. Buckets idle for ttl are dropped at
// most once per ttl, before key is looked up.
func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastGC) >= rl.ttl {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// IsRateBypass reports whether IdempotencyValidator marked c as a replay of
// a stored submit outcome.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// retryAfter takes a token for lim at now. It returns 0 when the request may
// proceed and otherwise the whole seconds until a token is available.
func retryAfter(lim *rate.Limiter, now time.Time) int {
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return 1
	}
	d := res.DelayFrom(now)
	if d <= 0 {
		return 0
	}
	res.CancelAt(now)
	return int(math.Ceil(d.Seconds()))
}

// Handler enforces the limit. Replays flagged by IdempotencyValidator pass
// without spending a token. A denied request gets 429 with Retry-After set
// to the wait for the next token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		now := rl.now()
		wait := retryAfter(rl.limiter(rl.keyFn(c), now), now)
		if wait == 0 {
			c.Next()
			return
		}

		SetErrorCode(c, "rate_limited")
		c.Header("Retry-After", strconv.Itoa(wait))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": requestID(c),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
