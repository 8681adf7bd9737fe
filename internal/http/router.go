// Package httpapi wires the HTTP transport (Gin) to the search, booking and
// favorites services, the middleware chain and the route handlers.
//
// Middleware order puts tracing and correlation ids first, then logging and
// recovery, then request shaping (body limit, metrics, idempotency, rate
// limiting) and finally the response posture (CORS, compression, security
// headers).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/go-stay-booking/docs"
	"github.com/tbourn/go-stay-booking/internal/config"
	"github.com/tbourn/go-stay-booking/internal/http/handlers"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/repo"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API of app under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS, gzip and security headers
func RegisterRoutes(r *gin.Engine, app *App, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key", "X-Payment-Token"},
		MaskQuery:   []string{"firstName", "lastName", "cardNumber"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, draftID, key string, now time.Time) (bool, error) {
			_, err := repo.GetIdempotency(ctx, app.DB, userID, draftID, key, now)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				return false, nil
			case err != nil:
				return false, err
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS: everything when no allowlist is configured
	r.Use(corsPolicy(cfg.CORS.AllowedOrigins)...)

	// Compressed responses for clients that ask for them
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Security headers (HSTS only when enabled and request is HTTPS)
	base := strings.TrimSuffix(cfg.APIBasePath, "/")
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
		PrivatePrefixes: []string{
			base + "/bookings",
			base + "/payments",
			base + "/retrievals",
			base + "/vouchers",
			base + "/favorites",
		},
	}))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := app.Handlers()

	// Routes that wait on the supplier get a tighter per-caller budget.
	supplier := middleware.NewRateLimiter(cfg.SupplierRPS, cfg.SupplierBurst, middleware.KeyByUserOrIP()).Handler()

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath) // e.g. "/api/v1"
	{
		// Searches
		api.POST("/searches", h.StartSearch)
		api.GET("/searches/:id", h.GetSearch)
		api.GET("/searches/:id/feed", h.SearchFeed)
		api.POST("/searches/:id/more", h.LoadMore)
		api.POST("/searches/:id/refresh-rates", supplier, h.RefreshRates)
		api.DELETE("/searches/:id", h.CloseSearch)

		// Hotels and prices
		api.GET("/searches/:id/hotels/:hotelId", h.HotelDetail)
		api.GET("/searches/:id/hotels/:hotelId/price/:provider/:rec", supplier, h.ResolvePrice)
		api.POST("/searches/:id/prices", supplier, h.ResolvePrices)

		// Bookings
		api.POST("/bookings", h.CreateBooking)
		api.GET("/bookings", h.ListBookings)
		api.GET("/bookings/:id", h.GetBooking)
		api.DELETE("/bookings/:id", h.AbandonBooking)
		api.PUT("/bookings/:id/guest", h.UpdateGuest)
		api.POST("/bookings/:id/submit", supplier, h.SubmitBooking)
		api.POST("/bookings/:id/revise", supplier, h.ReviseBooking)
		api.POST("/bookings/:id/payment", supplier, h.InitiatePayment)

		// Gateway return
		api.GET("/payments/return/:outcome", h.PaymentReturn)

		// Retrieval
		api.POST("/retrievals", supplier, h.RetrieveBooking)
		api.GET("/vouchers/:transactionId", supplier, h.DownloadVoucher)

		// Favorites
		api.GET("/favorites", h.ListFavorites)
		api.PUT("/favorites/:hotelId", h.AddFavorite)
		api.DELETE("/favorites/:hotelId", h.RemoveFavorite)
	}
}

// corsPolicy returns the CORS middleware pair for origins. The first handler
// writes Access-Control-Allow-Origin on every response, including those
// without a preflight, and the second answers preflights through
// gin-contrib/cors. An empty list allows any origin without credentials.
func corsPolicy(origins []string) []gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "Content-Length", "ETag", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 {
		conf.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Header("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(conf),
		}
	}

	conf.AllowOrigins = origins
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Writer.Header().Add("Vary", "Origin")
			}
			c.Next()
		},
		cors.New(conf),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
