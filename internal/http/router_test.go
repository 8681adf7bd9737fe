package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-stay-booking/internal/config"
	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/http/middleware"
	"github.com/tbourn/go-stay-booking/internal/kvstore"
	"github.com/tbourn/go-stay-booking/internal/repo"
	"github.com/tbourn/go-stay-booking/internal/upstream"
)

// --- aggregator fake; every call fails as unreachable ---
type fakeUpstream struct{}

var errOffline = &domain.NetworkError{Op: "test", Err: errors.New("offline")}

func (fakeUpstream) InitSearch(context.Context, domain.Criteria) (string, error) {
	return "", errOffline
}

func (fakeUpstream) SearchResults(context.Context, string, int, int, string) (domain.Batch, error) {
	return domain.Batch{}, errOffline
}

func (fakeUpstream) SearchRates(context.Context, string) ([]domain.HotelResult, error) {
	return nil, errOffline
}

func (fakeUpstream) Price(context.Context, string, string, string, string) (*domain.Price, error) {
	return nil, errOffline
}

func (fakeUpstream) HotelDetail(context.Context, string, string, string) (*domain.HotelDetail, error) {
	return nil, errOffline
}

func (fakeUpstream) CreateItinerary(context.Context, upstream.ItineraryPayload) (*domain.Itinerary, error) {
	return nil, errOffline
}

func (fakeUpstream) InitiatePayment(context.Context, upstream.PaymentPayload) (*upstream.PaymentRedirect, error) {
	return nil, errOffline
}

func (fakeUpstream) RetrieveBooking(context.Context, domain.ReferenceRequest) (*domain.BookingStatus, error) {
	return nil, errOffline
}

func (fakeUpstream) Voucher(context.Context, string) (*domain.Document, error) {
	return nil, errOffline
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		SupplierRPS:    100,
		SupplierBurst:  10,
		IdempotencyTTL: time.Hour,
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestApp(t *testing.T, cfg config.Config) (*App, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	app := NewApp(cfg, db, fakeUpstream{}, kvstore.NewSQL(db, nil))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app, db
}

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig() // no origins: AllowAllOrigins branch
	app, _ := newTestApp(t, cfg)

	RegisterRoutes(r, app, cfg)

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func Test_corsPolicy(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"any origin", nil, "https://stays.example", "*"},
		{"no origin header", nil, "", "*"},
		{"allowlisted", []string{"https://stays.example"}, "https://stays.example", "https://stays.example"},
		{"not allowlisted", []string{"https://stays.example"}, "https://evil.example", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(corsPolicy(tc.origins)...)
			r.GET("/bookings", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/bookings", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tc.want {
				t.Fatalf("ACAO = %q; want %q", got, tc.want)
			}
			expose := strings.ToLower(w.Header().Get("Access-Control-Expose-Headers"))
			if tc.want != "" && tc.origin != "" && !strings.Contains(expose, "etag") {
				t.Fatalf("ETag not exposed: %q", expose)
			}
		})
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// Smoke test that a request traverses idempotency + ratelimit + otel + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // enabled (but only set on https)
	app, _ := newTestApp(t, cfg)
	RegisterRoutes(r, app, cfg)

	// Any request goes through the middleware stack
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// simulate https so HSTS could be eligible if middleware checks scheme
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func Test_bookingRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	shim := bookingRepoShim{}
	ctx := context.Background()
	now := time.Now().UTC()

	rec := &domain.BookingSessionRecord{
		ID:        "11111111-1111-1111-1111-111111111111",
		UserID:    "u1",
		State:     "CREATED",
		Draft:     `{"searchId":"s1"}`,
		StartedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
	if err := shim.SaveBookingSession(ctx, db, rec); err != nil {
		t.Fatalf("SaveBookingSession: %v", err)
	}

	got, err := shim.GetBookingSession(ctx, db, rec.ID, "u1", now)
	if err != nil {
		t.Fatalf("GetBookingSession: %v", err)
	}
	if got.State != "CREATED" || got.Draft != rec.Draft {
		t.Fatalf("GetBookingSession mismatch: %+v", got)
	}
	if _, err := shim.GetBookingSession(ctx, db, rec.ID, "u2", now); err == nil {
		t.Fatalf("other users must not read the session")
	}

	rec.TransactionID = "tx-1"
	if err := shim.SaveBookingSession(ctx, db, rec); err != nil {
		t.Fatalf("SaveBookingSession: %v", err)
	}
	if got, err := shim.GetBookingSessionByTransaction(ctx, db, "tx-1", now); err != nil || got.ID != rec.ID {
		t.Fatalf("GetBookingSessionByTransaction = %+v, %v", got, err)
	}

	n, err := shim.PurgeExpiredBookingSessions(ctx, db, now)
	if err != nil || n != 0 {
		t.Fatalf("purge before expiry: n=%d err=%v", n, err)
	}
	n, err = shim.PurgeExpiredBookingSessions(ctx, db, now.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge after expiry: n=%d err=%v", n, err)
	}

	if err := shim.SaveBookingSession(ctx, db, rec); err != nil {
		t.Fatalf("SaveBookingSession (again): %v", err)
	}
	if err := shim.DeleteBookingSession(ctx, db, rec.ID, "u1"); err != nil {
		t.Fatalf("DeleteBookingSession: %v", err)
	}
	if _, err := shim.GetBookingSession(ctx, db, rec.ID, "u1", now); err == nil {
		t.Fatalf("session still readable after delete")
	}
}

func Test_idempotencyShim_LookupRecord(t *testing.T) {
	db := newTestDB(t)
	s := idempotencyShim{db: db, ttl: time.Hour}
	ctx := context.Background()

	if _, err := s.Lookup(ctx, "u1", "d1", "k1", time.Now()); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Lookup miss err = %v", err)
	}
	if err := s.Record(ctx, "u1", "d1", "k1", "tx-1", http.StatusOK); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// second record with the same key keeps the first outcome
	if err := s.Record(ctx, "u1", "d1", "k1", "tx-2", http.StatusOK); err != nil {
		t.Fatalf("Record duplicate: %v", err)
	}
	rec, err := s.Lookup(ctx, "u1", "d1", "k1", time.Now())
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rec.TransactionID != "tx-1" || rec.Status != http.StatusOK {
		t.Fatalf("record = %+v", rec)
	}
	if _, err := s.Lookup(ctx, "u1", "d1", "k1", time.Now().Add(2*time.Hour)); err == nil {
		t.Fatalf("expired record must not be found")
	}
}

func TestRegisterRoutes_APIMounted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	app, _ := newTestApp(t, cfg)
	app.Retrieval.Backoff = time.Millisecond
	RegisterRoutes(r, app, cfg)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, "u1")
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodGet, "/api/v1/favorites", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"favorites":[]`) {
		t.Fatalf("GET favorites = %d %s", w.Code, w.Body.String())
	}
	if w = do(http.MethodPut, "/api/v1/favorites/h1", `{"name":"Palm"}`); w.Code != http.StatusOK {
		t.Fatalf("PUT favorite = %d %s", w.Code, w.Body.String())
	}
	if w = do(http.MethodDelete, "/api/v1/favorites/h1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE favorite = %d", w.Code)
	}

	if w = do(http.MethodGet, "/api/v1/searches/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET unknown search = %d", w.Code)
	}
	if w = do(http.MethodGet, "/api/v1/bookings/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("GET unknown booking = %d", w.Code)
	}

	// aggregator is down
	w = do(http.MethodPost, "/api/v1/retrievals", `{"referenceType":"TransactionID","referenceNumber":"tx-1"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("POST retrievals = %d %s", w.Code, w.Body.String())
	}
	var er struct {
		RequestID string `json:"request_id"`
		Code      string `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != "upstream_unreachable" || er.RequestID == "" {
		t.Fatalf("error body = %s (%v)", w.Body.String(), err)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After on unreachable upstream")
	}
}

func TestRegisterRoutes_SupplierLimitAndPrivateCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.SupplierRPS = 0.01
	cfg.SupplierBurst = 1
	app, _ := newTestApp(t, cfg)
	app.Retrieval.Backoff = time.Millisecond
	RegisterRoutes(r, app, cfg)

	retrieve := func(user string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/retrievals",
			strings.NewReader(`{"referenceType":"TransactionID","referenceNumber":"tx-1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.HeaderUserID, user)
		r.ServeHTTP(w, req)
		return w
	}
	if w := retrieve("u1"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("first retrieval = %d", w.Code)
	}
	w := retrieve("u1")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") == "" {
		t.Fatalf("second retrieval = %d retry-after=%q", w.Code, w.Header().Get("Retry-After"))
	}
	if w := retrieve("u2"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("other caller = %d", w.Code)
	}

	// the general budget still covers non-supplier routes
	for i := 0; i < 3; i++ {
		w = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/favorites", nil)
		req.Header.Set(middleware.HeaderUserID, "u1")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("favorites #%d = %d", i, w.Code)
		}
	}
	if got := w.Header().Get("Cache-Control"); got != "private, no-cache" {
		t.Fatalf("favorites Cache-Control = %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := w.Header().Get("Cache-Control"); got != "" {
		t.Fatalf("health Cache-Control = %q", got)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, enabled := range []bool{false, true} {
		r := gin.New()
		cfg := testConfig()
		cfg.SwaggerEnabled = enabled
		app, _ := newTestApp(t, cfg)
		RegisterRoutes(r, app, cfg)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/doc.json", nil))
		if enabled && (w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/bookings/{id}/submit")) {
			t.Fatalf("swagger enabled: %d", w.Code)
		}
		if !enabled && w.Code != http.StatusNotFound {
			t.Fatalf("swagger disabled: %d", w.Code)
		}
	}
}

func TestRegisterRoutes_Gzip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	app, _ := newTestApp(t, cfg)
	RegisterRoutes(r, app, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", w.Header().Get("Content-Encoding"))
	}
}

func TestApp_Sweep(t *testing.T) {
	app, db := newTestApp(t, testConfig())
	ctx := context.Background()

	if _, err := repo.CreateIdempotency(ctx, db, "u1", "d1", "k1", "tx-1", 200, -time.Minute); err != nil {
		t.Fatalf("seed idempotency: %v", err)
	}
	if err := app.KV.Set(ctx, "fav:u1:h1", []byte("{}"), time.Nanosecond); err != nil {
		t.Fatalf("seed kv: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	st, err := app.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if st.Idempotency != 1 || st.KV != 1 || st.Sessions != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRegisterRoutes_IdempotencyCallback_MissAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	app, db := newTestApp(t, cfg)
	RegisterRoutes(r, app, cfg)

	const userID = "u1"
	const key = "key-hit"

	submit := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/d-seed/submit", bytes.NewBufferString("{}"))
		req.Header.Set(middleware.HeaderUserID, userID)
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		return w
	}

	// --- MISS: no record, the submit reaches the service and the draft is unknown ---
	if w := submit(); w.Code != http.StatusNotFound {
		t.Fatalf("miss: expected 404, got %d %s", w.Code, w.Body.String())
	}

	if _, err := repo.CreateIdempotency(context.Background(), db, userID, "d-seed", key, "tx-seed", http.StatusOK, time.Hour); err != nil {
		t.Fatalf("seed idempotency: %v", err)
	}

	// --- HIT: the stored transaction is replayed even though the draft is gone ---
	w := submit()
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "tx-seed") {
		t.Fatalf("hit: expected replay, got %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected Idempotency-Replayed header")
	}
}

func TestRegisterRoutes_IdempotencyCallback_ErrorBranch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := testConfig()
	app, db := newTestApp(t, cfg)

	// Wire routes first...
	RegisterRoutes(r, app, cfg)

	// ...then force queries to fail by closing the underlying connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	// the lookup fails, so the submit runs as a first attempt
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/d1/submit", bytes.NewBufferString("{}"))
	req.Header.Set(middleware.HeaderUserID, "u1")
	req.Header.Set(middleware.HeaderIdempotencyKey, "force-error")
	r.ServeHTTP(w, req)

	if w.Header().Get("Idempotency-Replayed") != "" || w.Code == http.StatusOK || w.Code == http.StatusBadRequest {
		t.Fatalf("unexpected outcome %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(buf.String(), "idempotency lookup failed") {
		t.Fatalf("lookup failure not logged:\n%s", buf.String())
	}
}
