// Package config provides application configuration loaded from environment
// variables with defaults and validation. An optional TOML file named by
// CONFIG_FILE supplies values for keys the environment leaves unset. It
// centralizes server timeouts, logging, storage, rate limiting, upstream
// access, search polling, booking windows and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-stay-booking")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// UpstreamConfig points at the aggregator API.
type UpstreamConfig struct {
	BaseURL  string        // UPSTREAM_BASE_URL
	ClientID string        // UPSTREAM_CLIENT_ID
	Timeout  time.Duration // UPSTREAM_TIMEOUT, per request
	RPS      float64       // UPSTREAM_RPS, 0 disables pacing
	Burst    int           // UPSTREAM_BURST
}

// SearchConfig tunes the search poll loop and result windows.
type SearchConfig struct {
	PollInterval      time.Duration // SEARCH_POLL_INTERVAL
	RetryInterval     time.Duration // SEARCH_RETRY_INTERVAL
	MaxPolls          int           // SEARCH_MAX_POLLS
	MaxNetworkRetries int           // SEARCH_MAX_NETWORK_RETRIES
	PageLimit         int           // SEARCH_PAGE_LIMIT
	DisplayLimit      int           // SEARCH_DISPLAY_LIMIT
	Watermark         int           // SEARCH_FEED_WATERMARK
}

// BookingConfig bounds booking sessions.
type BookingConfig struct {
	SessionMax       time.Duration // BOOKING_SESSION_MAX
	RetrieveAttempts int           // BOOKING_RETRIEVE_ATTEMPTS
	SweepInterval    time.Duration // BOOKING_SWEEP_INTERVAL
}

// PaymentConfig configures the gateway handoff.
type PaymentConfig struct {
	ReturnBaseURL      string // PAYMENT_RETURN_BASE_URL
	DefaultNationality string // PAYMENT_DEFAULT_NATIONALITY
}

// RedisConfig selects the Redis key-value backend when Addr is set.
type RedisConfig struct {
	Addr     string // REDIS_ADDR
	Password string // REDIS_PASSWORD
	DB       int    // REDIS_DB
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Per-caller limit on routes that call the supplier synchronously
	// (price checks, submit, payment, retrieval).
	SupplierRPS   float64
	SupplierBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Domain
	Upstream UpstreamConfig
	Search   SearchConfig
	Booking  BookingConfig
	Payment  PaymentConfig
	Redis    RedisConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables (falling back to the
// CONFIG_FILE overlay), applies defaults, normalizes values, and validates
// the result.
func Load() (Config, error) {
	src, err := loadSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              src.getenv("PORT", "8080"),
		ReadTimeout:       src.getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: src.getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      src.getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       src.getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    src.getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(src.getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(src.getenv("LOG_LEVEL", "info")),
		LogPretty:      src.getbool("LOG_PRETTY", false),
		SwaggerEnabled: src.getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(src.getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: src.getenv("DB_PATH", "stay.db"),

		// Rate limiting
		RateRPS:   src.getfloat("RATE_RPS", 5.0),
		RateBurst: src.getint("RATE_BURST", 10),

		SupplierRPS:   src.getfloat("SUPPLIER_RATE_RPS", 0.5),
		SupplierBurst: src.getint("SUPPLIER_RATE_BURST", 4),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(src.getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: src.getbool("ENABLE_HSTS", false),
			HSTSMaxAge: src.getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: src.getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		Upstream: UpstreamConfig{
			BaseURL:  strings.TrimRight(src.getenv("UPSTREAM_BASE_URL", "http://localhost:9000/api"), "/"),
			ClientID: src.getenv("UPSTREAM_CLIENT_ID", ""),
			Timeout:  src.getdur("UPSTREAM_TIMEOUT", 30*time.Second),
			RPS:      src.getfloat("UPSTREAM_RPS", 10),
			Burst:    src.getint("UPSTREAM_BURST", 20),
		},
		Search: SearchConfig{
			PollInterval:      src.getdur("SEARCH_POLL_INTERVAL", 2*time.Second),
			RetryInterval:     src.getdur("SEARCH_RETRY_INTERVAL", 3*time.Second),
			MaxPolls:          src.getint("SEARCH_MAX_POLLS", 60),
			MaxNetworkRetries: src.getint("SEARCH_MAX_NETWORK_RETRIES", 5),
			PageLimit:         src.getint("SEARCH_PAGE_LIMIT", 50),
			DisplayLimit:      src.getint("SEARCH_DISPLAY_LIMIT", 20),
			Watermark:         src.getint("SEARCH_FEED_WATERMARK", 5),
		},
		Booking: BookingConfig{
			SessionMax:       src.getdur("BOOKING_SESSION_MAX", 15*time.Minute),
			RetrieveAttempts: src.getint("BOOKING_RETRIEVE_ATTEMPTS", 3),
			SweepInterval:    src.getdur("BOOKING_SWEEP_INTERVAL", time.Minute),
		},
		Payment: PaymentConfig{
			ReturnBaseURL:      strings.TrimRight(src.getenv("PAYMENT_RETURN_BASE_URL", "http://localhost:8080"), "/"),
			DefaultNationality: strings.ToUpper(strings.TrimSpace(src.getenv("PAYMENT_DEFAULT_NATIONALITY", "AE"))),
		},
		Redis: RedisConfig{
			Addr:     src.getenv("REDIS_ADDR", ""),
			Password: src.getenv("REDIS_PASSWORD", ""),
			DB:       src.getint("REDIS_DB", 0),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     src.getbool("OTEL_ENABLED", false),
			Endpoint:    src.getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    src.getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: src.getenv("OTEL_SERVICE_NAME", "go-stay-booking"),
			SampleRatio: src.getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	return cfg, cfg.validate()
}

func (cfg Config) validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.SupplierRPS < 0 || cfg.SupplierBurst < 1 {
		return errors.New("SUPPLIER_RATE_RPS must be >= 0 and SUPPLIER_RATE_BURST >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if !strings.HasPrefix(cfg.Upstream.BaseURL, "http://") && !strings.HasPrefix(cfg.Upstream.BaseURL, "https://") {
		return errors.New("UPSTREAM_BASE_URL must be an http(s) URL")
	}
	if cfg.Upstream.Timeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be > 0")
	}
	if cfg.Upstream.RPS < 0 || cfg.Upstream.Burst < 1 {
		return errors.New("UPSTREAM_RPS must be >= 0 and UPSTREAM_BURST >= 1")
	}
	if cfg.Search.PollInterval <= 0 || cfg.Search.RetryInterval <= 0 {
		return errors.New("SEARCH_POLL_INTERVAL and SEARCH_RETRY_INTERVAL must be > 0")
	}
	if cfg.Search.MaxPolls < 1 {
		return errors.New("SEARCH_MAX_POLLS must be >= 1")
	}
	if cfg.Search.MaxNetworkRetries < 0 {
		return errors.New("SEARCH_MAX_NETWORK_RETRIES must be >= 0")
	}
	if cfg.Search.PageLimit < 1 || cfg.Search.DisplayLimit < 1 {
		return errors.New("SEARCH_PAGE_LIMIT and SEARCH_DISPLAY_LIMIT must be >= 1")
	}
	if cfg.Search.Watermark < 0 {
		return errors.New("SEARCH_FEED_WATERMARK must be >= 0")
	}
	if cfg.Booking.SessionMax <= 0 {
		return errors.New("BOOKING_SESSION_MAX must be > 0")
	}
	if cfg.Booking.RetrieveAttempts < 1 {
		return errors.New("BOOKING_RETRIEVE_ATTEMPTS must be >= 1")
	}
	if cfg.Booking.SweepInterval <= 0 {
		return errors.New("BOOKING_SWEEP_INTERVAL must be > 0")
	}
	if len(cfg.Payment.DefaultNationality) != 2 {
		return errors.New("PAYMENT_DEFAULT_NATIONALITY must be a two-letter country code")
	}
	if cfg.Redis.DB < 0 {
		return errors.New("REDIS_DB must be >= 0")
	}
	return nil
}

// ---- sources ----

// source resolves a key from the environment first and then from the TOML
// overlay, whose keys are the lower-cased variable names
// (e.g. search_poll_interval = "2s").
type source struct {
	file map[string]any
	meta toml.MetaData
}

func loadSource(path string) (source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return source{}, nil
	}
	var raw map[string]any
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return source{}, fmt.Errorf("load config file: %w", err)
	}
	return source{file: raw, meta: meta}, nil
}

func (s source) lookup(k string) (string, bool) {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v, true
	}
	key := strings.ToLower(k)
	if s.file == nil || !s.meta.IsDefined(key) {
		return "", false
	}
	switch v := s.file[key].(type) {
	case string:
		return v, v != ""
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ","), len(parts) > 0
	default:
		return fmt.Sprint(v), true
	}
}

func (s source) getenv(k, def string) string {
	if v, ok := s.lookup(k); ok {
		return v
	}
	return def
}

func (s source) getfloat(k string, def float64) float64 {
	if v, ok := s.lookup(k); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) getint(k string, def int) int {
	if v, ok := s.lookup(k); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s source) getbool(k string, def bool) bool {
	if v, ok := s.lookup(k); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func (s source) getdur(k string, def time.Duration) time.Duration {
	if v, ok := s.lookup(k); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
