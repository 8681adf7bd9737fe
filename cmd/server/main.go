// Command server runs the hotel search and booking API.
//
// @title        go-stay-booking API
// @version      1.0
// @description  Hotel search, pricing, booking and payment handoff over an upstream aggregator.
// @BasePath     /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-stay-booking/internal/config"
	httpapi "github.com/tbourn/go-stay-booking/internal/http"
	"github.com/tbourn/go-stay-booking/internal/kvstore"
	"github.com/tbourn/go-stay-booking/internal/observability"
	"github.com/tbourn/go-stay-booking/internal/repo"
	"github.com/tbourn/go-stay-booking/internal/sysutil"
	"github.com/tbourn/go-stay-booking/internal/upstream"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	lvl := sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)
	log.Debug().Str("level", lvl.String()).Str("gin_mode", cfg.GinMode).Msg("logging configured")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}

	api, err := upstream.New(cfg.Upstream.BaseURL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithRateLimit(cfg.Upstream.RPS, cfg.Upstream.Burst),
		upstream.WithClientID(cfg.Upstream.ClientID),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("upstream client")
	}

	var kv kvstore.Backend = kvstore.NewSQL(db, nil)
	if cfg.Redis.Addr != "" {
		rdb, err := kvstore.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable")
		}
		defer rdb.Close()
		kv = rdb
		log.Info().Str("addr", cfg.Redis.Addr).Msg("favorites stored in redis")
	}

	app := httpapi.NewApp(cfg, db, api, kv)

	r := gin.New()
	httpapi.RegisterRoutes(r, app, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go janitor(ctx, app, cfg.Booking.SweepInterval)

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("service shutdown")
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("server stopped")
}

// janitor sweeps expired sessions, idempotency records and kv rows until ctx
// is done.
func janitor(ctx context.Context, app *httpapi.App, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st, err := app.Sweep(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("sweep failed")
				continue
			}
			if st.Sessions+int(st.Idempotency+st.KV) > 0 {
				log.Debug().Int("sessions", st.Sessions).Int64("idempotency", st.Idempotency).Int64("kv", st.KV).Msg("sweep")
			}
		}
	}
}
