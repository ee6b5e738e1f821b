package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erauner12/productsync/internal/auth"
	"github.com/erauner12/productsync/internal/config"
	"github.com/erauner12/productsync/internal/db"
	"github.com/erauner12/productsync/internal/httpapi"
	"github.com/erauner12/productsync/internal/livefeed"
	"github.com/erauner12/productsync/internal/service/productservice"
	"github.com/erauner12/productsync/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "productsync-api").Logger()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server configuration")
	}

	// Pretty logging for local dev
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.DevMode {
		log.Warn().Msg("dev mode enabled: X-Debug-Sub and dev: live tokens are accepted")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Record store: Postgres when configured, otherwise in memory
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
		st = store.NewPostgres(pool)
		log.Info().Msg("using postgres product store")
	} else {
		st = store.NewMemory()
		log.Warn().Msg("DATABASE_URL not set, products are kept in memory")
	}

	// Live feed: local hub, fanned out through Redis when several instances run
	hub := livefeed.NewHub()
	defer hub.Close()

	var notifier productservice.Notifier = hub
	if cfg.RedisURL != "" {
		relay, err := livefeed.NewRedisRelay(ctx, cfg.RedisURL, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer relay.Close()
		go relay.Run(ctx)
		notifier = relay
		log.Info().Str("channel", livefeed.RelayChannel).Msg("live events relayed through redis")
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: cfg.JWTSecret,
		Issuer:      cfg.JWTIssuer,
		DevMode:     cfg.DevMode,
	}
	if jwtCfg.HS256Secret == "" {
		jwtCfg.HS256Secret = "dev-secret-change-in-production"
	}

	srv := &httpapi.Server{
		Products: productservice.NewService(st, notifier),
		Live:     &livefeed.Handler{Hub: hub, Authenticate: jwtCfg.Authenticate},
		RateLimitConfig: httpapi.RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   cfg.RateLimitMax,
			Burst:         cfg.RateLimitBurst,
		},
		AllowedOrigins: cfg.AllowedOrigins,

		// Another instance's writes would not move this one's Last-Modified
		ConditionalList: cfg.RedisURL == "",
	}

	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     srv.Routes(jwtCfg),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would cut long-lived live feed connections
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
