// Command server runs the conversational backend: an HTTP API over a MongoDB
// message store, two in-process result caches, and an OpenAI-compatible
// generation backend.
//
// Startup order: env → config → logging → document store → routes → listener.
// Shutdown drains in-flight requests, flushes traces, and disconnects the
// store.
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

	"github.com/tbourn/go-law-agent/internal/ai"
	"github.com/tbourn/go-law-agent/internal/config"
	httpapi "github.com/tbourn/go-law-agent/internal/http"
	"github.com/tbourn/go-law-agent/internal/observability"
	"github.com/tbourn/go-law-agent/internal/repo"
	"github.com/tbourn/go-law-agent/internal/sysutil"
)

// version is stamped into traces; override with -ldflags "-X main.version=…".
var version = "1.0.0"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless OTEL_ENABLED).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Document store.
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := repo.OpenMongo(connectCtx, cfg.Mongo.URI)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("uri", cfg.Mongo.URI).Msg("mongodb connection failed")
	}
	db := client.Database(cfg.Mongo.DBName)
	if err := repo.EnsureIndexes(ctx, db); err != nil {
		log.Warn().Err(err).Msg("index creation failed, continuing")
	}
	store := repo.NewMessageRepo(db)

	// Generation backend.
	gen := ai.NewClient(ai.Config{
		BaseURL:      cfg.AI.BaseURL,
		APIKey:       cfg.AI.APIKey,
		Model:        cfg.AI.Model,
		SystemPrompt: cfg.AI.SystemPrompt,
		Timeout:      cfg.AI.Timeout,
	})

	r := gin.New()
	httpapi.RegisterRoutes(r, store, gen, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("db", cfg.Mongo.DBName).
			Str("model", cfg.AI.Model).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	if err := client.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("mongodb disconnect failed")
	}
	log.Info().Msg("server stopped")
}
