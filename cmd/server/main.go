package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/adapters/did"
	router "github.com/dkeye/Avatar/internal/adapters/http"
	wsfeed "github.com/dkeye/Avatar/internal/adapters/signal"
	"github.com/dkeye/Avatar/internal/app"
	"github.com/dkeye/Avatar/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.SetLogLevel(cfg.LogLevel)
	if err := cfg.ValidateRelay(); err != nil {
		log.Fatal().Err(err).Msg("invalid relay config")
	}
	if cfg.DID.APIKey == "" {
		log.Warn().Msg("did.api_key is empty, upstream calls will be rejected")
	}

	reg := app.NewRegistry()
	feed := wsfeed.NewEventFeed(reg)
	svc := &app.RelayService{
		Upstream: did.New(cfg.DID.BaseURL, cfg.DID.APIKey, cfg.DID.SourceURL, cfg.DID.Timeout),
		Registry: reg,
		Limiter:  app.NewOfferRateLimiter(cfg.OfferRateLimit, cfg.OfferRateInterval),
		Events:   feed,
	}

	r := router.SetupRouter(ctx, cfg, svc, feed)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Avatar relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	svc.CloseAll(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
}
