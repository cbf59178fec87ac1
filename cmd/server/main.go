package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bianutri/backend/internal/config"
	"github.com/bianutri/backend/internal/logging"
	"github.com/bianutri/backend/internal/repository"
	"github.com/bianutri/backend/internal/server"
	"github.com/bianutri/backend/internal/service"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if present (for local development)
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "trial-api",
	})

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
	logger.Info().Msg("Server exited")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer store.Close()
	log.Info().Msg("Database connected & migrated")

	authSvc := service.NewAuthService(cfg.JWTSecret)
	trialSvc := service.NewTrialService(store, cfg.Trial, log.Logger)

	var subscriptions repository.SubscriptionReader = store
	var cache *repository.SubscriptionCache
	if cfg.RedisURL != "" {
		client, err := repository.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		cache = repository.NewSubscriptionCache(store, client, cfg.SubscriptionCacheTTL, log.Logger)
		subscriptions = cache
		log.Info().Dur("ttl", cfg.SubscriptionCacheTTL).Msg("Subscription cache enabled")
	}

	services := server.NewServices(store, subscriptions, authSvc, trialSvc, log.Logger)
	defer services.Close()
	if cache != nil {
		services.Cache = cache
	}
	router := server.NewRouter(services, server.DefaultOptions(cfg.CORSOrigins), log.Logger)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", addr).
			Int("trial_limit_seconds", cfg.Trial.LimitSeconds).
			Msg("Trial API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
