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

	"github.com/Sternrassler/lms-dashboard-aggregator/internal/config"
	"github.com/Sternrassler/lms-dashboard-aggregator/internal/handler"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/aggregate"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/client"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/lms"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/logging"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/metrics"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/pagination"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging())

	server, cleanup, err := newServer(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer cleanup()

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("lms", cfg.LMS.BaseURL).
			Bool("quota_tracking", cfg.Redis.Addr != "").
			Msg("Starting dashboard API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// newServer wires client, fetcher, resource client, aggregator and router.
// The returned cleanup closes the upstream and Redis clients.
func newServer(ctx context.Context, cfg *config.Config) (*http.Server, func(), error) {
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	upstream, err := client.New(cfg.Client(redisClient))
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, nil, fmt.Errorf("create LMS client: %w", err)
	}

	fetcher := pagination.NewFetcher(upstream, cfg.Pagination())
	resources := lms.New(fetcher, cfg.Resources())
	aggregator := aggregate.New(resources, cfg.Aggregate())

	router := handler.NewRouter(&handler.RouterDeps{
		Aggregator:        aggregator,
		Fetcher:           fetcher,
		CORSAllowedOrigin: cfg.Server.CORSOrigin,
		MaxPages:          cfg.LMS.MaxPages,
		Ready:             readyCheck(redisClient),
		Metrics:           metrics.Handler(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	cleanup := func() {
		upstream.Close()
		if redisClient != nil {
			redisClient.Close()
		}
	}

	return server, cleanup, nil
}

func readyCheck(redisClient *redis.Client) func(context.Context) error {
	if redisClient == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}
}
