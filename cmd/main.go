/**
 * @description
 * This is the main entry point for the subscription-service. It initializes
 * and wires together all the components of the application: configuration,
 * database connection, Redis-backed key-value cache, RabbitMQ producer,
 * repositories, services, the cron scheduler, and the HTTP router. Finally it
 * starts the HTTP server and waits for a shutdown signal.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/glowcheck/subscription-service/internal/api"
	"github.com/glowcheck/subscription-service/internal/app"
	"github.com/glowcheck/subscription-service/internal/config"
	"github.com/glowcheck/subscription-service/internal/store"
	"github.com/glowcheck/subscription-service/pkg/purchaseclient"
	"github.com/glowcheck/subscription-service/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load a local .env when present; environment variables win.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to PostgreSQL with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Simple protocol avoids statement-cache errors behind PgBouncer
	// transaction pooling (SQLSTATE 42P05).
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Redis backs the key-value cache and the rate limiter. Without a Redis
	// URL the service falls back to a process-local cache.
	var kv store.KVStore
	var limiter *app.RedisRateLimiter
	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse Redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := goredis.NewClient(opts)
		defer redisClient.Close()
		kv = store.NewRedisKVStore(redisClient, "glowcheck:kv")
		limiter = app.NewRedisRateLimiter(redisClient, "glowcheck:rate_limit")
		logger.Info("redis connection configured")
	} else {
		kv = store.NewMemoryKVStore()
		limiter = nil
		logger.Warn("REDIS_URL not set, using in-memory key-value store")
	}

	// RabbitMQ fan-out is optional; without it transitions are only logged.
	var publisher app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Error("unable to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		logger.Info("rabbitmq producer ready")
	} else {
		logger.Warn("RABBITMQ_URL not set, referral events will not be published")
	}

	// Initialize application layers
	repository := store.NewRepository(dbpool)
	purchases := purchaseclient.NewClient(cfg.PurchaseAPIURL, cfg.PurchaseAPIKey)
	subscriptions := app.NewService(repository, kv, purchases, logger)
	referrals := app.NewReferralService(repository, kv, logger, cfg.ReferralLinkBase)
	processor := app.NewWebhookProcessor(repository, publisher, logger, cfg.ReferralRewardAmount)

	rateWindow := time.Duration(cfg.RateLimitWindowSeconds) * time.Second
	handler := api.NewHandler(subscriptions, referrals, limiter, cfg.TrialDays, cfg.TrackSignupRateLimit, rateWindow)
	webhookHandler := api.NewWebhookHandler(processor, cfg.RevenueCatWebhookSecret, logger, limiter, cfg.WebhookRateLimit, rateWindow)
	router := api.NewRouter(handler, webhookHandler, cfg.ClerkJWKSURL)

	// Start background jobs
	jobs := app.NewJobs(repository, kv, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	<-scheduler.Stop().Done()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
