/**
 * @description
 * This is the main entry point for the coupon claim service. It wires the
 * process-wide resources with an explicit lifecycle — pgx pool, Redis client,
 * RabbitMQ producer — injects them into the components, starts the HTTP
 * server, and shuts everything down gracefully on SIGINT/SIGTERM.
 *
 * Startup policy:
 * - DATABASE_URL and WIDGET_SESSION_SECRET are required; the process exits
 *   without them.
 * - Without Redis the partner-token exchange fails closed (the replay guard
 *   reports unavailability rather than allowing replay) and claim rate
 *   limiting is disabled.
 * - Without RabbitMQ a no-op producer is installed; claims proceed without
 *   events.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Database connection pooling.
 * - github.com/redis/go-redis/v9: Replay guard and rate limiter store.
 * - github.com/joho/godotenv: Local .env loading.
 */

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/api"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/app"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/config"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/replay"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/store"
	"github.com/ak45akash/Coupon-Dispenser-sub001/internal/token"
	"github.com/ak45akash/Coupon-Dispenser-sub001/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.WidgetSessionSecret == "" {
		log.Fatal("WIDGET_SESSION_SECRET is required")
	}

	// Establish database connection pool.
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v\n", err)
	}
	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connection established\"")

	// Ensure required tables and the claim uniqueness indexes exist (idempotent).
	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelSchema()
	if err := store.EnsureSchema(schemaCtx, dbpool); err != nil {
		log.Fatalf("Unable to ensure schema: %v", err)
	}

	// Connect Redis for the replay guard and claim rate limiter. The replay
	// guard fails closed when Redis is absent; rate limiting just turns off.
	var redisClient *redis.Client
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; partner exchange will fail closed and rate limiting is disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
			cancelPing()
		}
	}

	var replayGuard replay.Guard = replay.Unavailable{}
	var rateLimiter app.RateLimiter
	if redisClient != nil {
		replayGuard = replay.NewRedisGuard(redisClient, cfg.RedisReplayPrefix)
		rateLimiter = app.NewRedisClaimRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.ClaimRateLimitPerMinute)
	}

	// Set up the RabbitMQ claim event producer; fall back to a no-op when the
	// broker is unreachable so claims never depend on it.
	var producer rabbitmq.Publisher
	if cfg.RabbitMQURL == "" {
		log.Println("level=warn component=bootstrap msg=\"rabbitmq url missing; claim events disabled\" env=RABBITMQ_URL")
		producer = &rabbitmq.EventProducerFallback{}
	} else if p, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.ClaimEventExchange, cfg.ClaimEventRoutingKey); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq connect failed; claim events disabled\" err=%v", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = p
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}
	defer producer.Close()

	// Wire the core components.
	repo := store.NewPostgresRepository(dbpool)
	tokens := token.NewService(
		cfg.WidgetSessionSecret,
		time.Duration(cfg.WidgetSessionTTLHours)*time.Hour,
		app.VendorSecretSource{Repo: repo},
	)
	service := app.NewService(repo, tokens, replayGuard, producer, cfg.ClaimPeriod, cfg.ClaimMaxPickRetries)

	handlers := api.NewHandlers(service)
	router := api.NewRouter(handlers, api.RouterConfig{
		SessionVerifier:  tokens,
		InternalAPIKey:   cfg.InternalAPIKey,
		ClaimRateLimiter: rateLimiter,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("level=info component=bootstrap msg=\"server starting\" port=%s claim_period=%s", cfg.ServerPort, cfg.ClaimPeriod)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("level=info component=bootstrap msg=\"shutting down\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("level=info component=bootstrap msg=\"server exited\"")
}
