package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stockledger/internal/api"
	"stockledger/internal/config"
	"stockledger/internal/kafka"
	redisCache "stockledger/internal/redis"
	"stockledger/internal/repository"
	"stockledger/internal/service"
)

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")
	return db
}

// initializeCache sets up Redis cache with cluster support
func initializeCache(cfg *config.Config) *redisCache.CacheClient {
	cache := redisCache.NewCacheClient(
		cfg.RedisAddrs,
		cfg.RedisPassword,
		cfg.RedisClusterMode,
		cfg.RedisTTL,
		cfg.RedisKeyPrefix,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cache.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	log.Info().Msg("Redis connection established")
	return cache
}

// startHTTPServer starts the HTTP server
func startHTTPServer(cfg *config.Config, ledgerService *service.LedgerService) *http.Server {
	ledgerHandler := api.NewLedgerHandler(ledgerService)
	router := ledgerHandler.SetupLedgerRoutes()
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Ledger HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// startOutboxDrainer ships journaled events from Postgres to Kafka
func startOutboxDrainer(ctx context.Context, cfg *config.Config, publisher *kafka.Publisher, outboxRepo *repository.OutboxRepository) {
	go publisher.RunOutboxDrainer(ctx, outboxRepo, kafka.DrainerConfig{
		LockKey:      cfg.OutboxLockKey,
		BatchSize:    cfg.OutboxBatch,
		PollInterval: cfg.OutboxPoll,
	})
}

// startReplenishmentConsumer applies warehouse replenishments to the ledger.
// Running it inside the ledger process keeps this instance the single writer.
func startReplenishmentConsumer(ctx context.Context, consumer *kafka.Consumer, ledgerService *service.LedgerService) {
	go func() {
		if err := consumer.ConsumeReplenishments(ctx, ledgerService); err != nil {
			log.Error().Err(err).Msg("Replenishment consumption stopped")
		}
	}()
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Ledger Service...")

	// Cancel context to stop the drainer and Kafka consumption
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Ledger Service stopped")
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	setupLogging(cfg)
	log.Info().Msg("Starting Ledger Service...")

	// Initialize all components
	db := initializeDatabase(cfg)
	defer db.Close()

	cache := initializeCache(cfg)
	defer cache.Close()

	publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopicName, cfg.KafkaStateTopicName)
	defer publisher.Close()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaReplenishTopicName, cfg.KafkaStateTopicName)
	defer consumer.Close()

	// Initialize repositories and service
	repo := repository.NewStockRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	ledgerService, err := service.NewLedgerService(repo, cache, service.ServiceConfig{
		LockWait:    cfg.LockWait,
		MaxQtyPerOp: cfg.MaxQtyPerOp,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger service")
	}

	// Load the full ledger into memory before serving traffic
	hydrateCtx, hydrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer hydrateCancel()
	if err := ledgerService.Hydrate(hydrateCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to hydrate ledger")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server and background workers
	server := startHTTPServer(cfg, ledgerService)
	startOutboxDrainer(ctx, cfg, publisher, outboxRepo)
	startReplenishmentConsumer(ctx, consumer, ledgerService)

	log.Info().
		Int("record_count", ledgerService.RecordCount()).
		Msg("Ledger Service started")

	// Handle graceful shutdown
	gracefulShutdown(cancel, server)
}
