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
	"stockledger/internal/models"
	redisCache "stockledger/internal/redis"
	"stockledger/internal/repository"
)

// ReaderService serves stock levels cache-first and keeps the cache warm
// from the state topic. Reads here may lag the ledger by the event pipeline
// latency; the authoritative level lives on the ledger service.
type ReaderService struct {
	repo   *repository.StockRepository
	cache  *redisCache.CacheClient
	config *config.Config
}

// NewReaderService creates a new reader service
func NewReaderService(repo *repository.StockRepository, cache *redisCache.CacheClient, cfg *config.Config) *ReaderService {
	return &ReaderService{
		repo:   repo,
		cache:  cache,
		config: cfg,
	}
}

// HandleState processes stock state updates from Kafka to keep the cache consistent
func (r *ReaderService) HandleState(ctx context.Context, state *models.StockState) error {
	log.Debug().
		Str("product_id", state.ProductID).
		Int("stock_qty", state.StockQty).
		Int("reserved_qty", state.ReservedQty).
		Msg("Updating cache from state event")

	if err := r.cache.UpdateRecordFromState(ctx, state); err != nil {
		log.Error().Err(err).Str("product_id", state.ProductID).Msg("Failed to update cache from state")
		return fmt.Errorf("failed to update cache: %w", err)
	}

	return nil
}

// GetLevel returns a product's stock level, checking cache first
func (r *ReaderService) GetLevel(ctx context.Context, productID string) (*models.LevelResponse, error) {
	// Try cache first
	rec, err := r.cache.GetRecord(ctx, productID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Cache error, falling back to database")
	}

	if rec != nil {
		return &models.LevelResponse{
			ProductID:     rec.ProductID,
			StockQty:      rec.StockQty,
			ReservedQty:   rec.ReservedQty,
			LastRestocked: rec.LastRestocked,
			CacheHit:      true,
			LastUpdated:   rec.UpdatedAt,
		}, nil
	}

	// Cache miss, read from the journal database
	rec, err = r.repo.GetRecord(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock record from database: %w", err)
	}

	if rec == nil {
		return nil, models.ErrProductNotFound
	}

	// Update cache asynchronously
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := r.cache.SetRecord(ctx, rec); err != nil {
			log.Error().Err(err).Str("product_id", productID).Msg("Failed to update cache")
		}
	}()

	return &models.LevelResponse{
		ProductID:     rec.ProductID,
		StockQty:      rec.StockQty,
		ReservedQty:   rec.ReservedQty,
		LastRestocked: rec.LastRestocked,
		CacheHit:      false,
		LastUpdated:   rec.UpdatedAt,
	}, nil
}

// setupLogging configures structured logging
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(cfg *config.Config) *sqlx.DB {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

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

// initializeKafka sets up the Kafka consumer for state updates
func initializeKafka(cfg *config.Config) *kafka.Consumer {
	return kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup+"-reader", cfg.KafkaReplenishTopicName, cfg.KafkaStateTopicName)
}

// startHTTPServer starts the HTTP server
func startHTTPServer(cfg *config.Config, reader *ReaderService) *http.Server {
	readerHandler := api.NewReaderHandler(reader)
	router := readerHandler.SetupReaderRoutes()
	serverAddr := fmt.Sprintf("%s:%s", cfg.ServerAddr, cfg.ServerPort)

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("address", serverAddr).Msg("Reader HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	return server
}

// startStateConsumer starts consuming state updates for cache consistency
func startStateConsumer(ctx context.Context, consumer *kafka.Consumer, reader *ReaderService) {
	go func() {
		log.Info().Msg("Starting to consume stock state updates for cache consistency")
		if err := consumer.ConsumeState(ctx, reader); err != nil {
			log.Error().Err(err).Msg("State consumption stopped")
		}
	}()
}

// gracefulShutdown handles graceful shutdown of the service
func gracefulShutdown(cancel context.CancelFunc, server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down Reader Service...")

	// Cancel context to stop Kafka consumption
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Reader Service stopped")
}

func main() {
	setupLogging()
	log.Info().Msg("Starting Reader Service...")

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize all components
	db := initializeDatabase(cfg)
	defer db.Close()

	cache := initializeCache(cfg)
	consumer := initializeKafka(cfg)
	defer consumer.Close()

	// Initialize service
	repo := repository.NewStockRepository(db)
	reader := NewReaderService(repo, cache, cfg)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server and state consumer
	server := startHTTPServer(cfg, reader)
	startStateConsumer(ctx, consumer, reader)

	log.Info().Msg("Reader Service started")

	// Handle graceful shutdown
	gracefulShutdown(cancel, server)
}
