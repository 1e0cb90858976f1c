package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"stockledger/internal/models"
)

// CacheClient wraps Redis for stock level caching with cluster support
type CacheClient struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// NewCacheClient creates a new Redis cache client with cluster support
func NewCacheClient(addrs []string, password string, clusterMode bool, ttl time.Duration, keyPrefix string) *CacheClient {
	var client redis.UniversalClient

	if clusterMode {
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:          addrs,
			Password:       password,
			MaxRetries:     3,
			PoolSize:       50,
			MinIdleConns:   5,
			PoolTimeout:    30 * time.Second,
			MaxRedirects:   8,
			RouteByLatency: true,
		})
	} else {
		addr := "localhost:6379"
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
			PoolSize: 10,
		})
	}

	return &CacheClient{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

// GetRecord retrieves a stock record from cache; (nil, nil) on a miss
func (c *CacheClient) GetRecord(ctx context.Context, productID string) (*models.StockRecord, error) {
	key := c.recordKey(productID)

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get stock record from cache")
		return nil, fmt.Errorf("failed to get stock record from cache: %w", err)
	}

	var rec models.StockRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to unmarshal cached stock record")
		return nil, fmt.Errorf("failed to unmarshal cached stock record: %w", err)
	}

	log.Debug().Str("product_id", productID).Msg("Cache hit for stock record")
	return &rec, nil
}

// SetRecord stores a stock record in cache
func (c *CacheClient) SetRecord(ctx context.Context, rec *models.StockRecord) error {
	key := c.recordKey(rec.ProductID)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal stock record: %w", err)
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Error().Err(err).Str("product_id", rec.ProductID).Msg("Failed to set stock record in cache")
		return fmt.Errorf("failed to set stock record in cache: %w", err)
	}

	return nil
}

// DeleteRecord removes a stock record from cache
func (c *CacheClient) DeleteRecord(ctx context.Context, productID string) error {
	key := c.recordKey(productID)

	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to delete stock record from cache")
		return fmt.Errorf("failed to delete stock record from cache: %w", err)
	}

	return nil
}

// UpdateRecordFromState updates cache from a Kafka state event
func (c *CacheClient) UpdateRecordFromState(ctx context.Context, state *models.StockState) error {
	rec := &models.StockRecord{
		ProductID:     state.ProductID,
		StockQty:      state.StockQty,
		ReservedQty:   state.ReservedQty,
		LastRestocked: state.LastRestocked,
		Version:       state.Version,
		UpdatedAt:     state.UpdatedAt,
	}

	return c.SetRecord(ctx, rec)
}

// Ping checks if Redis is available
func (c *CacheClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CacheClient) Close() error {
	return c.client.Close()
}

func (c *CacheClient) recordKey(productID string) string {
	return fmt.Sprintf("%sstock:%s", c.keyPrefix, productID)
}
