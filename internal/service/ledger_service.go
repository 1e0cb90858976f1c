package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"stockledger/internal/interfaces"
	"stockledger/internal/ledger"
	"stockledger/internal/models"
)

// LedgerService handles business logic for stock ledger operations. The
// in-memory ledger is the serialization authority; Postgres journals every
// mutation and Redis carries a read-side cache refreshed asynchronously.
type LedgerService struct {
	ledger *ledger.Ledger
	repo   interfaces.StockRepository
	cache  interfaces.CacheRepository
	config ServiceConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	LockWait    time.Duration // Bounded wait for a contended record before failing Busy
	MaxQtyPerOp int           // Maximum allowed quantity per operation
}

// Validate validates the service configuration
func (c ServiceConfig) Validate() error {
	if c.LockWait < time.Millisecond {
		return fmt.Errorf("lock wait must be at least 1ms, got %v", c.LockWait)
	}
	if c.MaxQtyPerOp < 1 {
		return fmt.Errorf("max quantity per operation must be positive, got %d", c.MaxQtyPerOp)
	}
	return nil
}

// NewLedgerService creates a new ledger service with dependency injection and validation
func NewLedgerService(
	repo interfaces.StockRepository,
	cache interfaces.CacheRepository,
	config ServiceConfig,
) (*LedgerService, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	// The repository doubles as the ledger's journal: JournalChange runs
	// while the record lock is held so storage order matches memory order.
	return &LedgerService{
		ledger: ledger.New(repo, config.LockWait),
		repo:   repo,
		cache:  cache,
		config: config,
	}, nil
}

// Hydrate loads all durable records into the in-memory ledger. Must run once
// at startup before the service accepts traffic.
func (s *LedgerService) Hydrate(ctx context.Context) error {
	records, err := s.repo.ListRecords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stock records: %w", err)
	}

	s.ledger.Hydrate(records)

	log.Info().
		Int("record_count", len(records)).
		Msg("Ledger hydrated from storage")

	return nil
}

// RecordCount returns the number of live ledger records
func (s *LedgerService) RecordCount() int {
	return s.ledger.Len()
}

// Reserve atomically moves qty units from stock to reserved for an order
func (s *LedgerService) Reserve(ctx context.Context, productID string, req *models.ReserveRequest) (*models.StockResponse, error) {
	if err := s.checkQty(req.Qty); err != nil {
		return nil, err
	}

	rec, err := s.ledger.Reserve(ctx, productID, req.Qty, req.OrderID)
	if err != nil {
		return nil, err
	}

	s.refreshCache(rec)

	log.Info().
		Str("product_id", productID).
		Str("order_id", req.OrderID).
		Int("qty", req.Qty).
		Int("stock_qty", rec.StockQty).
		Int("reserved_qty", rec.ReservedQty).
		Msg("Stock reserved")

	return models.NewStockResponse(rec, "Stock reserved"), nil
}

// Commit permanently consumes qty reserved units (the order shipped)
func (s *LedgerService) Commit(ctx context.Context, productID string, req *models.CommitRequest) (*models.StockResponse, error) {
	if err := s.checkQty(req.Qty); err != nil {
		return nil, err
	}

	rec, err := s.ledger.Commit(ctx, productID, req.Qty, req.OrderID)
	if err != nil {
		return nil, err
	}

	s.refreshCache(rec)

	log.Info().
		Str("product_id", productID).
		Str("order_id", req.OrderID).
		Int("qty", req.Qty).
		Int("reserved_qty", rec.ReservedQty).
		Msg("Reservation committed")

	return models.NewStockResponse(rec, "Reservation committed"), nil
}

// Release returns qty reserved units to availability (the order was cancelled)
func (s *LedgerService) Release(ctx context.Context, productID string, req *models.ReleaseRequest) (*models.StockResponse, error) {
	if err := s.checkQty(req.Qty); err != nil {
		return nil, err
	}

	rec, err := s.ledger.Release(ctx, productID, req.Qty, req.OrderID)
	if err != nil {
		return nil, err
	}

	s.refreshCache(rec)

	log.Info().
		Str("product_id", productID).
		Str("order_id", req.OrderID).
		Int("qty", req.Qty).
		Int("stock_qty", rec.StockQty).
		Int("reserved_qty", rec.ReservedQty).
		Msg("Reservation released")

	return models.NewStockResponse(rec, "Reservation released"), nil
}

// Restock adds qty units of available stock and stamps the restock time
func (s *LedgerService) Restock(ctx context.Context, productID string, qty int, ts time.Time) (*models.StockResponse, error) {
	if err := s.checkQty(qty); err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	rec, err := s.ledger.Restock(ctx, productID, qty, ts)
	if err != nil {
		return nil, err
	}

	s.refreshCache(rec)

	log.Info().
		Str("product_id", productID).
		Int("qty", qty).
		Int("stock_qty", rec.StockQty).
		Time("restocked_at", ts).
		Msg("Stock replenished")

	return models.NewStockResponse(rec, "Stock replenished"), nil
}

// CreateRecord registers a new product with zero stock. Memory first, then
// storage; a storage failure rolls the in-memory record back out.
func (s *LedgerService) CreateRecord(ctx context.Context, productID string) (*models.StockResponse, error) {
	if productID == "" {
		return nil, &models.ValidationError{
			Field:   "product_id",
			Message: "product id is required",
			Code:    string(models.ErrorCodeInvalidField),
		}
	}

	rec, err := s.ledger.Create(productID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		if dropErr := s.ledger.Drop(ctx, productID); dropErr != nil {
			log.Error().Err(dropErr).Str("product_id", productID).Msg("Failed to roll back record after storage error")
		}
		return nil, fmt.Errorf("failed to persist stock record: %w", err)
	}

	s.refreshCache(rec)

	log.Info().Str("product_id", productID).Msg("Stock record created")

	return models.NewStockResponse(rec, "Stock record created"), nil
}

// DropRecord removes a product's record from the ledger and storage
func (s *LedgerService) DropRecord(ctx context.Context, productID string) error {
	if err := s.ledger.Drop(ctx, productID); err != nil {
		return err
	}

	if err := s.repo.DeleteRecord(ctx, productID); err != nil {
		return fmt.Errorf("failed to delete stock record: %w", err)
	}

	// Evict the stale cache entry
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.cache.DeleteRecord(ctx, productID); err != nil {
			log.Error().Err(err).Str("product_id", productID).Msg("Failed to evict cache after drop")
		}
	}()

	log.Info().Str("product_id", productID).Msg("Stock record dropped")

	return nil
}

// GetLevel returns a consistent snapshot of a record's counters. The in-memory
// ledger is authoritative here, so reads never lag behind writes.
func (s *LedgerService) GetLevel(ctx context.Context, productID string) (*models.LevelResponse, error) {
	rec, err := s.ledger.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	s.refreshCache(rec)

	return &models.LevelResponse{
		ProductID:     rec.ProductID,
		StockQty:      rec.StockQty,
		ReservedQty:   rec.ReservedQty,
		LastRestocked: rec.LastRestocked,
		CacheHit:      false,
		LastUpdated:   rec.UpdatedAt,
	}, nil
}

// HandleReplenishment applies a warehouse replenishment event to the ledger
func (s *LedgerService) HandleReplenishment(ctx context.Context, event *models.ReplenishmentEvent) error {
	if event.ProductID == "" {
		return fmt.Errorf("%w: replenishment event missing product id", models.ErrInvalidQuantity)
	}

	_, err := s.Restock(ctx, event.ProductID, event.Qty, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to apply replenishment %s: %w", event.EventID, err)
	}

	return nil
}

// checkQty enforces the per-operation quantity bound. The ledger itself
// rejects non-positive quantities.
func (s *LedgerService) checkQty(qty int) error {
	if qty > s.config.MaxQtyPerOp {
		return fmt.Errorf("%w: quantity %d exceeds maximum allowed %d", models.ErrInvalidQuantity, qty, s.config.MaxQtyPerOp)
	}
	return nil
}

// refreshCache writes the post-operation snapshot through to Redis
// asynchronously. The cache is advisory; readers tolerate short staleness.
func (s *LedgerService) refreshCache(rec *models.StockRecord) {
	snapshot := *rec
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.cache.SetRecord(ctx, &snapshot); err != nil {
			log.Error().Err(err).Str("product_id", snapshot.ProductID).Msg("Failed to refresh cache")
		}
	}()
}
