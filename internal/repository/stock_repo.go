package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"stockledger/internal/ledger"
	"stockledger/internal/models"
)

// StockRepository handles database operations for the stock ledger
type StockRepository struct {
	db         *sqlx.DB
	outboxRepo *OutboxRepository
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *sqlx.DB) *StockRepository {
	return &StockRepository{
		db:         db,
		outboxRepo: NewOutboxRepository(db),
	}
}

// GetRecord retrieves a stock record by product id
func (r *StockRepository) GetRecord(ctx context.Context, productID string) (*models.StockRecord, error) {
	var rec models.StockRecord
	query := `SELECT product_id, stock_qty, reserved_qty, last_restocked, version, updated_at
			  FROM stock_ledger WHERE product_id = $1`

	err := r.db.GetContext(ctx, &rec, query, productID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to get stock record")
		return nil, fmt.Errorf("failed to get stock record: %w", err)
	}

	return &rec, nil
}

// ListRecords retrieves all stock records for ledger hydration at startup
func (r *StockRepository) ListRecords(ctx context.Context) ([]models.StockRecord, error) {
	var records []models.StockRecord
	query := `SELECT product_id, stock_qty, reserved_qty, last_restocked, version, updated_at
			  FROM stock_ledger ORDER BY product_id ASC`

	err := r.db.SelectContext(ctx, &records, query)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list stock records")
		return nil, fmt.Errorf("failed to list stock records: %w", err)
	}

	return records, nil
}

// CreateRecord inserts a new stock record together with its creation event
func (r *StockRepository) CreateRecord(ctx context.Context, rec *models.StockRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO stock_ledger (product_id, stock_qty, reserved_qty, last_restocked, version, updated_at)
			  VALUES ($1, $2, $3, $4, $5, NOW())`

	if _, err := tx.ExecContext(ctx, query, rec.ProductID, rec.StockQty, rec.ReservedQty, rec.LastRestocked, rec.Version); err != nil {
		log.Error().Err(err).Str("product_id", rec.ProductID).Msg("Failed to create stock record")
		return fmt.Errorf("failed to create stock record: %w", err)
	}

	event := &models.StockEvent{
		EventID:     uuid.New().String(),
		EventType:   models.EventTypeRecordCreated,
		ProductID:   rec.ProductID,
		StockQty:    rec.StockQty,
		ReservedQty: rec.ReservedQty,
		Version:     rec.Version,
		Timestamp:   rec.UpdatedAt,
	}
	if err := r.outboxRepo.InsertOutboxEvent(ctx, tx, models.EventTypeRecordCreated, rec.ProductID, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DeleteRecord removes a stock record (cascading product destruction)
func (r *StockRepository) DeleteRecord(ctx context.Context, productID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM stock_ledger WHERE product_id = $1`, productID)
	if err != nil {
		log.Error().Err(err).Str("product_id", productID).Msg("Failed to delete stock record")
		return fmt.Errorf("failed to delete stock record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return models.ErrProductNotFound
	}

	event := &models.StockEvent{
		EventID:   uuid.New().String(),
		EventType: models.EventTypeRecordDropped,
		ProductID: productID,
	}
	if err := r.outboxRepo.InsertOutboxEvent(ctx, tx, models.EventTypeRecordDropped, productID, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// JournalChange persists a ledger mutation: the record row is updated with a
// version check and the stock event plus a state snapshot are written to the
// outbox in the same transaction. Runs while the record lock is held, so a
// version conflict here signals an external writer touching the table.
func (r *StockRepository) JournalChange(ctx context.Context, change ledger.Change) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	after := change.After
	query := `UPDATE stock_ledger
			  SET stock_qty = $2, reserved_qty = $3, last_restocked = $4, version = $5, updated_at = $6
			  WHERE product_id = $1 AND version = $7`

	result, err := tx.ExecContext(ctx, query,
		after.ProductID, after.StockQty, after.ReservedQty, after.LastRestocked,
		after.Version, after.UpdatedAt, after.Version-1)
	if err != nil {
		log.Error().Err(err).Str("product_id", after.ProductID).Msg("Failed to journal ledger change")
		return fmt.Errorf("failed to journal ledger change: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("journal conflict for product %s: version mismatch at %d", after.ProductID, after.Version)
	}

	event := &models.StockEvent{
		EventID:     uuid.New().String(),
		EventType:   eventTypeForOp(change.Op),
		ProductID:   after.ProductID,
		Qty:         change.Qty,
		OrderID:     change.OrderID,
		StockQty:    after.StockQty,
		ReservedQty: after.ReservedQty,
		Version:     after.Version,
		Timestamp:   after.UpdatedAt,
	}
	if err := r.outboxRepo.InsertOutboxEvent(ctx, tx, event.EventType, after.ProductID, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	state := models.StateFromRecord(&after)
	if err := r.outboxRepo.InsertOutboxEvent(ctx, tx, models.EventTypeStockState, after.ProductID, state); err != nil {
		return fmt.Errorf("failed to create outbox state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Outbox returns the outbox repository sharing this repository's connection
func (r *StockRepository) Outbox() *OutboxRepository {
	return r.outboxRepo
}

func eventTypeForOp(op ledger.ChangeOp) string {
	switch op {
	case ledger.ChangeReserve:
		return models.EventTypeStockReserved
	case ledger.ChangeCommit:
		return models.EventTypeStockCommitted
	case ledger.ChangeRelease:
		return models.EventTypeStockReleased
	case ledger.ChangeRestock:
		return models.EventTypeStockRestocked
	default:
		return string(op)
	}
}
