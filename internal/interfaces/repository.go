package interfaces

import (
	"context"

	"stockledger/internal/ledger"
	"stockledger/internal/models"
)

// StockRepository defines the contract for durable ledger storage
type StockRepository interface {
	// Record operations
	GetRecord(ctx context.Context, productID string) (*models.StockRecord, error)
	ListRecords(ctx context.Context) ([]models.StockRecord, error)
	CreateRecord(ctx context.Context, rec *models.StockRecord) error
	DeleteRecord(ctx context.Context, productID string) error

	// JournalChange persists a ledger mutation and its outbox events in one
	// transaction; it is invoked while the record lock is held.
	JournalChange(ctx context.Context, change ledger.Change) error
}

// CacheRepository defines the contract for caching operations
type CacheRepository interface {
	GetRecord(ctx context.Context, productID string) (*models.StockRecord, error)
	SetRecord(ctx context.Context, rec *models.StockRecord) error
	DeleteRecord(ctx context.Context, productID string) error
	UpdateRecordFromState(ctx context.Context, state *models.StockState) error
	Close() error
}
