package interfaces

import (
	"context"
	"time"

	"stockledger/internal/models"
)

// LedgerService defines the contract for ledger business operations
type LedgerService interface {
	// Core ledger operations
	Reserve(ctx context.Context, productID string, req *models.ReserveRequest) (*models.StockResponse, error)
	Commit(ctx context.Context, productID string, req *models.CommitRequest) (*models.StockResponse, error)
	Release(ctx context.Context, productID string, req *models.ReleaseRequest) (*models.StockResponse, error)
	Restock(ctx context.Context, productID string, qty int, ts time.Time) (*models.StockResponse, error)

	// Record lifecycle
	CreateRecord(ctx context.Context, productID string) (*models.StockResponse, error)
	DropRecord(ctx context.Context, productID string) error

	// Query operations
	GetLevel(ctx context.Context, productID string) (*models.LevelResponse, error)
}
