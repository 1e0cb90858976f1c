package models

import (
	"time"
)

// Event types for Kafka messages
const (
	EventTypeStockReserved  = "stock_reserved"
	EventTypeStockCommitted = "stock_committed"
	EventTypeStockReleased  = "stock_released"
	EventTypeStockRestocked = "stock_restocked"
	EventTypeRecordCreated  = "record_created"
	EventTypeRecordDropped  = "record_dropped"
	EventTypeStockState     = "stock_state"
)

// Domain Models

// StockRecord represents the stock_ledger table structure. The pair
// (StockQty, ReservedQty) is mutated only through the ledger; both fields
// change together under one lock and never go negative.
type StockRecord struct {
	ProductID     string     `db:"product_id" json:"product_id"`
	StockQty      int        `db:"stock_qty" json:"stock_qty"`
	ReservedQty   int        `db:"reserved_qty" json:"reserved_qty"`
	LastRestocked *time.Time `db:"last_restocked" json:"last_restocked,omitempty"`
	Version       int64      `db:"version" json:"version"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// OutboxEvent represents the outbox pattern table for reliable event publishing
type OutboxEvent struct {
	ID              int       `db:"id" json:"id"`
	EventType       string    `db:"event_type" json:"event_type"`
	Key             string    `db:"key" json:"key"`
	Payload         string    `db:"payload" json:"payload"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	Published       bool      `db:"published" json:"published"`
	PublishAttempts int       `db:"publish_attempts" json:"publish_attempts"`
	LastError       *string   `db:"last_error" json:"last_error,omitempty"`
}

// StockEvent represents ledger mutations published to Kafka
type StockEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProductID   string    `json:"product_id"`
	Qty         int       `json:"qty"`
	OrderID     string    `json:"order_id,omitempty"`
	StockQty    int       `json:"stock_qty"`
	ReservedQty int       `json:"reserved_qty"`
	Version     int64     `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
}

// StockState represents the current record state published to the state topic
type StockState struct {
	ProductID     string     `json:"product_id"`
	StockQty      int        `json:"stock_qty"`
	ReservedQty   int        `json:"reserved_qty"`
	LastRestocked *time.Time `json:"last_restocked,omitempty"`
	Version       int64      `json:"version"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ReplenishmentEvent is consumed from the replenishment topic; warehouse
// intake publishes one per received shipment.
type ReplenishmentEvent struct {
	EventID   string    `json:"event_id"`
	ProductID string    `json:"product_id"`
	Qty       int       `json:"qty"`
	Timestamp time.Time `json:"timestamp"`
}

// API Request Models

// ReserveRequest represents a request to reserve stock against an order
type ReserveRequest struct {
	Qty     int    `json:"qty" binding:"required,min=1" validate:"required,min=1"`
	OrderID string `json:"order_id" binding:"required" validate:"required"`
}

// CommitRequest represents a request to permanently consume reserved stock
type CommitRequest struct {
	Qty     int    `json:"qty" binding:"required,min=1" validate:"required,min=1"`
	OrderID string `json:"order_id" binding:"required" validate:"required"`
}

// ReleaseRequest represents a request to return reserved stock to availability
type ReleaseRequest struct {
	Qty     int    `json:"qty" binding:"required,min=1" validate:"required,min=1"`
	OrderID string `json:"order_id" binding:"required" validate:"required"`
}

// RestockRequest represents a replenishment applied through the API
type RestockRequest struct {
	Qty       int        `json:"qty" binding:"required,min=1" validate:"required,min=1"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// API Response Models

// StockResponse is returned after every successful ledger mutation
type StockResponse struct {
	ProductID     string     `json:"product_id"`
	StockQty      int        `json:"stock_qty"`
	ReservedQty   int        `json:"reserved_qty"`
	LastRestocked *time.Time `json:"last_restocked,omitempty"`
	Version       int64      `json:"version"`
	Message       string     `json:"message,omitempty"`
}

// LevelResponse represents the response for stock level reads
type LevelResponse struct {
	ProductID     string     `json:"product_id"`
	StockQty      int        `json:"stock_qty"`
	ReservedQty   int        `json:"reserved_qty"`
	LastRestocked *time.Time `json:"last_restocked,omitempty"`
	CacheHit      bool       `json:"cache_hit"`
	LastUpdated   time.Time  `json:"last_updated"`
}

// NewStockResponse builds a mutation response from the post-operation record
func NewStockResponse(rec *StockRecord, message string) *StockResponse {
	return &StockResponse{
		ProductID:     rec.ProductID,
		StockQty:      rec.StockQty,
		ReservedQty:   rec.ReservedQty,
		LastRestocked: rec.LastRestocked,
		Version:       rec.Version,
		Message:       message,
	}
}

// StateFromRecord builds a state-topic payload from a record
func StateFromRecord(rec *StockRecord) *StockState {
	return &StockState{
		ProductID:     rec.ProductID,
		StockQty:      rec.StockQty,
		ReservedQty:   rec.ReservedQty,
		LastRestocked: rec.LastRestocked,
		Version:       rec.Version,
		UpdatedAt:     rec.UpdatedAt,
	}
}
