package interfaces

import (
	"context"

	"stockledger/internal/models"
)

// ReplenishmentHandler processes replenishment events from the warehouse topic
type ReplenishmentHandler interface {
	HandleReplenishment(ctx context.Context, event *models.ReplenishmentEvent) error
}

// StateHandler processes state-topic updates (cache warm path)
type StateHandler interface {
	HandleState(ctx context.Context, state *models.StockState) error
}
