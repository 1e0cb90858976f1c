package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"stockledger/internal/interfaces"
	"stockledger/internal/models"
)

// Consumer handles consuming messages from Kafka
type Consumer struct {
	replenishReader *kafka.Reader
	stateReader     *kafka.Reader
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, consumerGroup, replenishTopic, stateTopic string) *Consumer {
	replenishReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   replenishTopic,
		GroupID: consumerGroup,

		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 5 * time.Second,
		StartOffset:    kafka.LastOffset,

		MaxWait: 1 * time.Second,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka replenishment reader error: "+msg, args...)
		}),
	})

	stateReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   stateTopic,
		GroupID: consumerGroup + "-state",

		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Msgf("Kafka state reader error: "+msg, args...)
		}),
	})

	return &Consumer{
		replenishReader: replenishReader,
		stateReader:     stateReader,
	}
}

// ConsumeReplenishments consumes warehouse replenishment events and applies
// them through the handler. Messages are committed only after the handler
// succeeds, so a crash mid-processing results in redelivery.
func (c *Consumer) ConsumeReplenishments(ctx context.Context, handler interfaces.ReplenishmentHandler) error {
	log.Info().Msg("Starting to consume replenishment events")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping replenishment consumption")
			return ctx.Err()
		default:
			message, err := c.replenishReader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error().Err(err).Msg("Failed to fetch replenishment message")
				time.Sleep(time.Second) // Backoff on error
				continue
			}

			var event models.ReplenishmentEvent
			if err := json.Unmarshal(message.Value, &event); err != nil {
				log.Error().Err(err).
					Str("topic", message.Topic).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to unmarshal replenishment event")

				// Commit the message to skip it
				if commitErr := c.replenishReader.CommitMessages(ctx, message); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit invalid message")
				}
				continue
			}

			processErr := c.processReplenishmentWithRetry(ctx, handler, &event, 3)
			if processErr != nil {
				log.Error().Err(processErr).
					Str("product_id", event.ProductID).
					Str("event_id", event.EventID).
					Msg("Failed to handle replenishment after retries")

				// Leaving the message uncommitted makes Kafka redeliver it
				continue
			}

			if err := c.replenishReader.CommitMessages(ctx, message); err != nil {
				log.Error().Err(err).
					Str("event_id", event.EventID).
					Msg("Failed to commit replenishment message")
				// Processed but not committed, redelivery beats losing it
			} else {
				log.Debug().
					Str("product_id", event.ProductID).
					Str("event_id", event.EventID).
					Int("qty", event.Qty).
					Msg("Successfully processed and committed replenishment")
			}
		}
	}
}

// ConsumeState consumes state-topic snapshots and feeds them to the handler
func (c *Consumer) ConsumeState(ctx context.Context, handler interfaces.StateHandler) error {
	log.Info().Msg("Starting to consume stock state updates")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping state consumption")
			return ctx.Err()
		default:
			message, err := c.stateReader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Error().Err(err).Msg("Failed to fetch state message")
				time.Sleep(time.Second) // Backoff on error
				continue
			}

			var state models.StockState
			if err := json.Unmarshal(message.Value, &state); err != nil {
				log.Error().Err(err).
					Str("topic", message.Topic).
					Int("partition", message.Partition).
					Int64("offset", message.Offset).
					Msg("Failed to unmarshal state")

				// Commit the message to skip it
				if commitErr := c.stateReader.CommitMessages(ctx, message); commitErr != nil {
					log.Error().Err(commitErr).Msg("Failed to commit invalid state message")
				}
				continue
			}

			if err := handler.HandleState(ctx, &state); err != nil {
				log.Error().Err(err).
					Str("product_id", state.ProductID).
					Msg("Failed to handle state update")
			}

			if err := c.stateReader.CommitMessages(ctx, message); err != nil {
				log.Error().Err(err).Msg("Failed to commit state message")
			} else {
				log.Debug().
					Str("product_id", state.ProductID).
					Msg("Successfully processed state update")
			}
		}
	}
}

// processReplenishmentWithRetry applies a replenishment with exponential backoff
func (c *Consumer) processReplenishmentWithRetry(ctx context.Context, handler interfaces.ReplenishmentHandler, event *models.ReplenishmentEvent, maxRetries int) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := handler.HandleReplenishment(ctx, event)
		if err == nil {
			return nil
		}

		if isNonRetryableError(err) {
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Msg("Non-retryable error, skipping replenishment")
			return err
		}

		if attempt < maxRetries {
			// Exponential backoff: 100ms, 200ms, 400ms
			backoff := time.Duration(100*(1<<attempt)) * time.Millisecond
			log.Warn().Err(err).
				Str("event_id", event.EventID).
				Int("attempt", attempt+1).
				Int("max_retries", maxRetries+1).
				Dur("backoff", backoff).
				Msg("Replenishment processing failed, retrying after backoff")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("replenishment processing failed after %d attempts", maxRetries+1)
}

// isNonRetryableError determines if an error should not be retried. A busy
// record is the one transient ledger error worth retrying.
func isNonRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, models.ErrBusy):
		return false
	case errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrReservationUnderflow):
		return true
	}
	return false
}

// Close closes the Kafka readers
func (c *Consumer) Close() error {
	var errs []error

	if err := c.replenishReader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close replenishment reader: %w", err))
	}

	if err := c.stateReader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close state reader: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing consumers: %v", errs)
	}

	return nil
}
