package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"stockledger/internal/models"
	"stockledger/internal/repository"
)

// Publisher handles publishing messages to Kafka
type Publisher struct {
	eventsWriter *kafka.Writer
	stateWriter  *kafka.Writer
}

// NewPublisher creates a new Kafka publisher. The hash balancer routes
// messages with the same key (product id) to the same partition so per-product
// ordering is preserved.
func NewPublisher(brokers []string, eventsTopic, stateTopic string) *Publisher {
	eventsWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  eventsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	stateWriter := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  stateTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		AllowAutoTopicCreation: true,

		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    1,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
	}

	return &Publisher{
		eventsWriter: eventsWriter,
		stateWriter:  stateWriter,
	}
}

// Close closes the Kafka writers
func (p *Publisher) Close() error {
	var errs []error

	if err := p.eventsWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close events writer: %w", err))
	}

	if err := p.stateWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close state writer: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing publishers: %v", errs)
	}

	return nil
}

// DrainerConfig tunes the outbox drainer loop
type DrainerConfig struct {
	LockKey      int64
	BatchSize    int
	PollInterval time.Duration
}

// RunOutboxDrainer polls the outbox and ships unpublished events to Kafka.
// A Postgres advisory lock ensures a single active drainer across replicas.
func (p *Publisher) RunOutboxDrainer(ctx context.Context, outboxRepo *repository.OutboxRepository, cfg DrainerConfig) {
	log.Info().
		Int64("lock_key", cfg.LockKey).
		Int("batch_size", cfg.BatchSize).
		Dur("poll_interval", cfg.PollInterval).
		Msg("Starting outbox drainer")

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stopping outbox drainer")
			return
		case <-ticker.C:
			if err := p.drainOutboxBatch(ctx, outboxRepo, cfg.LockKey, cfg.BatchSize); err != nil {
				log.Error().Err(err).Msg("Failed to drain outbox batch")
			}
		}
	}
}

// drainOutboxBatch processes a single batch of outbox events
func (p *Publisher) drainOutboxBatch(ctx context.Context, outboxRepo *repository.OutboxRepository, lockKey int64, batchSize int) error {
	acquired, err := outboxRepo.TryAcquireOutboxLock(ctx, lockKey)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		// Another replica holds the lock, skip this cycle
		return nil
	}

	defer func() {
		if err := outboxRepo.ReleaseOutboxLock(ctx, lockKey); err != nil {
			log.Error().Err(err).Msg("Failed to release outbox lock")
		}
	}()

	events, err := outboxRepo.FetchOutboxBatchOrdered(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox batch: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	var successfulIDs []int64
	for _, event := range events {
		if err := p.publishOutboxEvent(ctx, &event); err != nil {
			log.Error().
				Err(err).
				Int64("outbox_id", int64(event.ID)).
				Str("event_type", event.EventType).
				Str("key", event.Key).
				Msg("Failed to publish outbox event")

			if incrementErr := outboxRepo.IncrementPublishAttempts(ctx, int64(event.ID), err.Error()); incrementErr != nil {
				log.Error().Err(incrementErr).Int64("outbox_id", int64(event.ID)).Msg("Failed to increment publish attempts")
			}
			continue
		}

		successfulIDs = append(successfulIDs, int64(event.ID))
	}

	if len(successfulIDs) > 0 {
		if err := outboxRepo.MarkOutboxPublished(ctx, successfulIDs); err != nil {
			return fmt.Errorf("failed to mark events as published: %w", err)
		}
		log.Info().
			Int("published_count", len(successfulIDs)).
			Int("total_count", len(events)).
			Msg("Outbox batch drained")
	}

	return nil
}

// publishOutboxEvent routes a single outbox row to the right topic
func (p *Publisher) publishOutboxEvent(ctx context.Context, outboxEvent *models.OutboxEvent) error {
	message := kafka.Message{
		Key:   []byte(outboxEvent.Key),
		Value: []byte(outboxEvent.Payload),
		Time:  time.Now(),
	}

	writer := p.eventsWriter
	if outboxEvent.EventType == models.EventTypeStockState {
		writer = p.stateWriter
	}

	if err := writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	return nil
}
