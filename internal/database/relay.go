package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relaySource = "catalog-importer"

// RedisClient is the subset of the redis client the relay publishes with.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type OutboxRepo interface {
	GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, err error) error
	MarkDeadLetter(ctx context.Context, id uuid.UUID, reason error) error
	CountByStatus(ctx context.Context, statuses ...string) (int64, error)
}

// Relay moves import events from the outbox table to Redis streams. Each
// stream entry is a flat record of the job outcome so consumers can filter on
// job and status without decoding JSON.
type Relay struct {
	redis     RedisClient
	outbox    OutboxRepo
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen caps each stream approximately; 0 uses the default.
	StreamMaxLen int64
}

func NewRelay(db *DB, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	return newRelay(NewOutboxRepository(db), redisClient, logger, config)
}

func newRelay(outbox OutboxRepo, redisClient RedisClient, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.StreamMaxLen == 0 {
		config.StreamMaxLen = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		redis:     redisClient,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// Start polls the outbox until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.processEvents(ctx); err != nil {
		r.logger.Error("failed to process events on startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.processEvents(ctx); err != nil {
				r.logger.Error("failed to process events", "error", err)
			}
		}
	}
}

func (r *Relay) processEvents(ctx context.Context) error {
	events, err := r.outbox.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	for _, event := range events {
		if err := r.processEvent(ctx, event); err != nil {
			r.logger.Error("failed to process event",
				"event_id", event.ID,
				"job_id", event.AggregateID,
				"error", err)
		}
	}
	return nil
}

// processEvent publishes one event. Events whose payload cannot describe an
// import outcome are dead-lettered at once; publish failures are retried.
func (r *Relay) processEvent(ctx context.Context, event *OutboxEvent) error {
	record, err := importRecord(event)
	if err != nil {
		if markErr := r.outbox.MarkDeadLetter(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to dead-letter event", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.publish(ctx, event.TargetStream, record); err != nil {
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed", "event_id", event.ID, "error", markErr)
		}
		return err
	}

	if err := r.outbox.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	log := r.logger.With("event_id", event.ID, "job_id", record["job_id"], "stream", event.TargetStream)
	if event.EventType == EventImportFailed {
		log.Warn("import failure published", "stage", record["stage"], "reason", record["reason"])
	} else {
		log.Info("import published", "products", record["product_count"])
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, stream string, record map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: record,
	}
	if _, err := r.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// importRecord flattens an import event into stream values. Completed imports
// carry the stored import id; failures carry the stage and reason.
func importRecord(event *OutboxEvent) (map[string]interface{}, error) {
	var p ImportEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %w", ErrInvalidEvent, err)
	}
	if p.JobID == "" {
		return nil, fmt.Errorf("%w: payload has no job id", ErrInvalidEvent)
	}

	record := map[string]interface{}{
		"event_id":      event.ID.String(),
		"event_type":    event.EventType,
		"source":        relaySource,
		"job_id":        p.JobID,
		"status":        p.Status,
		"mode":          p.Mode,
		"product_count": p.ProductCount,
		"error_count":   p.ErrorCount,
		"occurred_at":   p.OccurredAt.UTC().Format(time.RFC3339Nano),
		"attempt":       event.RetryCount + 1,
	}
	if p.Filter != "" {
		record["filter"] = p.Filter
	}

	switch event.EventType {
	case EventImportCompleted:
		if p.ImportID == "" {
			return nil, fmt.Errorf("%w: completed job %s has no import id", ErrInvalidEvent, p.JobID)
		}
		record["import_id"] = p.ImportID
	case EventImportFailed:
		record["stage"] = p.Stage
		record["reason"] = p.Reason
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, event.EventType)
	}
	return record, nil
}

// Backlog reports events still waiting to be published and events parked in
// dead letter.
func (r *Relay) Backlog(ctx context.Context) (pending, deadLetter int64, err error) {
	pending, err = r.outbox.CountByStatus(ctx, OutboxStatusPending, OutboxStatusFailed)
	if err != nil {
		return 0, 0, err
	}
	deadLetter, err = r.outbox.CountByStatus(ctx, OutboxStatusDeadLetter)
	if err != nil {
		return 0, 0, err
	}
	return pending, deadLetter, nil
}
