package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"refinery.app/engine/common/logger"
)

// statsByKindKey and statsDuplicatesKey are the Redis hashes the worker
// maintains off the committed-entry stream, independent of the request-path
// HIncrBy CachedStore does for the total/thread counters in Stats().
const (
	statsByKindKey     = "refinery:stats:by_kind"
	statsDuplicatesKey = "refinery:stats:duplicates"
)

// Processor consumes the "entry committed" Redis stream a CachedStore
// publishes to on every durable Append, and folds each event into
// aggregate counters. This keeps per-query-kind analytics off the request
// path entirely: the HTTP handler never waits on anything this processor
// does.
type Processor struct {
	redis  *redis.Client
	config Config
	stopCh chan struct{}
}

// NewProcessor creates a new stream processor.
func NewProcessor(redisClient *redis.Client, config Config) *Processor {
	return &Processor{
		redis:  redisClient,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins processing events from the configured Redis stream. It
// blocks until ctx is cancelled or Stop is called.
func (p *Processor) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "starting stats aggregation worker", "stream", p.config.Stream, "group", p.config.ConsumerGroup)

	if err := p.createConsumerGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		default:
			if err := p.processBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to process batch", "error", err)
			}
		}
	}
}

// Stop gracefully stops the processor.
func (p *Processor) Stop() {
	close(p.stopCh)
}

func (p *Processor) createConsumerGroup(ctx context.Context) error {
	err := p.redis.XGroupCreateMkStream(ctx, p.config.Stream, p.config.ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

func (p *Processor) processBatch(ctx context.Context) error {
	args := &redis.XReadGroupArgs{
		Group:    p.config.ConsumerGroup,
		Consumer: p.config.ConsumerName,
		Streams:  []string{p.config.Stream, ">"},
		Count:    20,
		Block:    5 * time.Second,
	}

	streams, err := p.redis.XReadGroup(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := p.processMessage(ctx, message); err != nil {
				slog.ErrorContext(ctx, "failed to process committed-entry event", "error", err, "message_id", message.ID)
				p.moveToDLQ(ctx, message, err)
			}
			if err := p.redis.XAck(ctx, p.config.Stream, p.config.ConsumerGroup, message.ID).Err(); err != nil {
				slog.ErrorContext(ctx, "failed to acknowledge message", "error", err, "message_id", message.ID)
			}
		}
	}

	return nil
}

func (p *Processor) processMessage(ctx context.Context, message redis.XMessage) error {
	sc := logger.StartSpan(ctx, "engine.pipeline.process_message")
	ctx = sc.Context()
	defer sc.End()

	queryKind, _ := message.Values["query_kind"].(string)
	if queryKind == "" {
		queryKind = "unknown"
	}

	pipe := p.redis.TxPipeline()
	pipe.HIncrBy(ctx, statsByKindKey, queryKind, 1)
	if isDuplicate(message.Values["duplicate"]) {
		pipe.HIncrBy(ctx, statsDuplicatesKey, queryKind, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		sc.RecordError(err)
		return fmt.Errorf("updating aggregate counters: %w", err)
	}

	slog.DebugContext(ctx, "aggregated committed entry",
		"thread_id", message.Values["thread_id"],
		"entry_id", message.Values["entry_id"],
		"query_kind", queryKind,
		"route_decision", message.Values["route_decision"],
	)
	return nil
}

func isDuplicate(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	default:
		return false
	}
}

func (p *Processor) moveToDLQ(ctx context.Context, message redis.XMessage, processingErr error) {
	dlqPayload := map[string]any{
		"original_message_id": message.ID,
		"error":                processingErr.Error(),
		"timestamp":            time.Now().Unix(),
	}

	if err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: p.config.DLQStream,
		Values: dlqPayload,
	}).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to move message to DLQ", "error", err, "message_id", message.ID)
	}
}
