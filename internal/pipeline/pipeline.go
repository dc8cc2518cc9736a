package pipeline

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis stream coordinates the aggregation worker consumes
// from, mirroring the options a deployment would pass to the server's
// CachedStore for the committed-event producer side.
type Config struct {
	RedisURL      string
	Stream        string
	ConsumerGroup string
	ConsumerName  string
	DLQStream     string
}

// Aggregator owns the lifecycle of the stats-aggregation worker: a single
// Processor consuming one Redis stream.
type Aggregator struct {
	processor *Processor
}

// New builds an Aggregator over an already-connected Redis client.
func New(redisClient *redis.Client, cfg Config) *Aggregator {
	return &Aggregator{processor: NewProcessor(redisClient, cfg)}
}

// Run starts the aggregation loop; it blocks until ctx is cancelled or Stop
// is called.
func (a *Aggregator) Run(ctx context.Context) error {
	return a.processor.Start(ctx)
}

// Stop signals the aggregation loop to exit after its current batch.
func (a *Aggregator) Stop() {
	a.processor.Stop()
}
