package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"refinery.app/engine/internal/model"
)

// recentEntryTTL bounds how long a thread's cached recent-entry list stays
// warm in Redis before List falls back to the wrapped store.
const recentEntryTTL = 10 * time.Minute

// cacheCap is the number of most-recent entries per thread kept in Redis.
// This is independent of any caller-supplied List limit.
const cacheCap = 20

// statsKey caches the counters returned by Stats. It is refreshed on every
// Append and dropped entirely on DeleteThread, so a cache miss always falls
// back to the wrapped store's own accounting (a Postgres COUNT, in practice).
const statsKey = "refinery:stats"

// committedStream is the Redis stream the worker's stats aggregator consumes,
// one XADD per durably committed entry.
const committedStream = "refinery:entry-committed"

// CachedStore wraps a MemoryStore with a Redis-backed recent-entry cache and
// a best-effort Stats cache. Append writes through to both the cache and the
// wrapped store; List serves from the cache when the caller's limit fits
// within cacheCap and falls back to the wrapped store otherwise. Search
// always goes to the wrapped store, since the cache only ever holds a
// bounded recent window.
type CachedStore struct {
	redis *redis.Client
	inner MemoryStore
}

// NewCachedStore wraps inner with a Redis recent-entry cache.
func NewCachedStore(redisClient *redis.Client, inner MemoryStore) *CachedStore {
	return &CachedStore{redis: redisClient, inner: inner}
}

func cacheKey(threadID string) string {
	return "refinery:thread:" + threadID + ":recent"
}

// appendIfNew delegates to the wrapped store and reports whether this call
// actually wrote a new row, as opposed to hitting the store's own
// idempotent-on-EntryID no-op, and whether that row started a new thread.
// MemoryStore.Append doesn't return either signal itself, so both are
// recovered here with a pre-read against the wrapped store, mirroring
// PostgresStore's own pre-read duplicate check.
func (c *CachedStore) appendIfNew(ctx context.Context, entry model.ConversationEntry) (wrote, newThread bool, err error) {
	existing, err := c.inner.List(ctx, entry.ThreadID, 0)
	if err != nil {
		return false, false, err
	}
	for _, e := range existing {
		if e.EntryID == entry.EntryID {
			return false, false, nil
		}
	}

	if err := c.inner.Append(ctx, entry); err != nil {
		return false, false, err
	}
	return true, len(existing) == 0, nil
}

func (c *CachedStore) Append(ctx context.Context, entry model.ConversationEntry) error {
	wrote, newThread, err := c.appendIfNew(ctx, entry)
	if err != nil {
		return err
	}
	if !wrote {
		// Append is idempotent on EntryID (interfaces.go). The wrapped store
		// already no-op'd this call, so skip the cache/stats/stream writes too,
		// or a retried Append double-counts stats and double-publishes to the
		// commit stream.
		return nil
	}

	// The wrapped store sets the duplicate tag on its own copy; read it back
	// so the cache and the commit stream carry the stored value.
	if stored, err := c.inner.List(ctx, entry.ThreadID, 1); err == nil && len(stored) == 1 && stored[0].EntryID == entry.EntryID {
		entry.Duplicate = stored[0].Duplicate
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		slog.WarnContext(ctx, "skipping cache write: marshal failed", "error", err)
		return nil
	}

	key := cacheKey(entry.ThreadID)
	pipe := c.redis.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, cacheCap-1)
	pipe.Expire(ctx, key, recentEntryTTL)
	pipe.HIncrBy(ctx, statsKey, "total_entries", 1)
	if newThread {
		pipe.HIncrBy(ctx, statsKey, "thread_count", 1)
	}
	pipe.HSet(ctx, statsKey, "last_updated", entry.Timestamp.Format(time.RFC3339))
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: committedStream,
		Values: map[string]any{
			"thread_id":      entry.ThreadID,
			"entry_id":       entry.EntryID,
			"query_kind":     entry.QueryKind,
			"route_decision": entry.RouteDecision,
			"duplicate":      entry.Duplicate,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		slog.WarnContext(ctx, "recent-entry cache write failed, store already durable", "error", err, "thread_id", entry.ThreadID)
	}

	return nil
}

func (c *CachedStore) List(ctx context.Context, threadID string, limit int) ([]model.ConversationEntry, error) {
	if limit <= 0 || limit > cacheCap {
		return c.inner.List(ctx, threadID, limit)
	}

	raw, err := c.redis.LRange(ctx, cacheKey(threadID), 0, int64(limit-1)).Result()
	if err != nil || len(raw) == 0 {
		if err != nil && err != redis.Nil {
			slog.DebugContext(ctx, "recent-entry cache miss, falling back to store", "error", err)
		}
		return c.inner.List(ctx, threadID, limit)
	}

	entries := make([]model.ConversationEntry, 0, len(raw))
	for _, item := range raw {
		var e model.ConversationEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return c.inner.List(ctx, threadID, limit)
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func (c *CachedStore) Search(ctx context.Context, threadID, text string, limit int) ([]model.ConversationEntry, error) {
	return c.inner.Search(ctx, threadID, text, limit)
}

func (c *CachedStore) DeleteThread(ctx context.Context, threadID string) (int, error) {
	count, err := c.inner.DeleteThread(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if err := c.redis.Del(ctx, cacheKey(threadID)).Err(); err != nil {
		slog.WarnContext(ctx, "failed to evict recent-entry cache after delete", "error", err, "thread_id", threadID)
	}
	// Deleting a thread changes thread_count and total_entries in ways the
	// incremental Append path can't cheaply track, so drop the cache rather
	// than leave it wrong; the next Stats call recomputes from the store.
	if err := c.redis.Del(ctx, statsKey).Err(); err != nil {
		slog.WarnContext(ctx, "failed to invalidate stats cache after delete", "error", err)
	}
	return count, nil
}

func (c *CachedStore) Stats(ctx context.Context) (model.Stats, error) {
	cached, err := c.redis.HGetAll(ctx, statsKey).Result()
	if err == nil && len(cached) > 0 {
		if stats, ok := parseCachedStats(cached); ok {
			return stats, nil
		}
	}

	stats, err := c.inner.Stats(ctx)
	if err != nil {
		return model.Stats{}, err
	}

	values := map[string]any{
		"total_entries": stats.TotalEntries,
		"thread_count":  stats.ThreadCount,
	}
	if !stats.LastUpdated.IsZero() {
		values["last_updated"] = stats.LastUpdated.Format(time.RFC3339)
	}
	if err := c.redis.HSet(ctx, statsKey, values).Err(); err != nil {
		slog.WarnContext(ctx, "failed to populate stats cache", "error", err)
	}

	return stats, nil
}

func parseCachedStats(fields map[string]string) (model.Stats, bool) {
	total, ok := fields["total_entries"]
	if !ok {
		return model.Stats{}, false
	}
	totalEntries, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return model.Stats{}, false
	}

	var threadCount int64
	if raw, ok := fields["thread_count"]; ok {
		threadCount, _ = strconv.ParseInt(raw, 10, 64)
	}

	stats := model.Stats{TotalEntries: int(totalEntries), ThreadCount: int(threadCount)}
	if raw, ok := fields["last_updated"]; ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			stats.LastUpdated = t
		}
	}
	return stats, true
}

var _ MemoryStore = (*CachedStore)(nil)

// NewRedisClient dials Redis from a connection URL (e.g. "redis://host:6379/0").
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
