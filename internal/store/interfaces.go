package store

import (
	"context"

	"refinery.app/engine/internal/model"
)

// MemoryStore is the durable, append-only log of ConversationEntry records
// keyed by thread. It is the only mutable shared resource in the system; all
// writes go through Append or DeleteThread. Readers receive owned copies.
type MemoryStore interface {
	// Append durably persists a single entry. MUST be idempotent on EntryID:
	// appending an entry whose EntryID already exists in the thread is a
	// silent no-op, not an error.
	Append(ctx context.Context, entry model.ConversationEntry) error

	// List returns the most-recent-first entries for a thread, up to limit.
	// A non-positive limit means "no limit".
	List(ctx context.Context, threadID string, limit int) ([]model.ConversationEntry, error)

	// Search matches text case-insensitively against UserQuery and
	// FinalAnswer, ranked most-recent-first with ties broken by EntryID.
	Search(ctx context.Context, threadID, text string, limit int) ([]model.ConversationEntry, error)

	// DeleteThread removes every entry owned by threadID and returns the
	// count deleted.
	DeleteThread(ctx context.Context, threadID string) (int, error)

	// Stats returns an aggregate snapshot across all threads.
	Stats(ctx context.Context) (model.Stats, error)
}
