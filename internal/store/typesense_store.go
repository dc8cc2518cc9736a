package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"

	"refinery.app/engine/internal/model"
)

// typesenseDoc is the flattened document shape indexed per ConversationEntry.
// Typesense requires a string "id" field distinct from our EntryID naming.
type typesenseDoc struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	EntryID     string `json:"entry_id"`
	UserQuery   string `json:"user_query"`
	FinalAnswer string `json:"final_answer"`
	Timestamp   int64  `json:"timestamp"`
}

// TypesenseIndex wraps a MemoryStore with a richer-than-substring full-text
// search index, satisfying §4.7's "MAY use richer search but MUST be a
// superset of this contract" allowance. Append and DeleteThread write
// through to both the index and the wrapped store. Search queries the index,
// falling back to the wrapped store's Search for an empty query or a failed
// index call; List and Stats delegate to the wrapped store unchanged.
type TypesenseIndex struct {
	client     *typesense.Client
	collection string
	inner      MemoryStore
}

// NewTypesenseIndex wraps inner with a Typesense search index.
func NewTypesenseIndex(client *typesense.Client, collection string, inner MemoryStore) *TypesenseIndex {
	return &TypesenseIndex{client: client, collection: collection, inner: inner}
}

// NewTypesenseClient dials a Typesense node.
func NewTypesenseClient(url, apiKey string) *typesense.Client {
	return typesense.NewClient(
		typesense.WithServer(url),
		typesense.WithAPIKey(apiKey),
	)
}

// EnsureCollection creates the conversation_entries collection if absent.
func (t *TypesenseIndex) EnsureCollection(ctx context.Context) error {
	_, err := t.client.Collection(t.collection).Retrieve(ctx)
	if err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: t.collection,
		Fields: []api.Field{
			{Name: "thread_id", Type: "string", Facet: pointer.True()},
			{Name: "entry_id", Type: "string"},
			{Name: "user_query", Type: "string"},
			{Name: "final_answer", Type: "string"},
			{Name: "timestamp", Type: "int64"},
		},
		DefaultSortingField: pointer.String("timestamp"),
	}

	if _, err := t.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("creating typesense collection: %w", err)
	}
	return nil
}

func (t *TypesenseIndex) Append(ctx context.Context, entry model.ConversationEntry) error {
	if err := t.inner.Append(ctx, entry); err != nil {
		return err
	}

	doc := typesenseDoc{
		ID:          entry.ThreadID + ":" + entry.EntryID,
		ThreadID:    entry.ThreadID,
		EntryID:     entry.EntryID,
		UserQuery:   entry.UserQuery,
		FinalAnswer: entry.FinalAnswer,
		Timestamp:   entry.Timestamp.Unix(),
	}

	if _, err := t.client.Collection(t.collection).Documents().Upsert(ctx, doc, nil); err != nil {
		slog.WarnContext(ctx, "typesense index write failed, entry already durable", "error", err, "entry_id", entry.EntryID)
	}
	return nil
}

func (t *TypesenseIndex) List(ctx context.Context, threadID string, limit int) ([]model.ConversationEntry, error) {
	return t.inner.List(ctx, threadID, limit)
}

func (t *TypesenseIndex) Search(ctx context.Context, threadID, text string, limit int) ([]model.ConversationEntry, error) {
	if text == "" {
		return t.inner.Search(ctx, threadID, text, limit)
	}

	perPage := limit
	if perPage <= 0 {
		perPage = 250
	}

	params := &api.SearchCollectionParams{
		Q:        pointer.String(text),
		QueryBy:  pointer.String("user_query,final_answer"),
		FilterBy: pointer.String(fmt.Sprintf("thread_id:=%s", threadID)),
		SortBy:   pointer.String("timestamp:desc"),
		PerPage:  pointer.Int(perPage),
	}

	result, err := t.client.Collection(t.collection).Documents().Search(ctx, params)
	if err != nil {
		slog.WarnContext(ctx, "typesense search failed, falling back to substring match", "error", err)
		return t.inner.Search(ctx, threadID, text, limit)
	}
	if result.Hits == nil || len(*result.Hits) == 0 {
		return nil, nil
	}

	entryIDs := make([]string, 0, len(*result.Hits))
	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		if id, ok := (*hit.Document)["entry_id"].(string); ok {
			entryIDs = append(entryIDs, id)
		}
	}

	all, err := t.inner.List(ctx, threadID, 0)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.ConversationEntry, len(all))
	for _, e := range all {
		byID[e.EntryID] = e
	}

	entries := make([]model.ConversationEntry, 0, len(entryIDs))
	for _, id := range entryIDs {
		if e, ok := byID[id]; ok {
			entries = append(entries, e)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].EntryID < entries[j].EntryID
	})

	return capEntries(entries, limit), nil
}

func (t *TypesenseIndex) DeleteThread(ctx context.Context, threadID string) (int, error) {
	count, err := t.inner.DeleteThread(ctx, threadID)
	if err != nil {
		return 0, err
	}

	filter := fmt.Sprintf("thread_id:=%s", threadID)
	if _, err := t.client.Collection(t.collection).Documents().Delete(ctx, &api.DeleteDocumentsParams{FilterBy: &filter}); err != nil {
		slog.WarnContext(ctx, "failed to evict typesense documents after delete", "error", err, "thread_id", threadID)
	}
	return count, nil
}

func (t *TypesenseIndex) Stats(ctx context.Context) (model.Stats, error) {
	return t.inner.Stats(ctx)
}

var _ MemoryStore = (*TypesenseIndex)(nil)
