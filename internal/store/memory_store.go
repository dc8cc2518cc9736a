package store

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"

	"refinery.app/engine/internal/model"
)

// DefaultDuplicateWindow is the number of most-recent entries in a thread scanned
// for a fingerprint match before appending a new one (spec default N=5).
const DefaultDuplicateWindow = 5

var whitespaceRun = regexp.MustCompile(`\s+`)

// Fingerprint normalizes a final answer for duplicate detection: lowercased,
// with runs of whitespace collapsed to a single space.
func Fingerprint(finalAnswer string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(finalAnswer), " "))
}

// InMemoryStore is a MemoryStore backed by an in-process map, guarded by a
// single mutex. It is the reference implementation used by orchestrator
// tests and is interchangeable with any other MemoryStore by construction.
type InMemoryStore struct {
	mu              sync.RWMutex
	entriesByThread map[string][]model.ConversationEntry
	duplicateWindow int
}

// NewInMemoryStore creates an empty InMemoryStore. A non-positive window
// falls back to DefaultDuplicateWindow.
func NewInMemoryStore(duplicateWindow int) *InMemoryStore {
	if duplicateWindow <= 0 {
		duplicateWindow = DefaultDuplicateWindow
	}
	return &InMemoryStore{
		entriesByThread: make(map[string][]model.ConversationEntry),
		duplicateWindow: duplicateWindow,
	}
}

func (s *InMemoryStore) Append(ctx context.Context, entry model.ConversationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.entriesByThread[entry.ThreadID]

	for _, existing := range entries {
		if existing.EntryID == entry.EntryID {
			return nil // idempotent: duplicate EntryID is a silent no-op
		}
	}

	entry = entry.Clone()
	entry.Duplicate = s.isDuplicateLocked(entries, entry)

	s.entriesByThread[entry.ThreadID] = append(entries, entry)
	return nil
}

// isDuplicateLocked implements the write-side duplicate guard: the new
// entry's normalized final-answer fingerprint is compared against the last
// duplicateWindow entries already committed to the thread.
func (s *InMemoryStore) isDuplicateLocked(existing []model.ConversationEntry, candidate model.ConversationEntry) bool {
	fp := Fingerprint(candidate.FinalAnswer)
	if fp == "" {
		return false
	}

	start := len(existing) - s.duplicateWindow
	if start < 0 {
		start = 0
	}
	for _, e := range existing[start:] {
		if Fingerprint(e.FinalAnswer) == fp {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) List(ctx context.Context, threadID string, limit int) ([]model.ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.entriesByThread[threadID]
	sorted := sortedMostRecentFirst(entries)
	return capEntries(sorted, limit), nil
}

func (s *InMemoryStore) Search(ctx context.Context, threadID, text string, limit int) ([]model.ConversationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(text)
	var matches []model.ConversationEntry
	for _, e := range s.entriesByThread[threadID] {
		if strings.Contains(strings.ToLower(e.UserQuery), needle) || strings.Contains(strings.ToLower(e.FinalAnswer), needle) {
			matches = append(matches, e.Clone())
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].Timestamp.Equal(matches[j].Timestamp) {
			return matches[i].Timestamp.After(matches[j].Timestamp)
		}
		return matches[i].EntryID < matches[j].EntryID
	})

	return capEntries(matches, limit), nil
}

func (s *InMemoryStore) DeleteThread(ctx context.Context, threadID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.entriesByThread[threadID])
	delete(s.entriesByThread, threadID)
	return count, nil
}

func (s *InMemoryStore) Stats(ctx context.Context) (model.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.Stats{ThreadCount: len(s.entriesByThread)}
	for _, entries := range s.entriesByThread {
		stats.TotalEntries += len(entries)
		for _, e := range entries {
			if e.Timestamp.After(stats.LastUpdated) {
				stats.LastUpdated = e.Timestamp
			}
		}
	}
	return stats, nil
}

func sortedMostRecentFirst(entries []model.ConversationEntry) []model.ConversationEntry {
	out := make([]model.ConversationEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func capEntries(entries []model.ConversationEntry, limit int) []model.ConversationEntry {
	if limit <= 0 || limit >= len(entries) {
		return entries
	}
	return entries[:limit]
}
