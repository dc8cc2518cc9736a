package store

import (
	"context"
	"testing"
	"time"

	"refinery.app/engine/internal/model"
)

func TestFingerprint_NormalizesWhitespaceAndCase(t *testing.T) {
	a := Fingerprint("  Use   Tiered\tPricing.  ")
	b := Fingerprint("use tiered pricing.")
	if a != b {
		t.Errorf("Fingerprint(%q) = %q, Fingerprint(%q) = %q, want equal", "a", a, "b", b)
	}
}

func TestFingerprint_EmptyStaysEmpty(t *testing.T) {
	if got := Fingerprint("   "); got != "" {
		t.Errorf("Fingerprint(whitespace-only) = %q, want empty", got)
	}
}

func TestInMemoryStore_AppendAndList(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	entry := model.ConversationEntry{
		EntryID: "1", ThreadID: "t1", Timestamp: time.Now(), FinalAnswer: "Ship the MVP first.",
	}
	if err := s.Append(ctx, entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	listed, err := s.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 || listed[0].EntryID != "1" {
		t.Errorf("List = %+v, want the appended entry", listed)
	}
	if listed[0].FinalAnswer != entry.FinalAnswer {
		t.Errorf("FinalAnswer = %q, want %q", listed[0].FinalAnswer, entry.FinalAnswer)
	}
}

func TestInMemoryStore_AppendIsIdempotentOnEntryID(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	first := model.ConversationEntry{EntryID: "1", ThreadID: "t1", Timestamp: time.Now(), FinalAnswer: "answer one"}
	second := model.ConversationEntry{EntryID: "1", ThreadID: "t1", Timestamp: time.Now(), FinalAnswer: "answer one, retried with different text"}

	if err := s.Append(ctx, first); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if err := s.Append(ctx, second); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}

	listed, err := s.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("len(List) = %d, want 1 (retried Append with same EntryID must be a no-op)", len(listed))
	}
	if listed[0].FinalAnswer != first.FinalAnswer {
		t.Errorf("FinalAnswer = %q, want the first write's text unchanged", listed[0].FinalAnswer)
	}
}

func TestInMemoryStore_DuplicateWindow(t *testing.T) {
	// Window of 1: only the immediately preceding entry is checked for a
	// fingerprint match, so a repeat further back than that isn't flagged.
	s := NewInMemoryStore(1)
	ctx := context.Background()

	mustAppend := func(entryID, finalAnswer string) model.ConversationEntry {
		e := model.ConversationEntry{EntryID: entryID, ThreadID: "t1", Timestamp: time.Now(), FinalAnswer: finalAnswer}
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s) failed: %v", entryID, err)
		}
		listed, err := s.List(ctx, "t1", 1)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		return listed[0]
	}

	mustAppend("1", "Use tiered pricing.")
	mustAppend("2", "Something else entirely.")
	outOfWindow := mustAppend("3", "Use tiered pricing.") // matches entry 1, which is now outside the 1-entry window
	inWindow := mustAppend("4", "Use tiered pricing.")    // matches entry 3, the immediately preceding entry

	if outOfWindow.Duplicate {
		t.Error("entry 3: Duplicate = true, want false (entry 1 is outside the 1-entry window)")
	}
	if !inWindow.Duplicate {
		t.Error("entry 4: Duplicate = false, want true (entry 3 is within the 1-entry window and shares its fingerprint)")
	}
}

func TestInMemoryStore_DeleteThreadClearsList(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	if err := s.Append(ctx, model.ConversationEntry{EntryID: "1", ThreadID: "t1", Timestamp: time.Now(), FinalAnswer: "x"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	count, err := s.DeleteThread(ctx, "t1")
	if err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}
	if count != 1 {
		t.Errorf("DeleteThread count = %d, want 1", count)
	}

	listed, err := s.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 0 {
		t.Errorf("List after DeleteThread = %+v, want empty", listed)
	}
}

func TestInMemoryStore_ListOrdersMostRecentFirst(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()
	now := time.Now()

	older := model.ConversationEntry{EntryID: "1", ThreadID: "t1", Timestamp: now.Add(-time.Minute), FinalAnswer: "older"}
	newer := model.ConversationEntry{EntryID: "2", ThreadID: "t1", Timestamp: now, FinalAnswer: "newer"}

	if err := s.Append(ctx, older); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, newer); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	listed, err := s.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(listed) != 2 || listed[0].EntryID != "2" || listed[1].EntryID != "1" {
		t.Errorf("List = %+v, want [2, 1] (most recent first)", listed)
	}
}

func TestInMemoryStore_SearchMatchesAndTieBreaksByEntryID(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()
	same := time.Now()

	if err := s.Append(ctx, model.ConversationEntry{EntryID: "2", ThreadID: "t1", Timestamp: same, UserQuery: "pricing tiers", FinalAnswer: "a"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, model.ConversationEntry{EntryID: "1", ThreadID: "t1", Timestamp: same, UserQuery: "PRICING page copy", FinalAnswer: "b"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, model.ConversationEntry{EntryID: "3", ThreadID: "t1", Timestamp: same, UserQuery: "onboarding flow", FinalAnswer: "c"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	results, err := s.Search(ctx, "t1", "pricing", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(Search results) = %d, want 2", len(results))
	}
	if results[0].EntryID != "1" || results[1].EntryID != "2" {
		t.Errorf("Search results = %+v, want entry 1 before entry 2 on a timestamp tie (lexical EntryID tie-break)", results)
	}
}

func TestInMemoryStore_Stats(t *testing.T) {
	s := NewInMemoryStore(0)
	ctx := context.Background()

	if err := s.Append(ctx, model.ConversationEntry{EntryID: "1", ThreadID: "t1", Timestamp: time.Now(), FinalAnswer: "a"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(ctx, model.ConversationEntry{EntryID: "2", ThreadID: "t2", Timestamp: time.Now(), FinalAnswer: "b"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEntries != 2 {
		t.Errorf("TotalEntries = %d, want 2", stats.TotalEntries)
	}
	if stats.ThreadCount != 2 {
		t.Errorf("ThreadCount = %d, want 2", stats.ThreadCount)
	}
}
