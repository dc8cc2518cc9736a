package finalizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"refinery.app/engine/internal/model"
	"refinery.app/engine/internal/store"
)

// finalAnswerPattern extracts the literal "Final Answer:" segment through
// either the next bold header ("**...**" on a new line) or end-of-string.
var finalAnswerPattern = regexp.MustCompile(`(?s)Final Answer:(.*?)(\n\*\*[^\n]+\*\*|\z)`)

// ExtractFinalAnswer pulls the Final Answer section out of moderator output.
// If the literal marker is absent, the full moderator text is used, per
// spec.md §4.5.
func ExtractFinalAnswer(moderatorOutput string) string {
	match := finalAnswerPattern.FindStringSubmatch(moderatorOutput)
	if match == nil {
		return strings.TrimSpace(moderatorOutput)
	}
	return strings.TrimSpace(match[1])
}

// Finalizer assembles the ConversationEntry and commits it to the
// MemoryStore. Commit is atomic per entry: a storage failure leaves no
// partial write.
type Finalizer struct {
	Store store.MemoryStore
}

// New creates a Finalizer backed by s.
func New(s store.MemoryStore) *Finalizer {
	return &Finalizer{Store: s}
}

// Input bundles everything the finalizer needs to build one entry. Exactly
// one of ModeratorOutput or (Shortcut mode) a single SpecialistOutputs entry
// must be populated, matching the route_decision invariants in spec.md §3.
type Input struct {
	EntryID           string
	ThreadID          string
	Timestamp         time.Time
	UserQuery         string
	QueryKind         string
	IsFollowup        bool
	ProcessingTimeMS  int64
	SpecialistOutputs map[string]string
	ModeratorOutput   string // "" in shortcut mode
	RouteDecision     string
}

// Finalize builds the ConversationEntry from in and commits it.
func (f *Finalizer) Finalize(ctx context.Context, in Input) (model.ConversationEntry, error) {
	var finalAnswer string

	switch {
	case in.ModeratorOutput != "":
		finalAnswer = ExtractFinalAnswer(in.ModeratorOutput)
	case len(in.SpecialistOutputs) == 1:
		for _, text := range in.SpecialistOutputs {
			finalAnswer = text
		}
	default:
		return model.ConversationEntry{}, fmt.Errorf("finalizer: cannot determine final answer from input")
	}

	if finalAnswer == "" {
		return model.ConversationEntry{}, fmt.Errorf("finalizer: final answer must not be empty")
	}

	entry := model.ConversationEntry{
		EntryID:           in.EntryID,
		ThreadID:          in.ThreadID,
		Timestamp:         in.Timestamp,
		UserQuery:         in.UserQuery,
		QueryKind:         in.QueryKind,
		IsFollowup:        in.IsFollowup,
		ProcessingTimeMS:  in.ProcessingTimeMS,
		SpecialistOutputs: in.SpecialistOutputs,
		ModeratorOutput:   in.ModeratorOutput,
		FinalAnswer:       finalAnswer,
		RouteDecision:     in.RouteDecision,
	}

	if err := f.Store.Append(ctx, entry); err != nil {
		return model.ConversationEntry{}, fmt.Errorf("committing conversation entry: %w", err)
	}

	return entry, nil
}
