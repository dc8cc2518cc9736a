package finalizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery.app/engine/internal/model"
	"refinery.app/engine/internal/store"
)

func TestExtractFinalAnswer_WithMarkerAndTrailingHeader(t *testing.T) {
	input := "Some narrative text.\n\nFinal Answer:\nUse tiered pricing.\n\n**Risks**\nSome risk text."
	assert.Equal(t, "Use tiered pricing.", ExtractFinalAnswer(input))
}

func TestExtractFinalAnswer_WithMarkerNoTrailingHeader(t *testing.T) {
	input := "Narrative.\n\nFinal Answer:\nShip the MVP first."
	assert.Equal(t, "Ship the MVP first.", ExtractFinalAnswer(input))
}

func TestExtractFinalAnswer_NoMarkerUsesFullText(t *testing.T) {
	input := "Just a plain narrative with no marker."
	assert.Equal(t, input, ExtractFinalAnswer(input), "want full text unchanged")
}

func TestFinalize_FullPipeline(t *testing.T) {
	s := store.NewInMemoryStore(0)
	f := New(s)

	entry, err := f.Finalize(context.Background(), Input{
		EntryID:           "1",
		ThreadID:          "t1",
		Timestamp:         time.Now(),
		UserQuery:         "Build a food delivery app",
		QueryKind:         model.RoleGeneral,
		SpecialistOutputs: map[string]string{model.RoleDomain: "x", model.RoleTechnical: "y"},
		ModeratorOutput:   "Narrative.\n\nFinal Answer:\nDo it this way.",
		RouteDecision:     model.RouteFullPipeline,
	})
	require.NoError(t, err)
	assert.Equal(t, "Do it this way.", entry.FinalAnswer)

	listed, err := s.List(context.Background(), "t1", 1)
	require.NoError(t, err)
	require.Len(t, listed, 1, "want the committed entry")
	assert.Equal(t, "1", listed[0].EntryID)
}

func TestFinalize_ShortcutMode(t *testing.T) {
	s := store.NewInMemoryStore(0)
	f := New(s)

	entry, err := f.Finalize(context.Background(), Input{
		EntryID:           "2",
		ThreadID:          "t1",
		Timestamp:         time.Now(),
		UserQuery:         "pricing follow-up",
		QueryKind:         model.RoleRevenue,
		IsFollowup:        true,
		SpecialistOutputs: map[string]string{model.RoleRevenue: "Tiered pricing works well here."},
		RouteDecision:     model.RouteShortcut(model.RoleRevenue),
	})
	require.NoError(t, err)
	assert.Equal(t, "Tiered pricing works well here.", entry.FinalAnswer, "want specialist text unchanged")
	assert.Empty(t, entry.ModeratorOutput, "ModeratorOutput should be absent in shortcut mode")
}

func TestFinalize_RejectsEmptyFinalAnswer(t *testing.T) {
	s := store.NewInMemoryStore(0)
	f := New(s)

	_, err := f.Finalize(context.Background(), Input{
		EntryID:           "3",
		ThreadID:          "t1",
		SpecialistOutputs: map[string]string{model.RoleRevenue: ""},
		RouteDecision:     model.RouteShortcut(model.RoleRevenue),
	})
	assert.Error(t, err, "expected error for empty final answer")
}
