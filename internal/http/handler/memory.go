package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"refinery.app/engine/internal/http/dto"
	"refinery.app/engine/internal/model"
	"refinery.app/engine/internal/orchestrator"
)

// MemoryHandler serves the memory-inspection endpoints backing
// GET/DELETE /memory/{thread_id} and GET /memory/stats.
type MemoryHandler struct {
	orch *orchestrator.Orchestrator
}

func NewMemoryHandler(orch *orchestrator.Orchestrator) *MemoryHandler {
	return &MemoryHandler{orch: orch}
}

// History handles GET /memory/{thread_id}?limit=N.
func (h *MemoryHandler) History(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("thread_id")
	limit := queryLimit(c)

	entries, err := h.orch.History(ctx, threadID, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load thread history", "error", err, "thread_id", threadID)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load history", Kind: "internal"})
		return
	}

	stats, err := h.orch.Store.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load store stats", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load stats", Kind: "internal"})
		return
	}

	c.JSON(http.StatusOK, dto.HistoryResponse{
		Entries: toEntryViews(entries),
		Stats:   toStatsView(stats),
	})
}

// Search handles GET /memory/{thread_id}/search?q=...&limit=N.
func (h *MemoryHandler) Search(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("thread_id")
	text := c.Query("q")
	limit := queryLimit(c)

	results, err := h.orch.Search(ctx, threadID, text, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to search thread", "error", err, "thread_id", threadID)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to search thread", Kind: "internal"})
		return
	}

	c.JSON(http.StatusOK, dto.SearchResponse{Results: toEntryViews(results)})
}

// Clear handles DELETE /memory/{thread_id}.
func (h *MemoryHandler) Clear(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("thread_id")

	count, err := h.orch.Clear(ctx, threadID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to clear thread", "error", err, "thread_id", threadID)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to clear thread", Kind: "internal"})
		return
	}

	c.JSON(http.StatusOK, dto.ClearResponse{Cleared: true, Count: count})
}

// Stats handles GET /memory/stats.
func (h *MemoryHandler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.orch.Store.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load store stats", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load stats", Kind: "internal"})
		return
	}

	c.JSON(http.StatusOK, toStatsView(stats))
}

func queryLimit(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func toEntryViews(entries []model.ConversationEntry) []dto.ConversationEntryView {
	views := make([]dto.ConversationEntryView, len(entries))
	for i, e := range entries {
		views[i] = dto.ConversationEntryView{
			EntryID:           e.EntryID,
			ThreadID:          e.ThreadID,
			Timestamp:         e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			UserQuery:         e.UserQuery,
			QueryKind:         e.QueryKind,
			IsFollowup:        e.IsFollowup,
			ProcessingTimeMS:  e.ProcessingTimeMS,
			SpecialistOutputs: e.SpecialistOutputs,
			ModeratorOutput:   e.ModeratorOutput,
			FinalAnswer:       e.FinalAnswer,
			RouteDecision:     e.RouteDecision,
			Duplicate:         e.Duplicate,
		}
	}
	return views
}

func toStatsView(s model.Stats) dto.StatsView {
	view := dto.StatsView{TotalEntries: int64(s.TotalEntries), ThreadCount: int64(s.ThreadCount)}
	if !s.LastUpdated.IsZero() {
		view.LastUpdated = s.LastUpdated.Format("2006-01-02T15:04:05Z07:00")
	}
	return view
}
