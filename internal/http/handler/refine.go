package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"refinery.app/engine/common/llm"
	"refinery.app/engine/common/logger"
	"refinery.app/engine/internal/http/dto"
	"refinery.app/engine/internal/model"
	"refinery.app/engine/internal/orchestrator"
)

// RefineHandler serves the batch and streaming refine-requirements
// endpoints, and the developer-facing JSON Schema endpoint.
type RefineHandler struct {
	orch *orchestrator.Orchestrator
}

func NewRefineHandler(orch *orchestrator.Orchestrator) *RefineHandler {
	return &RefineHandler{orch: orch}
}

func bindRefineRequest(c *gin.Context) (model.Query, bool) {
	var req dto.RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body", Kind: "invalid_input"})
		return model.Query{}, false
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "query must not be empty", Kind: "invalid_input"})
		return model.Query{}, false
	}
	return model.Query{Text: req.Query, ThreadID: req.ThreadID, FocusHint: req.FocusHint}, true
}

// Create handles POST /api/refine-requirements: drains the orchestrator's
// event stream and returns the single terminal outcome as JSON.
func (h *RefineHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	query, ok := bindRefineRequest(c)
	if !ok {
		return
	}

	requestID := uuid.New().String()
	ctx = logger.WithLogFields(ctx, logger.LogFields{RequestID: logger.Ptr(requestID), Component: "engine.http"})

	var (
		complete *model.ConversationEntry
		terminal orchestrator.Event
		gotTerm  bool
	)
	for ev := range h.orch.Run(ctx, query) {
		terminal = ev
		gotTerm = true
		if ev.Type == orchestrator.EventComplete {
			complete = ev.Entry
		}
	}

	if !gotTerm {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "orchestrator produced no terminal event", Kind: "internal"})
		return
	}

	if complete != nil {
		c.JSON(http.StatusOK, toRefineResponse(*complete))
		return
	}

	writeTerminalError(c, terminal)
}

// Stream handles POST /api/refine-requirements/stream: relays every
// orchestrator event as a server-sent-event record. Client disconnection
// cancels ctx, which the orchestrator observes and stops dispatching on.
func (h *RefineHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	query, ok := bindRefineRequest(c)
	if !ok {
		return
	}

	requestID := uuid.New().String()
	ctx = logger.WithLogFields(ctx, logger.LogFields{RequestID: logger.Ptr(requestID), Component: "engine.http"})

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	seq := 0
	flusher, canFlush := c.Writer.(http.Flusher)

	for ev := range h.orch.Run(ctx, query) {
		payload := toStreamEvent(ev)
		data, err := marshalStreamEvent(payload)
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal stream event", "error", err)
			continue
		}
		fmt.Fprintf(c.Writer, "id: %s-%d\ndata: %s\n\n", requestID, seq, data)
		seq++
		if canFlush {
			flusher.Flush()
		}
	}
}

// Schema serves the JSON Schema for the batch request/response DTOs, an
// ambient developer-experience endpoint outside the core contract.
func (h *RefineHandler) Schema(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"request":  llm.GenerateSchemaFrom(dto.RefineRequest{}),
		"response": llm.GenerateSchemaFrom(dto.RefineResponse{}),
	})
}

func toRefineResponse(e model.ConversationEntry) dto.RefineResponse {
	return dto.RefineResponse{
		FinalAnswer:       e.FinalAnswer,
		ProcessingTimeMS:  e.ProcessingTimeMS,
		QueryKind:         e.QueryKind,
		IsFollowup:        e.IsFollowup,
		SpecialistOutputs: e.SpecialistOutputs,
		ModeratorOutput:   e.ModeratorOutput,
		ThreadID:          e.ThreadID,
		EntryID:           e.EntryID,
	}
}

func toStreamEvent(ev orchestrator.Event) dto.StreamEvent {
	out := dto.StreamEvent{
		Type:    string(ev.Type),
		Role:    ev.Role,
		Content: ev.Content,
		Roles:   ev.Roles,
		Kind:    ev.ErrorKind,
		Message: ev.Message,
	}
	if ev.Classification != nil {
		out.QueryKind = ev.Classification.QueryKind
	}
	if ev.Entry != nil {
		resp := toRefineResponse(*ev.Entry)
		out.Entry = &resp
	}
	return out
}

func writeTerminalError(c *gin.Context, ev orchestrator.Event) {
	if ev.Type == orchestrator.EventCancelled {
		c.JSON(http.StatusRequestTimeout, dto.ErrorResponse{Error: "request cancelled", Kind: "cancelled"})
		return
	}

	status := http.StatusInternalServerError
	switch orchestrator.ErrorKind(ev.ErrorKind) {
	case orchestrator.ErrorKindInvalidInput:
		status = http.StatusBadRequest
	case orchestrator.ErrorKindUpstreamUnavailable:
		status = http.StatusBadGateway
	case orchestrator.ErrorKindTimeout:
		status = http.StatusGatewayTimeout
	case orchestrator.ErrorKindStorageError, orchestrator.ErrorKindInternal:
		status = http.StatusInternalServerError
	}

	msg := ev.Message
	if msg == "" {
		msg = "request failed"
	}
	c.JSON(status, dto.ErrorResponse{Error: msg, Kind: ev.ErrorKind})
}

func marshalStreamEvent(e dto.StreamEvent) ([]byte, error) {
	return json.Marshal(e)
}
