package dto

// RefineRequest is the body shared by the batch and streaming endpoints.
type RefineRequest struct {
	Query     string `json:"query" binding:"required" jsonschema:"description=The ambiguous product requirement to refine"`
	ThreadID  string `json:"thread_id,omitempty" jsonschema:"description=Existing conversation thread; omit to start a new one"`
	FocusHint string `json:"focus_hint,omitempty" jsonschema:"description=Optional routing override: domain, ux_ui, technical, or revenue"`
}

// RefineResponse is the 200 response body for the batch endpoint.
type RefineResponse struct {
	FinalAnswer       string            `json:"final_answer"`
	ProcessingTimeMS  int64             `json:"processing_time_ms"`
	QueryKind         string            `json:"query_kind"`
	IsFollowup        bool              `json:"is_followup"`
	SpecialistOutputs map[string]string `json:"specialist_outputs,omitempty"`
	ModeratorOutput   string            `json:"moderator_output,omitempty"`
	ThreadID          string            `json:"thread_id"`
	EntryID           string            `json:"entry_id"`
}

// StreamEvent is one SSE record's JSON payload, matching the orchestrator's
// event vocabulary verbatim.
type StreamEvent struct {
	Type      string          `json:"type"`
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	QueryKind string          `json:"query_kind,omitempty"`
	Roles     []string        `json:"roles,omitempty"`
	Entry     *RefineResponse `json:"entry,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// ErrorResponse is the uniform error body for non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
