package orchestrator

import "refinery.app/engine/internal/model"

// EventType is the orchestrator's event-stream vocabulary, emitted in the
// order fixed by spec.md §4.6.
type EventType string

const (
	EventClassification  EventType = "classification"
	EventSupervisorPlan  EventType = "supervisor_plan"
	EventSpecialistStart EventType = "specialist_start"
	EventSpecialistResult EventType = "specialist_result"
	EventModeratorStart  EventType = "moderator_start"
	EventModeratorResult EventType = "moderator_result"
	EventFinalAnswer     EventType = "final_answer"
	EventComplete        EventType = "complete"
	EventCancelled       EventType = "cancelled"
	EventError           EventType = "error"
)

// Event is one record on the orchestrator's event stream. Only the fields
// relevant to Type are populated; the rest are zero values.
type Event struct {
	Type    EventType `json:"type"`
	State   State     `json:"state,omitempty"`
	Role    string    `json:"role,omitempty"`
	Content string    `json:"content,omitempty"`

	Classification *model.Classification    `json:"classification,omitempty"`
	Roles          []string                 `json:"roles,omitempty"`
	Entry          *model.ConversationEntry  `json:"entry,omitempty"`
	ErrorKind      string                    `json:"kind,omitempty"`
	Message        string                    `json:"message,omitempty"`
}
