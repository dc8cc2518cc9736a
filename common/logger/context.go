package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where request
// context (thread_id, entry_id, etc.) is automatically included in all log statements.
type LogFields struct {
	ThreadID  *string // conversation thread ID (Snowflake, formatted as decimal)
	EntryID   *string // conversation entry ID being produced
	RequestID *string // correlation ID for one orchestrator run
	QueryKind *string // classifier verdict
	RouteKind *string // "full_pipeline" or "shortcut:<role>"
	Role      *string // specialist role, when logging inside a specialist adapter
	Component string  // component name (OTel semantic convention style, e.g. "engine.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ThreadID != nil {
		result.ThreadID = new.ThreadID
	}
	if new.EntryID != nil {
		result.EntryID = new.EntryID
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.QueryKind != nil {
		result.QueryKind = new.QueryKind
	}
	if new.RouteKind != nil {
		result.RouteKind = new.RouteKind
	}
	if new.Role != nil {
		result.Role = new.Role
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ThreadID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Useful for logging potentially long strings like queries or analyzer output.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
