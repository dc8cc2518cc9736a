package analyzer

import (
	"context"
	"fmt"

	"refinery.app/engine/common/llm"
)

// Analyzer maps a role-specific prompt plus a rendered context to a text
// analysis. It is the abstract LLM capability every specialist and the
// moderator are built on; production implementations are backed by a
// llm.ChatClient, test implementations return canned text keyed by role.
type Analyzer interface {
	Analyze(ctx context.Context, role, prompt, renderedContext string) (string, error)
}

// ErrorKind classifies an analyzer failure for retry/propagation decisions.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "transient" // worth retrying
	ErrorKindFatal      ErrorKind = "fatal"     // not worth retrying
)

// Error wraps an Analyzer failure with a retry classification, mirroring the
// orchestrator's own retryable/fatal split for upstream calls.
type Error struct {
	Kind      ErrorKind
	Role      string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("analyzer[%s]: %s", e.Role, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as a transient, retryable analyzer failure.
func NewRetryableError(role string, err error) *Error {
	return &Error{Kind: ErrorKindTransient, Role: role, Err: err, Retryable: true}
}

// NewFatalError wraps err as a non-retryable analyzer failure.
func NewFatalError(role string, err error) *Error {
	return &Error{Kind: ErrorKindFatal, Role: role, Err: err, Retryable: false}
}

// chatAnalyzer adapts a llm.ChatClient into an Analyzer: every call is a
// single-turn completion with the rendered context folded into the user
// message and the role-specific prompt as the system message.
type chatAnalyzer struct {
	client llm.ChatClient
}

// NewChatAnalyzer adapts client into an Analyzer.
func NewChatAnalyzer(client llm.ChatClient) Analyzer {
	return &chatAnalyzer{client: client}
}

func (a *chatAnalyzer) Analyze(ctx context.Context, role, prompt, renderedContext string) (string, error) {
	req := llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: renderedContext},
		},
	}

	resp, err := a.client.Chat(ctx, req)
	if err != nil {
		if !llm.ClassifyRetryable(ctx, err) {
			return "", NewFatalError(role, err)
		}
		return "", NewRetryableError(role, err)
	}

	return resp.Content, nil
}
