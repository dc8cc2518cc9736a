package llm

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds LLM client configuration.
type Config struct {
	Provider string // "openai" or "anthropic"
	APIKey   string // Required: API key for the provider
	BaseURL  string // Optional: custom API endpoint
	Model    string // Model name (e.g., "gpt-4o-mini", "claude-sonnet-4-5-20250514")
}

// ChatClient is a minimal provider-agnostic chat completion client. It is the
// one suspension point analyzer.Analyzer implementations block on.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Model() string
}

// ChatRequest contains the messages for one completion call.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Message represents a single role/content pair in the conversation.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ChatResponse contains the LLM's response.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// NewChatClient creates a ChatClient for the configured provider.
// Defaults to OpenAI if no provider is specified.
func NewChatClient(cfg Config) (ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	switch provider {
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// GenerateSchemaFrom generates a JSON schema from an instance value.
// Used to serve client-facing JSON Schema for the transport DTOs.
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// ClassifyRetryable dispatches a ChatClient error to the retry classifier for
// its provider, so callers of ChatClient don't need to know which provider
// they're talking to. context.Canceled/DeadlineExceeded are never retryable;
// everything else defers to whichever provider-specific classifier
// recognizes the underlying error type, defaulting to retryable for errors
// neither recognizes (unclassified network failures).
func ClassifyRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if isContextDone(ctx, err) {
		return false
	}
	if kind, ok := classifyOpenAI(err); ok {
		return kind
	}
	if kind, ok := classifyAnthropic(err); ok {
		return kind
	}
	return true
}
