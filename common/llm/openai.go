package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openaiClient struct {
	client openai.Client
	model  string
}

func newOpenAIClient(cfg Config) (ChatClient, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &openaiClient{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (c *openaiClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}

	slog.DebugContext(ctx, "analyzer chat completed",
		"provider", "openai",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &ChatResponse{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *openaiClient) Model() string {
	return c.model
}

// IsRetryable classifies whether an error from a ChatClient call is worth
// retrying, per spec.md §4.3's exponential-backoff policy. It recognizes
// only OpenAI error shapes; use ClassifyRetryable for provider-agnostic code.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if isContextDone(ctx, err) {
		return false
	}
	if kind, ok := classifyOpenAI(err); ok {
		return kind
	}
	slog.WarnContext(ctx, "analyzer network error, will retry", "error", err)
	return true
}

// isContextDone reports whether err stems from context cancellation or
// deadline expiry, the one classification shared by every provider.
func isContextDone(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "analyzer error not retryable: context cancelled or deadline exceeded")
		return true
	}
	return false
}

// classifyOpenAI recognizes *openai.Error and reports the retry verdict, or
// ok=false if err is not an OpenAI API error.
func classifyOpenAI(err error) (retryable, ok bool) {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return false, false
	}

	switch {
	case apiErr.StatusCode == 429:
		return true, true
	case apiErr.StatusCode >= 500:
		return true, true
	default:
		return false, true
	}
}
