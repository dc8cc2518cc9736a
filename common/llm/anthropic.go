package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(cfg Config) (ChatClient, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}

	return &anthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (c *anthropicClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	systemContent, messages := c.convertMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if len(systemContent) > 0 {
		params.System = systemContent
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	slog.DebugContext(ctx, "analyzer chat completed",
		"provider", "anthropic",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason)

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &ChatResponse{
		Content:          content,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (c *anthropicClient) Model() string {
	return c.model
}

// convertMessages extracts system content and converts messages to Anthropic
// format. Anthropic requires system content to be passed separately from the
// messages array.
func (c *anthropicClient) convertMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var systemContent []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			systemContent = append(systemContent, anthropic.TextBlockParam{
				Type: "text",
				Text: msg.Content,
			})
		case "assistant":
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
			})
		default:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
			})
		}
	}

	return systemContent, messages
}

// IsRetryableAnthropic classifies whether an Anthropic API error is worth
// retrying, mirroring IsRetryable's OpenAI classification.
func IsRetryableAnthropic(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if isContextDone(ctx, err) {
		return false
	}
	if kind, ok := classifyAnthropic(err); ok {
		return kind
	}
	return true
}

// classifyAnthropic recognizes *anthropic.Error and reports the retry
// verdict, or ok=false if err is not an Anthropic API error.
func classifyAnthropic(err error) (retryable, ok bool) {
	var apiErr *anthropic.Error
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
