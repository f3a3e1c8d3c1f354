package models

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicLLM talks to Anthropic's Messages API.
type AnthropicLLM struct {
	Client      *anthropic.Client
	Model       string
	MaxTokens   int
	Temperature *float32
}

// NewAnthropicLLM constructs a client. It reads ANTHROPIC_API_KEY from the env.
func NewAnthropicLLM(model string) *AnthropicLLM {
	key := os.Getenv("ANTHROPIC_API_KEY")
	cl := anthropic.NewClient(
		anthropicopt.WithAPIKey(key),
	)
	return &AnthropicLLM{
		Client:    &cl,
		Model:     model, // e.g. "claude-3-5-sonnet-latest"
		MaxTokens: 1024,
	}
}

// Chat sends the transcript and returns the concatenated text blocks.
func (a *AnthropicLLM) Chat(ctx context.Context, messages []Message) (Completion, error) {
	system, rest := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.Model),
		MaxTokens: int64(a.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(rest)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if a.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*a.Temperature))
	}
	for _, m := range rest {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := a.Client.Messages.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("anthropic chat: %w", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	if b.Len() == 0 {
		return Completion{}, fmt.Errorf("anthropic chat: %w", ErrEmptyResponse)
	}
	in, out := int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens)
	return Completion{
		Text:  b.String(),
		Model: string(msg.Model),
		Usage: Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

var _ ChatModel = (*AnthropicLLM)(nil)
