package models

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type OpenAILLM struct {
	Client *openai.Client
	Model  string
	// Temperature is sent when set.
	Temperature *float32
}

// NewOpenAILLM reads OPENAI_API_KEY (or OPENAI_KEY) and, when set,
// OPENAI_BASE_URL for compatible gateways.
func NewOpenAILLM(model string) *OpenAILLM {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_KEY") // fallback
	}
	cfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); base != "" {
		cfg.BaseURL = base
	}
	return NewOpenAILLMWithConfig(cfg, model)
}

func NewOpenAILLMWithConfig(cfg openai.ClientConfig, model string) *OpenAILLM {
	return &OpenAILLM{Client: openai.NewClientWithConfig(cfg), Model: model}
}

func (o *OpenAILLM) Chat(ctx context.Context, messages []Message) (Completion, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openAIRole(m.Role), Content: m.Content})
	}

	req := openai.ChatCompletionRequest{Model: o.Model, Messages: msgs}
	if o.Temperature != nil {
		req.Temperature = *o.Temperature
		if req.Temperature == 0 {
			// go-openai omits a zero temperature.
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	resp, err := o.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Completion{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("openai chat: %w", ErrEmptyResponse)
	}
	model := resp.Model
	if model == "" {
		model = o.Model
	}
	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func openAIRole(r Role) string {
	switch r {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

var _ ChatModel = (*OpenAILLM)(nil)
