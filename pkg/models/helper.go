package models

import (
	"context"
	"fmt"
	"strings"
)

// Settings tunes generation on any provider.
type Settings struct {
	// Temperature overrides the provider default when non-nil.
	Temperature *float32
}

// NewLLMProvider builds the chat backend named by provider.
func NewLLMProvider(ctx context.Context, provider string, model string, s Settings) (ChatModel, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai", "":
		o := NewOpenAILLM(model)
		o.Temperature = s.Temperature
		return o, nil
	case "gemini", "google":
		g, err := NewGeminiLLM(ctx, model)
		if err != nil {
			return nil, err
		}
		g.Temperature = s.Temperature
		return g, nil
	case "ollama":
		o, err := NewOllamaLLM(model)
		if err != nil {
			return nil, err
		}
		o.Temperature = s.Temperature
		return o, nil
	case "anthropic", "claude":
		a := NewAnthropicLLM(model)
		a.Temperature = s.Temperature
		return a, nil
	case "dummy":
		return NewDummyLLM(""), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}
