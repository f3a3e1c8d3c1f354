package models

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// ---------------------------- Ollama -----------------------------------------

type OllamaLLM struct {
	Client      *ollama.Client
	Model       string
	Temperature *float32
}

func NewOllamaLLM(model string) (*OllamaLLM, error) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid OLLAMA_HOST %q: %w", host, err)
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
	}

	c := ollama.NewClient(u, httpClient)
	return &OllamaLLM{Client: c, Model: model}, nil
}

func (o *OllamaLLM) Chat(ctx context.Context, messages []Message) (Completion, error) {
	msgs := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, ollama.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := false
	req := &ollama.ChatRequest{
		Model:    o.Model,
		Messages: msgs,
		Stream:   &stream,
	}
	if o.Temperature != nil {
		req.Options = map[string]any{"temperature": *o.Temperature}
	}

	var (
		text strings.Builder
		last ollama.ChatResponse
	)
	if err := o.Client.Chat(ctx, req, func(cr ollama.ChatResponse) error {
		text.WriteString(cr.Message.Content)
		last = cr
		return nil
	}); err != nil {
		return Completion{}, fmt.Errorf("ollama chat: %w", err)
	}
	if text.Len() == 0 {
		return Completion{}, fmt.Errorf("ollama chat: %w", ErrEmptyResponse)
	}

	in, out := last.PromptEvalCount, last.EvalCount
	return Completion{
		Text:  text.String(),
		Model: o.Model,
		Usage: Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

var _ ChatModel = (*OllamaLLM)(nil)
