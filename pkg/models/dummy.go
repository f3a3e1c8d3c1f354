package models

import (
	"context"
	"fmt"
	"strings"
)

// DummyLLM is a lightweight model implementation useful for local testing without API calls.
// It echoes the last non-empty line of the final message and reports one token
// per whitespace-separated word.
type DummyLLM struct {
	Prefix string
}

func NewDummyLLM(prefix string) *DummyLLM {
	if strings.TrimSpace(prefix) == "" {
		prefix = "Dummy response:"
	}
	return &DummyLLM{Prefix: prefix}
}

func (d *DummyLLM) Chat(_ context.Context, messages []Message) (Completion, error) {
	var prompt strings.Builder
	for _, m := range messages {
		prompt.WriteString(m.Content)
		prompt.WriteByte('\n')
	}

	var last string
	if len(messages) > 0 {
		lines := strings.Split(messages[len(messages)-1].Content, "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			candidate := strings.TrimSpace(lines[i])
			if candidate != "" {
				last = candidate
				break
			}
		}
	}
	if last == "" {
		last = "<empty prompt>"
	}
	text := fmt.Sprintf("%s %s", d.Prefix, last)

	in, out := len(strings.Fields(prompt.String())), len(strings.Fields(text))
	return Completion{
		Text:  text,
		Model: "dummy",
		Usage: Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

var _ ChatModel = (*DummyLLM)(nil)
