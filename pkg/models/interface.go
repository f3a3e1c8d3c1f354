package models

import (
	"context"
	"errors"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role    Role
	Content string
}

// Usage is the provider-reported token count of a single call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completion is the result of a chat call.
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// ChatModel is a hosted (or local) chat-completion backend.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (Completion, error)
}

// ErrEmptyResponse is returned when a provider answers without any candidate.
var ErrEmptyResponse = errors.New("models: empty response")

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// splitSystem separates the system instructions from the conversational
// messages. Providers with a dedicated system slot use it.
func splitSystem(messages []Message) (string, []Message) {
	var sys []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if c := strings.TrimSpace(m.Content); c != "" {
				sys = append(sys, c)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}
