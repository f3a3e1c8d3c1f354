package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestNewDummyLLMDefaultPrefix(t *testing.T) {
	llm := NewDummyLLM("")
	resp, err := llm.Chat(context.Background(), []Message{User("line1\nline2")})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "Dummy response: line2" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
}

func TestNewDummyLLMUsesLastNonEmptyLine(t *testing.T) {
	llm := NewDummyLLM("Prefix:")
	resp, err := llm.Chat(context.Background(), []Message{
		System("ignored"),
		User("first\n\nsecond\n  \nthird"),
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "Prefix: third" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
	if resp.Usage.TotalTokens != resp.Usage.PromptTokens+resp.Usage.CompletionTokens {
		t.Fatalf("inconsistent usage: %+v", resp.Usage)
	}
}

func TestNewLLMProviderErrorsOnUnknownProvider(t *testing.T) {
	if _, err := NewLLMProvider(context.Background(), "unknown", "model", Settings{}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}

func TestDummyLLMHandlesEmptyPrompt(t *testing.T) {
	llm := NewDummyLLM("Prefix")
	resp, err := llm.Chat(context.Background(), []Message{User("\n\n\n")})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "Prefix <empty prompt>" {
		t.Fatalf("unexpected response: %q", resp.Text)
	}
}

func TestSplitSystemMergesSystemMessages(t *testing.T) {
	sys, rest := splitSystem([]Message{System("prefix"), User("q"), System("rules"), Assistant("a")})
	if sys != "prefix\n\nrules" {
		t.Fatalf("unexpected system text: %q", sys)
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Fatalf("unexpected remaining messages: %+v", rest)
	}
}

func TestOpenAILLMReportsUsage(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Model: "gpt-4o-mini-2024-07-18",
			Choices: []openai.ChatCompletionChoice{{
				Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hello"},
			}},
			Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"
	llm := NewOpenAILLMWithConfig(cfg, "gpt-4o-mini")

	resp, err := llm.Chat(context.Background(), []Message{System("be brief"), User("hi")})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "hello" || resp.Model != "gpt-4o-mini-2024-07-18" {
		t.Fatalf("unexpected completion: %+v", resp)
	}
	if resp.Usage != (Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}) {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("unexpected request messages: %+v", got.Messages)
	}
}

func TestOpenAILLMEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test")
	cfg.BaseURL = srv.URL + "/v1"
	if _, err := NewOpenAILLMWithConfig(cfg, "gpt-4o-mini").Chat(context.Background(), []Message{User("hi")}); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestNewLLMProviderAppliesTemperature(t *testing.T) {
	temp := float32(0.2)
	m, err := NewLLMProvider(context.Background(), "openai", "gpt-4o-mini", Settings{Temperature: &temp})
	if err != nil {
		t.Fatalf("NewLLMProvider: %v", err)
	}
	o, ok := m.(*OpenAILLM)
	if !ok || o.Temperature == nil || *o.Temperature != temp {
		t.Fatalf("temperature not applied: %+v", m)
	}

	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
	m, err = NewLLMProvider(context.Background(), "ollama", "llama3", Settings{})
	if err != nil {
		t.Fatalf("NewLLMProvider: %v", err)
	}
	if m.(*OllamaLLM).Temperature != nil {
		t.Fatalf("unset temperature should stay nil")
	}
}

func TestOpenAILLMSendsTemperature(t *testing.T) {
	cases := []struct {
		name string
		temp *float32
		want func(float32) bool
	}{
		{"provider default", nil, func(v float32) bool { return v == 0 }},
		{"explicit", ptr(float32(0.7)), func(v float32) bool { return v == 0.7 }},
		{"zero is kept", ptr(float32(0)), func(v float32) bool { return v > 0 && v < 1e-30 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got openai.ChatCompletionRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
			}))
			defer srv.Close()

			cfg := openai.DefaultConfig("test")
			cfg.BaseURL = srv.URL + "/v1"
			llm := NewOpenAILLMWithConfig(cfg, "gpt-4o-mini")
			llm.Temperature = tc.temp
			if _, err := llm.Chat(context.Background(), []Message{User("hi")}); err != nil {
				t.Fatalf("Chat returned error: %v", err)
			}
			if !tc.want(got.Temperature) {
				t.Fatalf("unexpected temperature %v", got.Temperature)
			}
		})
	}
}

func TestOllamaLLMSendsTemperature(t *testing.T) {
	var options map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Options map[string]any `json:"options"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		options = req.Options
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"hi"},"done":true,"prompt_eval_count":4,"eval_count":2}`))
	}))
	defer srv.Close()

	t.Setenv("OLLAMA_HOST", srv.URL)
	llm, err := NewOllamaLLM("llama3")
	if err != nil {
		t.Fatalf("NewOllamaLLM: %v", err)
	}
	llm.Temperature = ptr(float32(0.5))
	resp, err := llm.Chat(context.Background(), []Message{User("hello")})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "hi" || resp.Usage.TotalTokens != 6 {
		t.Fatalf("unexpected completion: %+v", resp)
	}
	if options["temperature"] != 0.5 {
		t.Fatalf("unexpected options: %v", options)
	}
}

func ptr[T any](v T) *T { return &v }
