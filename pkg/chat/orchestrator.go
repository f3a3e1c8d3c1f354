// Package chat answers questions about the indexed repository by combining
// retrieved code, the conversation summary and a chat model.
package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Protocol-Lattice/repochat/pkg/index"
	"github.com/Protocol-Lattice/repochat/pkg/memory"
	"github.com/Protocol-Lattice/repochat/pkg/models"
)

// Retriever returns the chunks relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]index.Hit, error)
}

// Memory supplies the conversation summary and records answered turns.
type Memory interface {
	Summary() string
	Append(ctx context.Context, turn memory.Turn) error
}

// Options tunes an Orchestrator.
type Options struct {
	SystemPrompt string
	// Condense rephrases follow up questions into standalone ones before
	// retrieval once the conversation has a summary.
	Condense bool
	// Timeout bounds each chat call. Zero means no extra bound.
	Timeout time.Duration
}

// DefaultOptions condenses follow ups and allows two minutes per call.
func DefaultOptions() Options {
	return Options{SystemPrompt: DefaultSystemPrompt, Condense: true, Timeout: 2 * time.Minute}
}

// Source identifies a chunk an answer was grounded on.
type Source struct {
	Path    string
	ChunkID string
	Score   float64
}

// Answer is the outcome of one question.
type Answer struct {
	Text string
	// Standalone is the question used for retrieval.
	Standalone string
	Sources    []Source
}

// Orchestrator runs one question through retrieval, the chat model and memory.
type Orchestrator struct {
	model     models.ChatModel
	condenser models.ChatModel
	retriever Retriever
	memory    Memory
	opts      Options
	logger    *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger overrides the orchestrator's logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l == nil {
			l = log.New(io.Discard, "", 0)
		}
		o.logger = l
	}
}

// WithCondenser uses m instead of the answering model to rephrase follow ups.
func WithCondenser(m models.ChatModel) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.condenser = m
		}
	}
}

// New wires the collaborators. mem may be nil for a stateless orchestrator.
func New(model models.ChatModel, retriever Retriever, mem Memory, opts Options, options ...Option) (*Orchestrator, error) {
	if model == nil {
		return nil, errors.New("chat: model is required")
	}
	if retriever == nil {
		return nil, errors.New("chat: retriever is required")
	}
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		opts.SystemPrompt = DefaultSystemPrompt
	}
	o := &Orchestrator{
		model:     model,
		condenser: model,
		retriever: retriever,
		memory:    mem,
		opts:      opts,
		logger:    log.New(os.Stderr, "chat: ", log.LstdFlags),
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Ask answers question. Retrieval and completion failures are returned as
// *AnswerError. A failed summary refresh is logged and the answer is still
// returned.
func (o *Orchestrator) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, &AnswerError{Stage: StageValidate, Err: ErrEmptyQuestion}
	}

	summary := ""
	if o.memory != nil {
		summary = o.memory.Summary()
	}

	standalone := question
	if o.opts.Condense && strings.TrimSpace(summary) != "" {
		c, err := o.complete(ctx, o.condenser, []models.Message{models.User(CondensePrompt(summary, question))})
		if err != nil {
			return Answer{}, &AnswerError{Stage: StageCondense, Err: err}
		}
		standalone = c
		o.logger.Printf("standalone question: %q", standalone)
	}

	hits, err := o.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return Answer{}, &AnswerError{Stage: StageRetrieve, Err: err}
	}

	text, err := o.complete(ctx, o.model, BuildMessages(o.opts.SystemPrompt, summary, hits, question))
	if err != nil {
		return Answer{}, &AnswerError{Stage: StageComplete, Err: err}
	}

	if o.memory != nil {
		if err := o.memory.Append(ctx, memory.Turn{Question: question, Answer: text}); err != nil {
			o.logger.Printf("summary refresh failed, will retry next turn: %v", err)
		}
	}

	ans := Answer{Text: text, Standalone: standalone, Sources: make([]Source, 0, len(hits))}
	for _, h := range hits {
		ans.Sources = append(ans.Sources, Source{Path: h.Chunk.SourcePath, ChunkID: h.ID, Score: h.Score})
	}
	return ans, nil
}

func (o *Orchestrator) complete(ctx context.Context, m models.ChatModel, msgs []models.Message) (string, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	resp, err := m.Chat(ctx, msgs)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", models.ErrEmptyResponse
	}
	return text, nil
}
