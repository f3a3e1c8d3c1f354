// Package memory keeps the running conversation and the natural-language
// summary of it that is fed back into every prompt.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Protocol-Lattice/repochat/pkg/models"
)

// Summary strategies.
const (
	// StrategyFull resubmits every turn on each refresh.
	StrategyFull = "full"
	// StrategyIncremental folds only the turns not yet summarised into the
	// current summary.
	StrategyIncremental = "incremental"
)

// Turn is one answered question.
type Turn struct {
	Question string
	Answer   string
}

// Options tunes a ConversationMemory.
type Options struct {
	Strategy string
	// Timeout bounds one summarisation call. Zero means no extra bound.
	Timeout time.Duration
}

// ConversationMemory records turns and maintains their summary.
type ConversationMemory struct {
	mu         sync.Mutex
	model      models.ChatModel
	opts       Options
	turns      []Turn
	summary    string
	summarized int
	logger     *log.Logger
}

// Option configures a ConversationMemory.
type Option func(*ConversationMemory)

// WithLogger overrides the memory logger.
func WithLogger(l *log.Logger) Option {
	return func(m *ConversationMemory) {
		if l == nil {
			l = log.New(io.Discard, "", 0)
		}
		m.logger = l
	}
}

// New returns an empty memory that summarises with model.
func New(model models.ChatModel, opts Options, options ...Option) (*ConversationMemory, error) {
	if model == nil {
		return nil, errors.New("memory: summarizer model is required")
	}
	switch strings.ToLower(opts.Strategy) {
	case "":
		opts.Strategy = StrategyFull
	case StrategyFull, StrategyIncremental:
		opts.Strategy = strings.ToLower(opts.Strategy)
	default:
		return nil, fmt.Errorf("memory: unknown strategy %q", opts.Strategy)
	}
	m := &ConversationMemory{
		model:  model,
		opts:   opts,
		logger: log.New(os.Stderr, "memory: ", log.LstdFlags),
	}
	for _, o := range options {
		o(m)
	}
	return m, nil
}

// Append records turn and regenerates the summary. The turn is kept even when
// the refresh fails; the next Append (or Refresh) summarises it.
func (m *ConversationMemory) Append(ctx context.Context, turn Turn) error {
	m.mu.Lock()
	m.turns = append(m.turns, turn)
	m.mu.Unlock()
	return m.Refresh(ctx)
}

// Refresh regenerates the summary from the turns recorded so far.
func (m *ConversationMemory) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.summarized == len(m.turns) {
		return nil
	}

	prompt := m.summaryInputLocked()
	if m.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Timeout)
		defer cancel()
	}
	resp, err := m.model.Chat(ctx, []models.Message{models.User(prompt)})
	if err != nil {
		return fmt.Errorf("summarize conversation: %w", err)
	}
	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return fmt.Errorf("summarize conversation: %w", models.ErrEmptyResponse)
	}
	m.summary = summary
	m.summarized = len(m.turns)
	m.logger.Printf("summary refreshed over %d turns", m.summarized)
	return nil
}

// Summary returns the current digest of the conversation.
func (m *ConversationMemory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}

// Turns returns a copy of the recorded turns.
func (m *ConversationMemory) Turns() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Turn(nil), m.turns...)
}

// Pending reports how many turns the summary does not cover yet.
func (m *ConversationMemory) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns) - m.summarized
}

// SummaryInput returns the prompt the next refresh would send.
func (m *ConversationMemory) SummaryInput() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summaryInputLocked()
}

func (m *ConversationMemory) summaryInputLocked() string {
	if m.opts.Strategy == StrategyIncremental {
		return SummaryPrompt(m.summary, m.turns[m.summarized:])
	}
	return SummaryPrompt("", m.turns)
}
