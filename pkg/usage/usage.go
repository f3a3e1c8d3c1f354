// Package usage accumulates token and cost counters for every model call made
// during a session.
package usage

import (
	"fmt"
	"sync"
)

// Counters is an additive usage record.
type Counters struct {
	TotalTokens        int     `json:"total_tokens"`
	PromptTokens       int     `json:"prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	TotalCost          float64 `json:"total_cost"`
	SuccessfulRequests int     `json:"successful_requests"`
}

// Plus returns the field-wise sum of c and o.
func (c Counters) Plus(o Counters) Counters {
	return Counters{
		TotalTokens:        c.TotalTokens + o.TotalTokens,
		PromptTokens:       c.PromptTokens + o.PromptTokens,
		CompletionTokens:   c.CompletionTokens + o.CompletionTokens,
		TotalCost:          c.TotalCost + o.TotalCost,
		SuccessfulRequests: c.SuccessfulRequests + o.SuccessfulRequests,
	}
}

func (c Counters) String() string {
	return fmt.Sprintf("Tokens Used: %d\n\tPrompt Tokens: %d\n\tCompletion Tokens: %d\nSuccessful Requests: %d\nTotal Cost (USD): $%.6f",
		c.TotalTokens, c.PromptTokens, c.CompletionTokens, c.SuccessfulRequests, c.TotalCost)
}

// Accountant holds the running totals. The zero value is ready to use and it
// is safe for concurrent callers.
type Accountant struct {
	mu      sync.Mutex
	totals  Counters
	pricing Pricing
}

// NewAccountant returns an accountant that prices calls with p. A nil table
// falls back to DefaultPricing.
func NewAccountant(p Pricing) *Accountant {
	return &Accountant{pricing: p}
}

// Add folds delta into the running totals.
func (a *Accountant) Add(delta Counters) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.totals = a.totals.Plus(delta)
	a.mu.Unlock()
}

// Record prices one successful call to model and adds it to the totals. The
// total token count is derived when the provider does not report one.
func (a *Accountant) Record(model string, promptTokens, completionTokens, totalTokens int) Counters {
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	delta := Counters{
		TotalTokens:        totalTokens,
		PromptTokens:       promptTokens,
		CompletionTokens:   completionTokens,
		SuccessfulRequests: 1,
	}
	if a == nil {
		return delta
	}
	delta.TotalCost = a.prices().Cost(model, promptTokens, completionTokens)
	a.Add(delta)
	return delta
}

// Totals returns a snapshot of the accumulated counters.
func (a *Accountant) Totals() Counters {
	if a == nil {
		return Counters{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totals
}

func (a *Accountant) prices() Pricing {
	if a.pricing == nil {
		return DefaultPricing
	}
	return a.pricing
}
