package usage

import (
	"sort"
	"strings"
)

// Price is the USD cost per 1K tokens.
type Price struct {
	Prompt     float64 `yaml:"prompt"`
	Completion float64 `yaml:"completion"`
}

// Pricing maps model names to prices. Lookups fall back to the longest
// registered prefix so dated snapshots ("gpt-4o-2024-08-06") resolve to their
// family.
type Pricing map[string]Price

// DefaultPricing covers the hosted models the CLI ships presets for. Unknown
// models cost nothing; tokens are still counted.
var DefaultPricing = Pricing{
	"gpt-4o-mini":            {Prompt: 0.00015, Completion: 0.0006},
	"gpt-4o":                 {Prompt: 0.0025, Completion: 0.01},
	"gpt-4.1-nano":           {Prompt: 0.0001, Completion: 0.0004},
	"gpt-4.1-mini":           {Prompt: 0.0004, Completion: 0.0016},
	"gpt-4.1":                {Prompt: 0.002, Completion: 0.008},
	"gpt-4-turbo":            {Prompt: 0.01, Completion: 0.03},
	"gpt-4-32k":              {Prompt: 0.06, Completion: 0.12},
	"gpt-4":                  {Prompt: 0.03, Completion: 0.06},
	"gpt-3.5-turbo-16k":      {Prompt: 0.003, Completion: 0.004},
	"gpt-3.5-turbo":          {Prompt: 0.0005, Completion: 0.0015},
	"text-embedding-3-small": {Prompt: 0.00002},
	"text-embedding-3-large": {Prompt: 0.00013},
	"text-embedding-ada-002": {Prompt: 0.0001},
	"claude-3-5-haiku":       {Prompt: 0.0008, Completion: 0.004},
	"claude-3-5-sonnet":      {Prompt: 0.003, Completion: 0.015},
	"claude-3-7-sonnet":      {Prompt: 0.003, Completion: 0.015},
	"claude-sonnet-4":        {Prompt: 0.003, Completion: 0.015},
	"claude-3-opus":          {Prompt: 0.015, Completion: 0.075},
	"gemini-1.5-flash":       {Prompt: 0.000075, Completion: 0.0003},
	"gemini-1.5-pro":         {Prompt: 0.00125, Completion: 0.005},
	"gemini-2.0-flash":       {Prompt: 0.0001, Completion: 0.0004},
}

// Merge returns a copy of p with overrides applied on top.
func (p Pricing) Merge(overrides Pricing) Pricing {
	out := make(Pricing, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// Lookup resolves the price for model.
func (p Pricing) Lookup(model string) (Price, bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	name = strings.TrimPrefix(name, "models/")
	if name == "" {
		return Price{}, false
	}
	if price, ok := p[name]; ok {
		return price, true
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if strings.HasPrefix(name, k) {
			return p[k], true
		}
	}
	return Price{}, false
}

// Cost prices a single call.
func (p Pricing) Cost(model string, promptTokens, completionTokens int) float64 {
	price, ok := p.Lookup(model)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*price.Prompt + float64(completionTokens)/1000*price.Completion
}
