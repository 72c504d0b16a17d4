package compaction

import (
	"chatroute/internal/provider"
	"chatroute/internal/tokenizer"
)

const (
	// PerMessageOverhead covers role and separator tokens.
	PerMessageOverhead = 4
	// ReplyOverhead primes the assistant reply.
	ReplyOverhead = 3
)

// Stats describes how full the context window is. It is recomputed per
// request and never stored.
type Stats struct {
	Used          int     `json:"used"`
	Limit         int     `json:"limit"`
	Percentage    float64 `json:"percentage"`
	ShouldCompact bool    `json:"shouldCompact"`
	WasCompacted  bool    `json:"wasCompacted"`
	TokensFreed   int     `json:"tokensFreed,omitempty"`
}

// Calculator counts message tokens with a Tokenizer.
type Calculator struct {
	tok tokenizer.Tokenizer
}

// NewCalculator creates a Calculator. A nil tokenizer uses the heuristic.
func NewCalculator(tok tokenizer.Tokenizer) *Calculator {
	if tok == nil {
		tok = tokenizer.Heuristic{}
	}
	return &Calculator{tok: tok}
}

// Tokens counts text with the model's encoder.
func (c *Calculator) Tokens(model, text string) int {
	return c.tok.Count(model, text)
}

// Count returns the token footprint of messages plus the system prompt and
// reply overhead.
func (c *Calculator) Count(messages []provider.Message, systemPrompt, model string) int {
	used := ReplyOverhead
	if systemPrompt != "" {
		used += PerMessageOverhead + c.tok.Count(model, systemPrompt)
	}
	for _, m := range messages {
		used += PerMessageOverhead + c.tok.Count(model, m.Text())
	}
	return used
}

// Stats computes ContextStats for messages under policy.
func (c *Calculator) Stats(messages []provider.Message, systemPrompt, model string, policy ContextManagementPolicy) Stats {
	policy = policy.Normalize()
	used := c.Count(messages, systemPrompt, model)
	return c.statsFor(used, policy)
}

func (c *Calculator) statsFor(used int, policy ContextManagementPolicy) Stats {
	pct := float64(used) / float64(policy.MaxContextTokens)
	return Stats{
		Used:          used,
		Limit:         policy.MaxContextTokens,
		Percentage:    pct,
		ShouldCompact: policy.Mode != ModeOff && pct >= policy.Threshold(),
	}
}
