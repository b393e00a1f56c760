package service

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt sizes for context truncation. It uses
// the cl100k_base encoding when available and falls back to a bytes/4
// heuristic, so the builder keeps working without encoding files.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a lazy counter; the encoding loads on first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the estimated token count of s.
func (c *TokenCounter) Count(s string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc != nil {
		return len(c.enc.Encode(s, nil, nil))
	}
	return estimateTokens(s)
}

// CountMessages sums message contents plus a small per-message framing
// overhead.
func (c *TokenCounter) CountMessages(msgs []PromptMessage) int {
	total := 0
	for _, m := range msgs {
		total += c.Count(m.Content) + 4
	}
	return total
}

// estimateTokens approximates ~4 bytes per token, minimum 1 for
// non-empty input.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}
