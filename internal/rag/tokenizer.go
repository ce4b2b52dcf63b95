package rag

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter returns the number of tokens in text.
type TokenCounter func(text string) int

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// CountTokens counts text with the cl100k_base encoding. When the encoding
// cannot be loaded it falls back to one token per four bytes.
func CountTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, estimating tokens from length", "error", err)
			return
		}
		encoding = enc
	})
	if encoding == nil {
		return EstimateTokens(text)
	}
	return len(encoding.Encode(text, nil, nil))
}

// EstimateTokens approximates the token count as one token per four bytes, rounded up.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
