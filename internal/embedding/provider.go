// Package embedding turns text into fixed-dimension vectors. The OpenAI
// provider is the production path; decorators add caching, rate limiting
// and circuit breaking around any Provider.
package embedding

import (
	"context"
	"unicode/utf8"
)

// Provider generates embeddings for text
type Provider interface {
	// Embed returns the vector for a single text
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the model identifier used for cache keying
	Model() string
	// Dimensions returns the vector width this provider produces
	Dimensions() int
}

// maxInputTokens is the provider's per-input token ceiling. Inputs over
// the limit are truncated, not rejected.
const maxInputTokens = 8191

// estimateTokens approximates the token count of a text. Four characters
// per token is the provider's published rule of thumb for English.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// truncateToTokenLimit trims a text to fit maxInputTokens without
// splitting a UTF-8 sequence. The second return reports whether
// anything was cut so callers can warn.
func truncateToTokenLimit(text string) (string, bool) {
	if estimateTokens(text) <= maxInputTokens {
		return text, false
	}
	limit := maxInputTokens * 4
	if limit >= len(text) {
		return text, false
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit], true
}
