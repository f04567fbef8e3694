package eval

import (
	"sync"
)

// Price table in USD. Prompt and completion prices are per 1K tokens,
// embeddings per 1M tokens, matching how the providers publish them.
const (
	promptPricePer1K         = 0.0025
	completionPricePer1K     = 0.01
	embeddingPricePerMillion = 0.02
)

// Usage counts the tokens one case consumed, split by class
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	EmbeddingTokens  int `json:"embedding_tokens"`
}

// USD prices the usage against the declared table
func (u Usage) USD() float64 {
	return float64(u.PromptTokens)/1_000*promptPricePer1K +
		float64(u.CompletionTokens)/1_000*completionPricePer1K +
		float64(u.EmbeddingTokens)/1_000_000*embeddingPricePerMillion
}

func (u *Usage) add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.EmbeddingTokens += other.EmbeddingTokens
}

// CostTracker accumulates per-case token usage for a harness run
type CostTracker struct {
	mu      sync.Mutex
	total   Usage
	perCase map[string]float64
}

// CostSummary reports the accumulated usage and spend
type CostSummary struct {
	PromptTokens     int                `json:"prompt_tokens"`
	CompletionTokens int                `json:"completion_tokens"`
	EmbeddingTokens  int                `json:"embedding_tokens"`
	PerCaseUSD       map[string]float64 `json:"per_case_usd,omitempty"`
	TotalUSD         float64            `json:"total_usd"`
}

// NewCostTracker creates an empty tracker
func NewCostTracker() *CostTracker {
	return &CostTracker{perCase: make(map[string]float64)}
}

// Record adds one case's token usage
func (t *CostTracker) Record(caseID string, u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total.add(u)
	t.perCase[caseID] += u.USD()
}

// Summary returns the totals so far
func (t *CostTracker) Summary() CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	perCase := make(map[string]float64, len(t.perCase))
	for id, usd := range t.perCase {
		perCase[id] = usd
	}
	return CostSummary{
		PromptTokens:     t.total.PromptTokens,
		CompletionTokens: t.total.CompletionTokens,
		EmbeddingTokens:  t.total.EmbeddingTokens,
		PerCaseUSD:       perCase,
		TotalUSD:         t.total.USD(),
	}
}

// estimateTokens approximates the token count of texts with the same
// four-bytes-per-token rule the embedding layer uses.
func estimateTokens(texts ...string) int {
	total := 0
	for _, s := range texts {
		total += (len(s) + 3) / 4
	}
	return total
}
