package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/pkg/observability"
)

// CachedProvider adds write-through caching keyed on model and text.
// A hit never reaches the inner provider; misses are embedded and stored.
type CachedProvider struct {
	inner  Provider
	cache  cache.Cache
	ttl    time.Duration
	logger observability.Logger
}

// NewCachedProvider wraps inner with a cache. TTL zero means no expiry.
func NewCachedProvider(inner Provider, c cache.Cache, ttl time.Duration, logger observability.Logger) *CachedProvider {
	return &CachedProvider{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func (p *CachedProvider) Model() string   { return p.inner.Model() }
func (p *CachedProvider) Dimensions() int { return p.inner.Dimensions() }

// Health forwards the inner provider's status when it reports one
func (p *CachedProvider) Health() string {
	if h, ok := p.inner.(interface{ Health() string }); ok {
		return h.Health()
	}
	return "healthy"
}

// Embed returns the cached vector when present, embedding otherwise
func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch serves cached vectors and embeds only the misses in one
// inner call, preserving input order.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := cache.EmbedKey(p.inner.Model(), text)
		var vector []float32
		err := p.cache.Get(ctx, key, &vector)
		if err == nil {
			result[i] = vector
			continue
		}
		if !errors.Is(err, cache.ErrNotFound) {
			// A degraded cache must not fail embedding
			p.logger.Warn("Embedding cache read failed", map[string]interface{}{"error": err.Error()})
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	vectors, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		result[i] = vectors[j]
		key := cache.EmbedKey(p.inner.Model(), texts[i])
		if err := p.cache.Set(ctx, key, vectors[j], p.ttl); err != nil {
			p.logger.Warn("Embedding cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return result, nil
}
