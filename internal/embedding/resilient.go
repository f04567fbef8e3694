package embedding

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

// ResilientProvider wraps a Provider with a concurrency cap, a
// tokens-per-minute rate limiter and a circuit breaker. The breaker opens
// after repeated transient failures and recovers through half-open probes.
type ResilientProvider struct {
	inner    Provider
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	inflight chan struct{}
	logger   observability.Logger
}

// NewResilientProvider wraps inner with the resilience stack
func NewResilientProvider(inner Provider, cfg config.EmbeddingConfig, logger observability.Logger) *ResilientProvider {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 10
	}
	tpm := cfg.TokensPerMinute
	if tpm <= 0 {
		tpm = 1_000_000
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			// Schema errors are the caller's fault and must not trip the breaker
			return err == nil || !errkind.KindOf(err).Retryable()
		},
	})

	return &ResilientProvider{
		inner:    inner,
		breaker:  breaker,
		limiter:  rate.NewLimiter(rate.Limit(float64(tpm)/60.0), tpm/10),
		inflight: make(chan struct{}, maxInFlight),
		logger:   logger,
	}
}

func (p *ResilientProvider) Model() string   { return p.inner.Model() }
func (p *ResilientProvider) Dimensions() int { return p.inner.Dimensions() }

// Health reports the breaker state as a component status
func (p *ResilientProvider) Health() string {
	switch p.breaker.State() {
	case gobreaker.StateOpen:
		return "down"
	case gobreaker.StateHalfOpen:
		return "degraded"
	default:
		return "healthy"
	}
}

// Embed generates a single embedding through the resilience stack
func (p *ResilientProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings through the resilience stack
func (p *ResilientProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	tokens := 0
	for _, t := range texts {
		tokens += estimateTokens(t)
	}
	if err := p.waitTokens(ctx, tokens); err != nil {
		return nil, err
	}

	select {
	case p.inflight <- struct{}{}:
		defer func() { <-p.inflight }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.inner.EmbedBatch(ctx, texts)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errkind.Wrap(errkind.Transient, "embedding.EmbedBatch", err)
	}
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

// waitTokens blocks until the TPM budget admits the request. Requests
// larger than the limiter burst are admitted in slices.
func (p *ResilientProvider) waitTokens(ctx context.Context, tokens int) error {
	burst := p.limiter.Burst()
	for tokens > 0 {
		n := tokens
		if n > burst {
			n = burst
		}
		if err := p.limiter.WaitN(ctx, n); err != nil {
			return errkind.Wrap(errkind.RateLimited, "embedding.waitTokens", err)
		}
		tokens -= n
	}
	return nil
}
