// Package retry provides retry policies for activities and external calls.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/agentflow/agentflow/internal/errkind"
)

// Policy defines the retry policy interface
type Policy interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
	NextDelay(attempt int) time.Duration
}

// Config contains retry configuration
type Config struct {
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	Multiplier        float64
	MaxAttempts       int
	NonRetryableKinds []errkind.Kind
}

// DefaultConfig matches the platform default activity policy:
// 1s initial, 2x backoff, 60s cap, 3 attempts.
func DefaultConfig() Config {
	return Config{
		InitialInterval: time.Second,
		MaxInterval:     60 * time.Second,
		Multiplier:      2.0,
		MaxAttempts:     3,
	}
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	config Config
}

// NewExponentialBackoff creates a new exponential backoff retry policy
func NewExponentialBackoff(config Config) Policy {
	if config.InitialInterval <= 0 {
		config.InitialInterval = time.Second
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 60 * time.Second
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &ExponentialBackoff{config: config}
}

// Execute runs fn until it succeeds, returns a non-retryable error kind,
// or the attempt budget is exhausted.
func (e *ExponentialBackoff) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		attempt++
		if attempt >= e.config.MaxAttempts {
			return err
		}
		if !e.retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-time.After(e.NextDelay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *ExponentialBackoff) retryable(err error) bool {
	kind := errkind.KindOf(err)
	for _, k := range e.config.NonRetryableKinds {
		if kind == k {
			return false
		}
	}
	return kind.Retryable()
}

// NextDelay calculates the next delay with ±20% jitter
func (e *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	delay := float64(e.config.InitialInterval) * math.Pow(e.config.Multiplier, float64(attempt-1))
	if delay > float64(e.config.MaxInterval) {
		delay = float64(e.config.MaxInterval)
	}
	jitter := delay * 0.2 * (rand.Float64()*2 - 1)
	return time.Duration(delay + jitter)
}

// FixedDelay implements fixed delay retry
type FixedDelay struct {
	delay       time.Duration
	maxAttempts int
}

// NewFixedDelay creates a new fixed delay retry policy
func NewFixedDelay(delay time.Duration, maxAttempts int) Policy {
	return &FixedDelay{delay: delay, maxAttempts: maxAttempts}
}

// Execute runs fn up to maxAttempts times with a fixed delay between tries
func (f *FixedDelay) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		attempt++
		if f.maxAttempts > 0 && attempt >= f.maxAttempts {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NextDelay returns the fixed delay
func (f *FixedDelay) NextDelay(attempt int) time.Duration { return f.delay }
