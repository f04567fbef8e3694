// Package activity holds the side-effecting building blocks workflows
// orchestrate. Activities exchange JSON payloads so histories stay
// replayable; the Typed helper hides the codec from implementations.
package activity

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/agentflow/agentflow/internal/errkind"
)

// Handler executes one activity attempt
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// DefaultStartToClose caps a single activity attempt when the
// registration does not set its own timeout
const DefaultStartToClose = 5 * time.Minute

// Options bound an activity's execution
type Options struct {
	// StartToCloseTimeout limits one attempt. Expiry surfaces as a
	// retryable timeout to the worker's retry policy.
	StartToCloseTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.StartToCloseTimeout <= 0 {
		o.StartToCloseTimeout = DefaultStartToClose
	}
	return o
}

type registration struct {
	handler Handler
	opts    Options
}

// Registry maps activity names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]registration)}
}

// Register adds a handler under a name with default options.
// Re-registering a name panics; that is always a wiring bug.
func (r *Registry) Register(name string, h Handler) {
	r.RegisterWithOptions(name, h, Options{})
}

// RegisterWithOptions adds a handler with explicit execution options
func (r *Registry) RegisterWithOptions(name string, h Handler, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		panic("activity already registered: " + name)
	}
	r.handlers[name] = registration{handler: h, opts: opts.withDefaults()}
}

// Get returns the handler for a name
func (r *Registry) Get(name string) (Handler, error) {
	h, _, err := r.Lookup(name)
	return h, err
}

// Lookup returns the handler and its options
func (r *Registry) Lookup(name string) (Handler, Options, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[name]
	if !ok {
		return nil, Options{}, errkind.Newf(errkind.NotFound, "activity.Get", "unknown activity %s", name)
	}
	return reg.handler, reg.opts, nil
}

// Names returns registered activity names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Typed adapts a strongly typed function into a Handler. Input decoding
// failures are schema violations, never retried.
func Typed[I, O any](fn func(ctx context.Context, input I) (O, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var input I
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, errkind.Wrap(errkind.SchemaViolation, "activity.Typed", err)
			}
		}
		output, err := fn(ctx, input)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(output)
		if err != nil {
			return nil, errkind.Wrap(errkind.Internal, "activity.Typed", err)
		}
		return encoded, nil
	}
}
