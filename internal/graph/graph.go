// Package graph is a small reasoning-graph runtime. A graph is a set of
// named nodes wired by plain or conditional edges; execution threads a
// state map from the entry node until End is reached.
package graph

import (
	"context"
	"fmt"

	"github.com/agentflow/agentflow/internal/errkind"
)

// End is the terminal pseudo-node
const End = "__end__"

// Runtime-managed state fields. The runner appends each node's name to
// KeySteps after the node returns; nodes append to KeyWarnings when they
// degrade without failing. Both are append-only.
const (
	KeySteps    = "steps_completed"
	KeyWarnings = "warnings"
)

// State is the mutable data threaded through a graph run
type State map[string]interface{}

// Clone returns a shallow copy so a node cannot mutate its caller's view
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// GetString reads a string field, empty when absent or mistyped
func (s State) GetString(key string) string {
	v, _ := s[key].(string)
	return v
}

// GetFloat reads a numeric field, handling the types JSON decoding produces
func (s State) GetFloat(key string) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// GetBool reads a boolean field, false when absent
func (s State) GetBool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// GetStrings reads a string-slice field, nil when absent
func (s State) GetStrings(key string) []string {
	v, _ := s[key].([]string)
	return v
}

// Steps returns the node names completed so far, in execution order
func (s State) Steps() []string { return s.GetStrings(KeySteps) }

// Warnings returns the non-fatal degradations recorded so far
func (s State) Warnings() []string { return s.GetStrings(KeyWarnings) }

// AddWarning records a non-fatal degradation without failing the run
func (s State) AddWarning(msg string) {
	s[KeyWarnings] = append(s.Warnings(), msg)
}

// NodeFunc transforms the state. It receives a private copy and returns
// the state to carry forward.
type NodeFunc func(ctx context.Context, state State) (State, error)

// RouterFunc picks the label of the outgoing conditional edge
type RouterFunc func(state State) string

type node struct {
	name string
	fn   NodeFunc

	// exactly one of next / router is set after compilation
	next    string
	router  RouterFunc
	targets map[string]string // router label -> node name
}

// Graph is a compiled, immutable reasoning graph
type Graph struct {
	name  string
	entry string
	nodes map[string]*node
}

// Name returns the graph's name
func (g *Graph) Name() string { return g.name }

// Builder assembles a graph. Compile validates the wiring.
type Builder struct {
	name    string
	entry   string
	nodes   map[string]*node
	errs    []error
}

// NewBuilder starts a graph definition
func NewBuilder(name string) *Builder {
	return &Builder{name: name, nodes: make(map[string]*node)}
}

// AddNode registers a named node
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	if name == "" || name == End {
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", name))
		return b
	}
	if _, exists := b.nodes[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("duplicate node %q", name))
		return b
	}
	if fn == nil {
		b.errs = append(b.errs, fmt.Errorf("node %q has nil function", name))
		return b
	}
	b.nodes[name] = &node{name: name, fn: fn}
	return b
}

// SetEntry names the node execution starts at
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge wires an unconditional edge from one node to another (or End)
func (b *Builder) AddEdge(from, to string) *Builder {
	n, ok := b.nodes[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("edge from unknown node %q", from))
		return b
	}
	if n.next != "" || n.router != nil {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	n.next = to
	return b
}

// AddConditionalEdges wires a router whose label selects the next node.
// Every label a router can return must appear in targets.
func (b *Builder) AddConditionalEdges(from string, router RouterFunc, targets map[string]string) *Builder {
	n, ok := b.nodes[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from unknown node %q", from))
		return b
	}
	if n.next != "" || n.router != nil {
		b.errs = append(b.errs, fmt.Errorf("node %q already has an outgoing edge", from))
		return b
	}
	if router == nil || len(targets) == 0 {
		b.errs = append(b.errs, fmt.Errorf("node %q conditional edge needs a router and targets", from))
		return b
	}
	n.router = router
	n.targets = targets
	return b
}

// Compile validates the graph: a known entry, edges to known nodes, every
// node with an out-path, and no node unreachable from the entry.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errkind.Wrap(errkind.SchemaViolation, "graph.Compile", b.errs[0])
	}
	if b.entry == "" {
		return nil, errkind.Newf(errkind.SchemaViolation, "graph.Compile", "graph %s has no entry node", b.name)
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, errkind.Newf(errkind.SchemaViolation, "graph.Compile", "entry node %q does not exist", b.entry)
	}

	for _, n := range b.nodes {
		if n.next == "" && n.router == nil {
			return nil, errkind.Newf(errkind.SchemaViolation, "graph.Compile", "node %q has no outgoing edge", n.name)
		}
		if n.next != "" && n.next != End {
			if _, ok := b.nodes[n.next]; !ok {
				return nil, errkind.Newf(errkind.SchemaViolation, "graph.Compile",
					"node %q points to unknown node %q", n.name, n.next)
			}
		}
		for label, target := range n.targets {
			if target == End {
				continue
			}
			if _, ok := b.nodes[target]; !ok {
				return nil, errkind.Newf(errkind.SchemaViolation, "graph.Compile",
					"node %q label %q points to unknown node %q", n.name, label, target)
			}
		}
	}

	reachable := map[string]bool{}
	stack := []string{b.entry}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if name == End || reachable[name] {
			continue
		}
		reachable[name] = true
		n := b.nodes[name]
		if n.next != "" {
			stack = append(stack, n.next)
		}
		for _, target := range n.targets {
			stack = append(stack, target)
		}
	}
	for name := range b.nodes {
		if !reachable[name] {
			return nil, errkind.Newf(errkind.SchemaViolation, "graph.Compile", "node %q is unreachable", name)
		}
	}

	return &Graph{name: b.name, entry: b.entry, nodes: b.nodes}, nil
}
