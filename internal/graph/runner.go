package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

// maxSteps guards against routing cycles
const maxSteps = 100

// Runner executes compiled graphs with tracing and metrics
type Runner struct {
	logger observability.Logger
}

// NewRunner creates a graph runner
func NewRunner(logger observability.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the graph from its entry node until End. The returned
// state is the last node's output. A router label with no target, a node
// error or exceeding the step guard aborts the run.
func (r *Runner) Run(ctx context.Context, g *Graph, initial State) (State, error) {
	ctx, span := observability.StartSpan(ctx, "graph.run", attribute.String("graph", g.name))
	defer span.End()
	start := time.Now()

	state := initial.Clone()
	current := g.entry

	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			r.finish(g, start, "cancelled")
			return state, errkind.Wrap(errkind.Cancelled, "graph.Run", err)
		}
		if step >= maxSteps {
			r.finish(g, start, "error")
			return state, errkind.Newf(errkind.Internal, "graph.Run",
				"graph %s exceeded %d steps, likely a routing cycle", g.name, maxSteps)
		}

		n := g.nodes[current]
		nodeStart := time.Now()
		next, err := n.fn(ctx, state.Clone())
		if err != nil {
			r.logger.Error("Graph node failed", map[string]interface{}{
				"graph": g.name,
				"node":  current,
				"error": err.Error(),
			})
			r.finish(g, start, "error")
			return state, err
		}
		state = next
		state[KeySteps] = append(state.Steps(), current)
		r.logger.Debug("Graph node completed", map[string]interface{}{
			"graph":    g.name,
			"node":     current,
			"duration": time.Since(nodeStart).String(),
		})

		if n.router != nil {
			label := n.router(state)
			target, ok := n.targets[label]
			if !ok {
				r.finish(g, start, "error")
				return state, errkind.Newf(errkind.Internal, "graph.Run",
					"node %q router returned unmapped label %q", current, label)
			}
			current = target
		} else {
			current = n.next
		}

		if current == End {
			r.finish(g, start, "success")
			return state, nil
		}
	}
}

func (r *Runner) finish(g *Graph, start time.Time, status string) {
	observability.GraphRuns.WithLabelValues(g.name, status).Inc()
	observability.GraphRunDuration.WithLabelValues(g.name).Observe(time.Since(start).Seconds())
}
