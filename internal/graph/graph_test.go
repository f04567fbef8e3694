package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

func appendNode(key string) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		state[key] = true
		return state, nil
	}
}

func TestBuilderCompileValidation(t *testing.T) {
	noop := appendNode("x")

	_, err := NewBuilder("g").AddNode("a", noop).AddEdge("a", End).Compile()
	assert.Error(t, err, "missing entry")

	_, err = NewBuilder("g").AddNode("a", noop).AddEdge("a", End).SetEntry("nope").Compile()
	assert.Error(t, err, "unknown entry")

	_, err = NewBuilder("g").AddNode("a", noop).SetEntry("a").Compile()
	assert.Error(t, err, "node without outgoing edge")

	_, err = NewBuilder("g").AddNode("a", noop).SetEntry("a").AddEdge("a", "ghost").Compile()
	assert.Error(t, err, "edge to unknown node")

	_, err = NewBuilder("g").
		AddNode("a", noop).AddNode("a", noop).
		SetEntry("a").AddEdge("a", End).Compile()
	assert.Error(t, err, "duplicate node")

	_, err = NewBuilder("g").
		AddNode("a", noop).AddNode("orphan", noop).
		SetEntry("a").AddEdge("a", End).AddEdge("orphan", End).Compile()
	assert.Error(t, err, "unreachable node")

	_, err = NewBuilder("g").
		AddNode("a", noop).SetEntry("a").
		AddEdge("a", End).AddEdge("a", End).Compile()
	assert.Error(t, err, "double outgoing edge")

	g, err := NewBuilder("g").AddNode("a", noop).SetEntry("a").AddEdge("a", End).Compile()
	require.NoError(t, err)
	assert.Equal(t, "g", g.Name())
}

func TestRunnerLinearExecution(t *testing.T) {
	g, err := NewBuilder("pipeline").
		AddNode("first", appendNode("first_done")).
		AddNode("second", appendNode("second_done")).
		AddNode("third", appendNode("third_done")).
		SetEntry("first").
		AddEdge("first", "second").
		AddEdge("second", "third").
		AddEdge("third", End).
		Compile()
	require.NoError(t, err)

	runner := NewRunner(observability.NewNoopLogger())
	final, err := runner.Run(context.Background(), g, State{})
	require.NoError(t, err)

	assert.True(t, final.GetBool("first_done"))
	assert.True(t, final.GetBool("second_done"))
	assert.True(t, final.GetBool("third_done"))
	assert.Equal(t, []string{"first", "second", "third"}, final.Steps())
}

func TestRunnerConditionalRouting(t *testing.T) {
	build := func(decision string) (*Graph, error) {
		return NewBuilder("router").
			AddNode("decide", func(ctx context.Context, state State) (State, error) {
				state["decision"] = decision
				return state, nil
			}).
			AddNode("left", appendNode("left_done")).
			AddNode("right", appendNode("right_done")).
			SetEntry("decide").
			AddConditionalEdges("decide", func(state State) string {
				return state.GetString("decision")
			}, map[string]string{
				"left":  "left",
				"right": "right",
				"stop":  End,
			}).
			AddEdge("left", End).
			AddEdge("right", End).
			Compile()
	}

	runner := NewRunner(observability.NewNoopLogger())
	ctx := context.Background()

	g, err := build("left")
	require.NoError(t, err)
	final, err := runner.Run(ctx, g, State{})
	require.NoError(t, err)
	assert.True(t, final.GetBool("left_done"))
	assert.False(t, final.GetBool("right_done"))
	assert.Equal(t, []string{"decide", "left"}, final.Steps())

	g, err = build("stop")
	require.NoError(t, err)
	final, err = runner.Run(ctx, g, State{})
	require.NoError(t, err)
	assert.Equal(t, []string{"decide"}, final.Steps())

	g, err = build("sideways")
	require.NoError(t, err)
	_, err = runner.Run(ctx, g, State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmapped label")
}

func TestRunnerNodeErrorAborts(t *testing.T) {
	boom := errors.New("node blew up")
	g, err := NewBuilder("failing").
		AddNode("ok", appendNode("ok_done")).
		AddNode("bad", func(ctx context.Context, state State) (State, error) {
			return nil, boom
		}).
		AddNode("after", appendNode("after_done")).
		SetEntry("ok").
		AddEdge("ok", "bad").
		AddEdge("bad", "after").
		AddEdge("after", End).
		Compile()
	require.NoError(t, err)

	runner := NewRunner(observability.NewNoopLogger())
	final, err := runner.Run(context.Background(), g, State{})
	require.ErrorIs(t, err, boom)
	// The failing node does not appear in the completed steps
	assert.Equal(t, []string{"ok"}, final.Steps())
	assert.False(t, final.GetBool("after_done"))
}

func TestRunnerCycleGuard(t *testing.T) {
	g, err := NewBuilder("loop").
		AddNode("a", appendNode("a_done")).
		AddNode("b", appendNode("b_done")).
		SetEntry("a").
		AddEdge("a", "b").
		AddConditionalEdges("b", func(state State) string { return "again" },
			map[string]string{"again": "a"}).
		Compile()
	require.NoError(t, err)

	runner := NewRunner(observability.NewNoopLogger())
	_, err = runner.Run(context.Background(), g, State{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing cycle")
}

func TestRunnerHonorsCancellation(t *testing.T) {
	g, err := NewBuilder("cancellable").
		AddNode("a", appendNode("a_done")).
		SetEntry("a").
		AddEdge("a", End).
		Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(observability.NewNoopLogger())
	_, err = runner.Run(ctx, g, State{})
	assert.Equal(t, errkind.Cancelled, errkind.KindOf(err))
}

func TestStateHelpers(t *testing.T) {
	s := State{
		"name":  "graph",
		"score": 0.75,
		"count": 3,
		"ok":    true,
	}
	assert.Equal(t, "graph", s.GetString("name"))
	assert.Equal(t, "", s.GetString("missing"))
	assert.Equal(t, 0.75, s.GetFloat("score"))
	assert.Equal(t, 3.0, s.GetFloat("count"))
	assert.True(t, s.GetBool("ok"))
	assert.False(t, s.GetBool("missing"))

	s.AddWarning("first")
	s.AddWarning("second")
	assert.Equal(t, []string{"first", "second"}, s.Warnings())

	clone := s.Clone()
	clone["name"] = "other"
	assert.Equal(t, "graph", s.GetString("name"))
}
