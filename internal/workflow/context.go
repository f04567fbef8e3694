package workflow

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/errkind"
)

// Func is a workflow definition. It must be deterministic: all side
// effects go through activities, all time through Now and Sleep, all
// randomness through Random and NewID.
type Func func(ctx *Context, input json.RawMessage) (json.RawMessage, error)

type completion struct {
	payload json.RawMessage
	failure string
}

// Context is a workflow's window onto the runtime. During replay the
// recorded history answers every call; during live execution each call
// records its outcome before returning it.
type Context struct {
	ctx  context.Context
	exec *execution

	seq     int64
	history []Event
}

// newContext builds a fresh context over an execution's loaded history
func newContext(ctx context.Context, exec *execution, history []Event) *Context {
	return &Context{ctx: ctx, exec: exec, history: history}
}

// Done exposes the cancellation channel
func (c *Context) Done() <-chan struct{} { return c.ctx.Done() }

// Err reports cancellation
func (c *Context) Err() error { return c.ctx.Err() }

// ExecutionID returns the current execution's id
func (c *Context) ExecutionID() string { return c.exec.id }

// nextSeq hands out command sequence numbers in call order. Determinism
// of the workflow function makes the numbering stable across replays.
func (c *Context) nextSeq() int64 {
	c.seq++
	return c.seq
}

// eventAt finds the recorded command event at a sequence, nil when the
// history has not reached it.
func (c *Context) eventAt(seq int64, types ...EventType) *Event {
	for i := range c.history {
		e := &c.history[i]
		if e.Sequence != seq {
			continue
		}
		for _, t := range types {
			if e.Type == t {
				return e
			}
		}
	}
	return nil
}

// ExecuteActivity schedules an activity and blocks until its result is
// recorded. On replay, a recorded completion returns immediately. Output
// may be nil when the caller ignores the result.
func (c *Context) ExecuteActivity(name string, input interface{}, output interface{}) error {
	seq := c.nextSeq()

	// Replay guard: a recorded schedule at this sequence must name the
	// same activity, otherwise the code has diverged from its history.
	if scheduled := c.eventAt(seq, EventActivityScheduled); scheduled != nil {
		if scheduled.Activity != name {
			return errkind.Newf(errkind.DeterminismViolation, "workflow.ExecuteActivity",
				"history has %s at sequence %d, code scheduled %s", scheduled.Activity, seq, name)
		}
		if done := c.eventAt(seq, EventActivityCompleted, EventActivityFailed); done != nil {
			return decodeCompletion(done, output)
		}
		// Scheduled but not finished before the crash. Re-dispatch the
		// task; completion recording dedups if the original also lands.
		if err := c.exec.dispatch(c.ctx, seq, scheduled.Activity, scheduled.Payload); err != nil {
			return err
		}
		return c.await(seq, output)
	}

	encoded, err := json.Marshal(input)
	if err != nil {
		return errkind.Wrap(errkind.SchemaViolation, "workflow.ExecuteActivity", err)
	}
	if err := c.exec.recordAndDispatch(c.ctx, Event{
		Sequence: seq,
		Type:     EventActivityScheduled,
		Activity: name,
		Payload:  encoded,
	}); err != nil {
		return err
	}
	return c.await(seq, output)
}

func (c *Context) await(seq int64, output interface{}) error {
	ch := c.exec.waitFor(seq)
	select {
	case done := <-ch:
		if done.failure != "" {
			return errkind.New(errkind.Internal, "workflow.ExecuteActivity", done.failure)
		}
		if output != nil && len(done.payload) > 0 {
			if err := json.Unmarshal(done.payload, output); err != nil {
				return errkind.Wrap(errkind.Internal, "workflow.ExecuteActivity", err)
			}
		}
		return nil
	case <-c.ctx.Done():
		return errkind.Wrap(errkind.Cancelled, "workflow.ExecuteActivity", c.ctx.Err())
	}
}

func decodeCompletion(e *Event, output interface{}) error {
	if e.Type == EventActivityFailed {
		return errkind.New(errkind.Internal, "workflow.ExecuteActivity", e.Failure)
	}
	if output != nil && len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, output); err != nil {
			return errkind.Wrap(errkind.Internal, "workflow.ExecuteActivity", err)
		}
	}
	return nil
}

// Now returns a time that is stable across replays
func (c *Context) Now() time.Time {
	seq := c.nextSeq()
	if marker := c.eventAt(seq, EventMarkerRecorded); marker != nil {
		var t time.Time
		if err := json.Unmarshal(marker.Payload, &t); err == nil {
			return t
		}
	}
	now := time.Now().UTC()
	c.recordMarker(seq, "now", now)
	return now
}

// Random returns a random int64 that is stable across replays
func (c *Context) Random() int64 {
	seq := c.nextSeq()
	if marker := c.eventAt(seq, EventMarkerRecorded); marker != nil {
		var v int64
		if err := json.Unmarshal(marker.Payload, &v); err == nil {
			return v
		}
	}
	v := rand.Int63()
	c.recordMarker(seq, "random", v)
	return v
}

// NewID returns a UUID that is stable across replays
func (c *Context) NewID() string {
	seq := c.nextSeq()
	if marker := c.eventAt(seq, EventMarkerRecorded); marker != nil {
		var id string
		if err := json.Unmarshal(marker.Payload, &id); err == nil {
			return id
		}
	}
	id := uuid.NewString()
	c.recordMarker(seq, "uuid", id)
	return id
}

func (c *Context) recordMarker(seq int64, name string, value interface{}) {
	payload, _ := json.Marshal(value)
	_ = c.exec.record(c.ctx, Event{
		Sequence: seq,
		Type:     EventMarkerRecorded,
		Name:     name,
		Payload:  payload,
	})
}

// Sleep pauses the workflow durably. A fired timer in history returns
// immediately; otherwise a timer is armed and the workflow parks.
func (c *Context) Sleep(d time.Duration) error {
	seq := c.nextSeq()

	if c.eventAt(seq, EventTimerFired) != nil {
		return nil
	}
	if started := c.eventAt(seq, EventTimerStarted); started != nil {
		c.exec.armTimer(seq, started.FireAt)
		return c.await(seq, nil)
	}

	fireAt := time.Now().UTC().Add(d)
	if err := c.exec.record(c.ctx, Event{
		Sequence: seq,
		Type:     EventTimerStarted,
		FireAt:   fireAt,
	}); err != nil {
		return err
	}
	c.exec.armTimer(seq, fireAt)
	return c.await(seq, nil)
}

// WaitSignal blocks until a signal with the given name arrives. Signals
// already in history are consumed in arrival order.
func (c *Context) WaitSignal(name string, output interface{}) error {
	if payload, ok := c.exec.consumeRecordedSignal(name); ok {
		if output != nil && len(payload) > 0 {
			if err := json.Unmarshal(payload, output); err != nil {
				return errkind.Wrap(errkind.Internal, "workflow.WaitSignal", err)
			}
		}
		return nil
	}

	ch := c.exec.waitForSignal(name)
	select {
	case payload := <-ch:
		if output != nil && len(payload) > 0 {
			if err := json.Unmarshal(payload, output); err != nil {
				return errkind.Wrap(errkind.Internal, "workflow.WaitSignal", err)
			}
		}
		return nil
	case <-c.ctx.Done():
		return errkind.Wrap(errkind.Cancelled, "workflow.WaitSignal", c.ctx.Err())
	}
}

// ReceiveSignalAsync consumes a buffered signal without blocking. It
// reports false when no signal of that name has arrived.
func (c *Context) ReceiveSignalAsync(name string) (json.RawMessage, bool) {
	return c.exec.consumeRecordedSignal(name)
}

// SetQueryHandler registers a read-only view callers can query while the
// workflow runs. Handlers must not mutate workflow state.
func (c *Context) SetQueryHandler(name string, handler func() (interface{}, error)) {
	c.exec.setQueryHandler(name, handler)
}
