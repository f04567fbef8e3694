// Package workflow is a durable execution runtime. Every decision a
// workflow makes is recorded as an event; after a crash the function is
// re-run against its history, which replays recorded outcomes instead of
// re-executing side effects.
package workflow

import (
	"encoding/json"
	"time"
)

// EventType enumerates the history event kinds
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow_started"
	EventActivityScheduled EventType = "activity_scheduled"
	EventActivityCompleted EventType = "activity_completed"
	EventActivityFailed    EventType = "activity_failed"
	EventTimerStarted      EventType = "timer_started"
	EventTimerFired        EventType = "timer_fired"
	EventMarkerRecorded    EventType = "marker_recorded"
	EventSignalReceived    EventType = "signal_received"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowFailed    EventType = "workflow_failed"
	EventWorkflowCancelled EventType = "workflow_cancelled"
)

// Event is one entry in an execution's history. Sequence numbers order
// commands (activities, timers, markers); lifecycle events carry the
// next free sequence.
type Event struct {
	Sequence   int64           `json:"sequence"`
	Type       EventType       `json:"type"`
	Activity   string          `json:"activity,omitempty"`
	Name       string          `json:"name,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Failure    string          `json:"failure,omitempty"`
	FireAt     time.Time       `json:"fire_at,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Execution status values
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Execution is the durable record of one workflow run. ID is the
// workflow id (caller-chosen for schedule firings); RunID is unique to
// this run.
type Execution struct {
	ID           string          `json:"id" db:"id"`
	RunID        string          `json:"run_id" db:"run_id"`
	WorkflowType string          `json:"workflow_type" db:"workflow_type"`
	Status       string          `json:"status" db:"status"`
	Input        json.RawMessage `json:"input,omitempty" db:"input"`
	Result       json.RawMessage `json:"result,omitempty" db:"result"`
	Failure      string          `json:"failure,omitempty" db:"failure"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// Closed reports whether the execution reached a terminal status
func (e *Execution) Closed() bool {
	return e.Status != StatusRunning
}
