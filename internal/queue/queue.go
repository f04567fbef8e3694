// Package queue carries activity tasks from the workflow runtime to the
// worker pool. The in-memory queue serves single-process deployments and
// tests; the SQS queue serves distributed workers.
package queue

import (
	"context"
	"encoding/json"
)

// Task is one activity invocation to execute
type Task struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Sequence    int64           `json:"sequence"`
	Activity    string          `json:"activity"`
	Input       json.RawMessage `json:"input"`
	Attempt     int             `json:"attempt"`

	// receipt is transport state used to acknowledge the task
	receipt string
}

// Queue moves tasks between the runtime and workers
type Queue interface {
	// Enqueue makes a task available to workers
	Enqueue(ctx context.Context, task Task) error
	// Dequeue blocks until a task is available or the context ends
	Dequeue(ctx context.Context) (*Task, error)
	// Ack marks a dequeued task as handled
	Ack(ctx context.Context, task *Task) error
	Close() error
}
