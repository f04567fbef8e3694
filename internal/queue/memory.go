package queue

import (
	"context"
	"sync"

	"github.com/agentflow/agentflow/internal/errkind"
)

// MemoryQueue is a channel-backed queue for single-process deployments
type MemoryQueue struct {
	tasks  chan Task
	once   sync.Once
	closed chan struct{}
}

// NewMemoryQueue creates an in-process queue with the given buffer
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryQueue{
		tasks:  make(chan Task, buffer),
		closed: make(chan struct{}),
	}
}

// Enqueue makes a task available; it fails once the queue is closed
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	select {
	case q.tasks <- task:
		return nil
	case <-q.closed:
		return errkind.New(errkind.Internal, "queue.Enqueue", "queue is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks until a task arrives
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case task := <-q.tasks:
		return &task, nil
	case <-q.closed:
		return nil, errkind.New(errkind.Internal, "queue.Dequeue", "queue is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack is a no-op; channel delivery is already exactly-once in process
func (q *MemoryQueue) Ack(ctx context.Context, task *Task) error { return nil }

// Close stops the queue
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
