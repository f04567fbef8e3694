package workflow

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentflow/agentflow/internal/activity"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/queue"
	"github.com/agentflow/agentflow/pkg/observability"
	"github.com/agentflow/agentflow/pkg/retry"
)

// Worker runs activity tasks from the queue. Each task executes under
// the retry policy; exhausted or non-retryable failures are reported to
// the runtime as activity failures.
type Worker struct {
	queue    queue.Queue
	registry *activity.Registry
	runtime  *Runtime
	policy   retry.Policy
	workers  int
	logger   observability.Logger
}

// NewWorker creates a worker pool of the given size
func NewWorker(q queue.Queue, registry *activity.Registry, runtime *Runtime, workers int, logger observability.Logger) *Worker {
	if workers <= 0 {
		workers = 8
	}
	return &Worker{
		queue:    q,
		registry: registry,
		runtime:  runtime,
		policy:   retry.NewExponentialBackoff(retry.DefaultConfig()),
		workers:  workers,
		logger:   logger,
	}
}

// Run blocks until the context ends, executing tasks on every worker
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Dequeue failed", map[string]interface{}{"error": err.Error()})
			time.Sleep(time.Second)
			continue
		}
		w.execute(ctx, task)
	}
}

func (w *Worker) execute(ctx context.Context, task *queue.Task) {
	start := time.Now()
	handler, opts, err := w.registry.Lookup(task.Activity)
	if err != nil {
		w.report(ctx, task, nil, err)
		_ = w.queue.Ack(ctx, task)
		return
	}

	var result []byte
	runErr := w.policy.Execute(ctx, func(ctx context.Context) error {
		var attemptErr error
		result, attemptErr = w.attempt(ctx, handler, opts, task)
		return attemptErr
	})

	status := "success"
	if runErr != nil {
		status = "error"
	}
	observability.ActivityExecutions.WithLabelValues(task.Activity, status).Inc()
	observability.ActivityDuration.WithLabelValues(task.Activity).Observe(time.Since(start).Seconds())

	w.report(ctx, task, result, runErr)
	if err := w.queue.Ack(ctx, task); err != nil {
		w.logger.Warn("Task ack failed", map[string]interface{}{
			"task":  task.ID,
			"error": err.Error(),
		})
	}
}

// attempt runs one activity attempt under its start-to-close timeout.
// The handler runs on its own goroutine so a hung activity cannot pin
// the worker slot past the deadline; the abandoned attempt's result is
// discarded.
func (w *Worker) attempt(ctx context.Context, handler activity.Handler, opts activity.Options, task *queue.Task) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.StartToCloseTimeout)
	defer cancel()

	type outcome struct {
		result []byte
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(attemptCtx, task.Input)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errkind.Newf(errkind.Timeout, "workflow.Worker",
			"activity %s exceeded start-to-close timeout %s", task.Activity, opts.StartToCloseTimeout)
	}
}

func (w *Worker) report(ctx context.Context, task *queue.Task, result []byte, runErr error) {
	failure := ""
	if runErr != nil {
		failure = fmt.Sprintf("%s: %s", errkind.KindOf(runErr), runErr.Error())
		w.logger.Warn("Activity failed", map[string]interface{}{
			"activity":  task.Activity,
			"execution": task.ExecutionID,
			"sequence":  task.Sequence,
			"error":     runErr.Error(),
		})
	}
	if err := w.runtime.CompleteActivity(ctx, task.ExecutionID, task.Sequence, result, failure); err != nil {
		w.logger.Error("Failed to report activity completion", map[string]interface{}{
			"execution": task.ExecutionID,
			"sequence":  task.Sequence,
			"error":     err.Error(),
		})
	}
}
