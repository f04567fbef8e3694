package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/queue"
	"github.com/agentflow/agentflow/pkg/observability"
)

// Runtime hosts workflow executions. Each execution runs its workflow
// function on its own goroutine; the function parks on channels while
// activities run and is woken when their results are recorded.
type Runtime struct {
	store  HistoryStore
	queue  queue.Queue
	logger observability.Logger

	mu        sync.RWMutex
	workflows map[string]Func
	live      map[string]*execution

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewRuntime creates a workflow runtime
func NewRuntime(store HistoryStore, q queue.Queue, logger observability.Logger) *Runtime {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Runtime{
		store:     store,
		queue:     q,
		logger:    logger,
		workflows: make(map[string]Func),
		live:      make(map[string]*execution),
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// RegisterWorkflow adds a workflow type
func (r *Runtime) RegisterWorkflow(workflowType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workflows[workflowType]; exists {
		panic("workflow already registered: " + workflowType)
	}
	r.workflows[workflowType] = fn
}

// WorkflowTypes returns the registered type names
func (r *Runtime) WorkflowTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	return names
}

// Start begins a new execution under a generated workflow id
func (r *Runtime) Start(ctx context.Context, workflowType string, input json.RawMessage) (*Execution, error) {
	return r.StartWithID(ctx, uuid.NewString(), workflowType, input)
}

// StartWithID begins a new execution under a caller-chosen workflow id.
// Schedule firings use this to derive stable ids from the fire time.
func (r *Runtime) StartWithID(ctx context.Context, id, workflowType string, input json.RawMessage) (*Execution, error) {
	r.mu.RLock()
	fn, ok := r.workflows[workflowType]
	r.mu.RUnlock()
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "workflow.Start", "unknown workflow type %s", workflowType)
	}

	exec := &Execution{
		ID:           id,
		RunID:        uuid.NewString(),
		WorkflowType: workflowType,
		Status:       StatusRunning,
		Input:        input,
		StartedAt:    time.Now().UTC(),
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	if err := r.store.AppendEvent(ctx, exec.ID, Event{
		Type:    EventWorkflowStarted,
		Name:    workflowType,
		Payload: input,
	}); err != nil {
		return nil, err
	}

	observability.WorkflowsStarted.WithLabelValues(workflowType).Inc()
	r.launch(exec, fn, nil)
	return exec, nil
}

// Recover resumes every open execution by replaying its history. Call
// once on process start, after workflows are registered.
func (r *Runtime) Recover(ctx context.Context) error {
	open, err := r.store.ListExecutions(ctx, StatusRunning, 0)
	if err != nil {
		return err
	}
	for _, exec := range open {
		r.mu.RLock()
		fn, ok := r.workflows[exec.WorkflowType]
		r.mu.RUnlock()
		if !ok {
			r.logger.Error("Open execution has unregistered type", map[string]interface{}{
				"execution": exec.ID,
				"type":      exec.WorkflowType,
			})
			continue
		}
		history, err := r.store.LoadHistory(ctx, exec.ID)
		if err != nil {
			return err
		}
		r.logger.Info("Recovering execution", map[string]interface{}{
			"execution": exec.ID,
			"type":      exec.WorkflowType,
			"events":    len(history),
		})
		r.launch(exec, fn, history)
	}
	return nil
}

func (r *Runtime) launch(execRow *Execution, fn Func, history []Event) {
	execCtx, cancel := context.WithCancel(r.baseCtx)
	signals := recordedSignals(history)
	var signalCount int64
	for _, payloads := range signals {
		signalCount += int64(len(payloads))
	}
	e := &execution{
		id:             execRow.ID,
		workflowType:   execRow.WorkflowType,
		runtime:        r,
		ctx:            execCtx,
		cancel:         cancel,
		pending:        make(map[int64]chan completion),
		timers:         make(map[int64]*time.Timer),
		signalWaiters:  make(map[string][]chan json.RawMessage),
		pendingSignals: signals,
		queryHandlers:  make(map[string]func() (interface{}, error)),
		signalSeq:      signalCount,
	}

	// History may already contain a cancellation from before a crash
	for _, ev := range history {
		if ev.Type == EventWorkflowCancelled {
			cancel()
		}
	}

	r.mu.Lock()
	r.live[execRow.ID] = e
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		wfCtx := newContext(execCtx, e, history)
		result, err := fn(wfCtx, execRow.Input)
		r.finish(execRow, err, result)

		r.mu.Lock()
		delete(r.live, execRow.ID)
		r.mu.Unlock()
		e.stopTimers()
	}()
}

func (r *Runtime) finish(execRow *Execution, runErr error, result json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	execRow.ClosedAt = &now

	var terminal Event
	switch {
	case runErr == nil:
		execRow.Status = StatusCompleted
		execRow.Result = result
		terminal = Event{Type: EventWorkflowCompleted, Payload: result}
	case errkind.KindOf(runErr) == errkind.Cancelled:
		execRow.Status = StatusCancelled
		execRow.Failure = runErr.Error()
		terminal = Event{Type: EventWorkflowFailed, Failure: runErr.Error()}
	default:
		execRow.Status = StatusFailed
		execRow.Failure = runErr.Error()
		terminal = Event{Type: EventWorkflowFailed, Failure: runErr.Error()}
	}

	if err := r.store.AppendEvent(ctx, execRow.ID, terminal); err != nil &&
		errkind.KindOf(err) != errkind.Conflict {
		r.logger.Error("Failed to record terminal event", map[string]interface{}{
			"execution": execRow.ID,
			"error":     err.Error(),
		})
	}
	if err := r.store.UpdateExecution(ctx, execRow); err != nil {
		r.logger.Error("Failed to close execution", map[string]interface{}{
			"execution": execRow.ID,
			"error":     err.Error(),
		})
	}

	observability.WorkflowsClosed.WithLabelValues(execRow.WorkflowType, execRow.Status).Inc()
	fields := map[string]interface{}{
		"execution": execRow.ID,
		"type":      execRow.WorkflowType,
		"status":    execRow.Status,
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
		r.logger.Warn("Workflow closed", fields)
		return
	}
	r.logger.Info("Workflow closed", fields)
}

// CompleteActivity records an activity outcome and wakes the workflow.
// Duplicate completions for a sequence are ignored, so retried or raced
// workers cannot apply a result twice.
func (r *Runtime) CompleteActivity(ctx context.Context, executionID string, seq int64, payload json.RawMessage, failure string) error {
	event := Event{Sequence: seq, Type: EventActivityCompleted, Payload: payload}
	if failure != "" {
		event = Event{Sequence: seq, Type: EventActivityFailed, Failure: failure}
	}
	if err := r.store.AppendEvent(ctx, executionID, event); err != nil {
		if errkind.KindOf(err) == errkind.Conflict {
			r.logger.Debug("Duplicate activity completion ignored", map[string]interface{}{
				"execution": executionID,
				"sequence":  seq,
			})
			return nil
		}
		return err
	}

	r.mu.RLock()
	e := r.live[executionID]
	r.mu.RUnlock()
	if e != nil {
		e.deliver(seq, completion{payload: payload, failure: failure})
	}
	return nil
}

// Signal delivers a named payload to a running execution
func (r *Runtime) Signal(ctx context.Context, executionID, name string, payload json.RawMessage) error {
	r.mu.RLock()
	e := r.live[executionID]
	r.mu.RUnlock()
	if e == nil {
		execRow, err := r.store.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}
		if execRow.Closed() {
			return errkind.Newf(errkind.Conflict, "workflow.Signal", "execution %s is %s", executionID, execRow.Status)
		}
		return errkind.Newf(errkind.NotFound, "workflow.Signal", "execution %s is not hosted here", executionID)
	}

	seq := e.nextSignalSeq()
	if err := r.store.AppendEvent(ctx, executionID, Event{
		Sequence: seq,
		Type:     EventSignalReceived,
		Name:     name,
		Payload:  payload,
	}); err != nil {
		return err
	}
	e.deliverSignal(name, payload)
	return nil
}

// Cancel requests cooperative cancellation of an execution
func (r *Runtime) Cancel(ctx context.Context, executionID string) error {
	r.mu.RLock()
	e := r.live[executionID]
	r.mu.RUnlock()
	if e == nil {
		execRow, err := r.store.GetExecution(ctx, executionID)
		if err != nil {
			return err
		}
		if execRow.Closed() {
			return errkind.Newf(errkind.Conflict, "workflow.Cancel", "execution %s is already %s", executionID, execRow.Status)
		}
		return errkind.Newf(errkind.NotFound, "workflow.Cancel", "execution %s is not hosted here", executionID)
	}

	if err := r.store.AppendEvent(ctx, executionID, Event{Type: EventWorkflowCancelled}); err != nil &&
		errkind.KindOf(err) != errkind.Conflict {
		return err
	}
	e.cancel()
	return nil
}

// Query invokes a read-only handler the workflow registered
func (r *Runtime) Query(ctx context.Context, executionID, name string) (json.RawMessage, error) {
	r.mu.RLock()
	e := r.live[executionID]
	r.mu.RUnlock()
	if e == nil {
		return nil, errkind.Newf(errkind.NotFound, "workflow.Query", "execution %s is not running", executionID)
	}
	return e.query(name)
}

// Get returns an execution's durable record
func (r *Runtime) Get(ctx context.Context, executionID string) (*Execution, error) {
	return r.store.GetExecution(ctx, executionID)
}

// List returns executions, optionally filtered by status
func (r *Runtime) List(ctx context.Context, status string, limit int) ([]*Execution, error) {
	return r.store.ListExecutions(ctx, status, limit)
}

// History returns an execution's recorded events
func (r *Runtime) History(ctx context.Context, executionID string) ([]Event, error) {
	if _, err := r.store.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}
	return r.store.LoadHistory(ctx, executionID)
}

// RunningCount reports how many executions this process hosts
func (r *Runtime) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Shutdown cancels every hosted execution and waits for them to park.
// Open executions resume from history on the next start.
func (r *Runtime) Shutdown() {
	r.stop()
	r.wg.Wait()
}

// execution is the in-process state of one hosted workflow run
type execution struct {
	id           string
	workflowType string
	runtime      *Runtime
	ctx          context.Context
	cancel       context.CancelFunc

	mu             sync.Mutex
	pending        map[int64]chan completion
	timers         map[int64]*time.Timer
	signalWaiters  map[string][]chan json.RawMessage
	pendingSignals map[string][]json.RawMessage
	queryHandlers  map[string]func() (interface{}, error)
	signalSeq      int64
}

func recordedSignals(history []Event) map[string][]json.RawMessage {
	signals := make(map[string][]json.RawMessage)
	for _, e := range history {
		if e.Type == EventSignalReceived {
			signals[e.Name] = append(signals[e.Name], e.Payload)
		}
	}
	return signals
}

// record persists one event
func (e *execution) record(ctx context.Context, event Event) error {
	return e.runtime.store.AppendEvent(ctx, e.id, event)
}

// recordAndDispatch persists a schedule event and enqueues the task
func (e *execution) recordAndDispatch(ctx context.Context, event Event) error {
	if err := e.record(ctx, event); err != nil {
		return err
	}
	return e.dispatch(ctx, event.Sequence, event.Activity, event.Payload)
}

// dispatch enqueues an activity task. Recovery re-dispatches scheduled
// tasks whose completion is missing; recording dedup keeps the outcome
// applied at most once even when both deliveries execute.
func (e *execution) dispatch(ctx context.Context, seq int64, activity string, input json.RawMessage) error {
	return e.runtime.queue.Enqueue(ctx, queue.Task{
		ID:          uuid.NewString(),
		ExecutionID: e.id,
		Sequence:    seq,
		Activity:    activity,
		Input:       input,
	})
}

// waitFor registers interest in a command's completion
func (e *execution) waitFor(seq int64) <-chan completion {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.pending[seq]
	if !ok {
		ch = make(chan completion, 1)
		e.pending[seq] = ch
	}
	return ch
}

// deliver wakes a parked command. The buffered channel holds the result
// even when delivery races the workflow's park.
func (e *execution) deliver(seq int64, done completion) {
	e.mu.Lock()
	ch, ok := e.pending[seq]
	if !ok {
		ch = make(chan completion, 1)
		e.pending[seq] = ch
	}
	e.mu.Unlock()
	select {
	case ch <- done:
	default:
	}
}

// armTimer schedules a durable timer's firing
func (e *execution) armTimer(seq int64, fireAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.timers[seq]; exists {
		return
	}
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	e.timers[seq] = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.record(ctx, Event{Sequence: seq, Type: EventTimerFired}); err != nil &&
			errkind.KindOf(err) != errkind.Conflict {
			e.runtime.logger.Error("Failed to record timer firing", map[string]interface{}{
				"execution": e.id,
				"sequence":  seq,
				"error":     err.Error(),
			})
			return
		}
		e.deliver(seq, completion{})
	})
}

func (e *execution) stopTimers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.timers {
		t.Stop()
	}
}

func (e *execution) nextSignalSeq() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signalSeq++
	return e.signalSeq
}

// consumeRecordedSignal pops the oldest buffered signal for a name
func (e *execution) consumeRecordedSignal(name string) (json.RawMessage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	buffered := e.pendingSignals[name]
	if len(buffered) == 0 {
		return nil, false
	}
	payload := buffered[0]
	e.pendingSignals[name] = buffered[1:]
	return payload, true
}

// waitForSignal registers a waiter for the next signal of a name
func (e *execution) waitForSignal(name string) <-chan json.RawMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan json.RawMessage, 1)
	e.signalWaiters[name] = append(e.signalWaiters[name], ch)
	return ch
}

// deliverSignal hands a signal to the oldest waiter, buffering it when
// the workflow has not asked yet.
func (e *execution) deliverSignal(name string, payload json.RawMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	waiters := e.signalWaiters[name]
	if len(waiters) > 0 {
		waiters[0] <- payload
		e.signalWaiters[name] = waiters[1:]
		return
	}
	e.pendingSignals[name] = append(e.pendingSignals[name], payload)
}

func (e *execution) setQueryHandler(name string, handler func() (interface{}, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queryHandlers[name] = handler
}

func (e *execution) query(name string) (json.RawMessage, error) {
	e.mu.Lock()
	handler, ok := e.queryHandlers[name]
	e.mu.Unlock()
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "workflow.Query", "no query handler %s", name)
	}
	value, err := handler()
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "workflow.Query", err)
	}
	return encoded, nil
}
