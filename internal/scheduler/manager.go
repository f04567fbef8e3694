package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/workflow"
	"github.com/agentflow/agentflow/pkg/observability"
)

// bufferDrainInterval is how often buffered firings are retried
const bufferDrainInterval = 5 * time.Second

// Manager owns the cron engine and applies overlap policies when a
// schedule fires while its previous run is still open.
type Manager struct {
	store   Store
	runtime *workflow.Runtime
	cron    *cron.Cron
	logger  observability.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	states  map[string]*scheduleState

	stop chan struct{}
	wg   sync.WaitGroup
}

type scheduleState struct {
	lastExecution string
	buffered      bool
}

// NewManager creates a schedule manager
func NewManager(store Store, runtime *workflow.Runtime, logger observability.Logger) *Manager {
	return &Manager{
		store:   store,
		runtime: runtime,
		// Schedules are defined in UTC; never let plain cron specs pick
		// up the process timezone.
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
		states:  make(map[string]*scheduleState),
		stop:    make(chan struct{}),
	}
}

// Start loads stored schedules, arms them and begins firing
func (m *Manager) Start(ctx context.Context) error {
	schedules, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if err := m.arm(sched); err != nil {
			return err
		}
	}
	m.cron.Start()

	m.wg.Add(1)
	go m.drainBuffered()

	m.logger.Info("Scheduler started", map[string]interface{}{"schedules": len(schedules)})
	return nil
}

// Shutdown stops firing and waits for in-flight starts
func (m *Manager) Shutdown() {
	close(m.stop)
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	m.wg.Wait()
}

// Upsert validates, persists and (re)arms a schedule
func (m *Manager) Upsert(ctx context.Context, sched *Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	if err := m.store.Put(ctx, sched); err != nil {
		return err
	}
	m.disarm(sched.ID)
	return m.arm(sched)
}

// Delete removes a schedule
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.disarm(id)
	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
	return nil
}

// Get returns one schedule
func (m *Manager) Get(ctx context.Context, id string) (*Schedule, error) {
	return m.store.Get(ctx, id)
}

// List returns all schedules
func (m *Manager) List(ctx context.Context) ([]*Schedule, error) {
	return m.store.List(ctx)
}

// SetPaused pauses or resumes a schedule
func (m *Manager) SetPaused(ctx context.Context, id string, paused bool) error {
	sched, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	sched.Paused = paused
	return m.Upsert(ctx, sched)
}

func (m *Manager) arm(sched *Schedule) error {
	if sched.Paused {
		return nil
	}
	parsed, err := ParseSpec(sched.Spec)
	if err != nil {
		return err
	}
	copied := *sched
	entryID := m.cron.Schedule(parsed, cron.FuncJob(func() {
		m.fire(&copied)
	}))

	m.mu.Lock()
	m.entries[sched.ID] = entryID
	if _, ok := m.states[sched.ID]; !ok {
		m.states[sched.ID] = &scheduleState{}
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) disarm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entryID, ok := m.entries[id]; ok {
		m.cron.Remove(entryID)
		delete(m.entries, id)
	}
}

// fire applies the overlap policy and starts the workflow when allowed
func (m *Manager) fire(sched *Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m.mu.Lock()
	state, ok := m.states[sched.ID]
	if !ok {
		state = &scheduleState{}
		m.states[sched.ID] = state
	}
	lastExecution := state.lastExecution
	m.mu.Unlock()

	if sched.OverlapPolicy != OverlapAllowAll && lastExecution != "" {
		last, err := m.runtime.Get(ctx, lastExecution)
		if err == nil && !last.Closed() {
			switch sched.OverlapPolicy {
			case OverlapSkip:
				observability.ScheduleFirings.WithLabelValues(sched.ID, "skipped").Inc()
				m.logger.Info("Schedule firing skipped, previous run open", map[string]interface{}{
					"schedule":  sched.ID,
					"execution": lastExecution,
				})
			case OverlapBufferOne:
				m.mu.Lock()
				state.buffered = true
				m.mu.Unlock()
				observability.ScheduleFirings.WithLabelValues(sched.ID, "buffered").Inc()
			}
			return
		}
	}

	m.start(ctx, sched, state)
}

func (m *Manager) start(ctx context.Context, sched *Schedule, state *scheduleState) {
	// The workflow id is derived from the fire time, so a firing delivered
	// twice cannot start two executions.
	fireTime := time.Now().UTC().Truncate(time.Second)
	workflowID := fmt.Sprintf("%s-%s", sched.ID, fireTime.Format("20060102T150405Z"))

	exec, err := m.runtime.StartWithID(ctx, workflowID, sched.WorkflowType, sched.Input)
	if err != nil {
		if errkind.KindOf(err) == errkind.Conflict {
			m.logger.Debug("Schedule firing already started", map[string]interface{}{
				"schedule": sched.ID,
				"workflow": workflowID,
			})
			return
		}
		m.logger.Error("Scheduled start failed", map[string]interface{}{
			"schedule": sched.ID,
			"type":     sched.WorkflowType,
			"error":    err.Error(),
		})
		return
	}

	m.mu.Lock()
	state.lastExecution = exec.ID
	m.mu.Unlock()

	observability.ScheduleFirings.WithLabelValues(sched.ID, "started").Inc()
	m.logger.Info("Schedule fired", map[string]interface{}{
		"schedule":  sched.ID,
		"type":      sched.WorkflowType,
		"execution": exec.ID,
		"run":       exec.RunID,
	})
}

// drainBuffered starts buffered runs once their predecessor closes
func (m *Manager) drainBuffered() {
	defer m.wg.Done()
	ticker := time.NewTicker(bufferDrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		schedules, err := m.store.List(ctx)
		if err != nil {
			cancel()
			continue
		}
		for _, sched := range schedules {
			m.mu.Lock()
			state := m.states[sched.ID]
			buffered := state != nil && state.buffered
			lastExecution := ""
			if state != nil {
				lastExecution = state.lastExecution
			}
			m.mu.Unlock()
			if !buffered || sched.Paused {
				continue
			}

			last, err := m.runtime.Get(ctx, lastExecution)
			if err != nil || !last.Closed() {
				continue
			}

			m.mu.Lock()
			state.buffered = false
			m.mu.Unlock()
			m.start(ctx, sched, state)
		}
		cancel()
	}
}
