package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agentflow/agentflow/internal/errkind"
)

// HistoryStore persists executions and their event histories
type HistoryStore interface {
	CreateExecution(ctx context.Context, exec *Execution) error
	UpdateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, status string, limit int) ([]*Execution, error)
	// AppendEvent persists one event. Appending a second event with the
	// same sequence and type is a conflict; that is how completions stay
	// at-most-once.
	AppendEvent(ctx context.Context, executionID string, event Event) error
	LoadHistory(ctx context.Context, executionID string) ([]Event, error)
}

// MemoryHistoryStore keeps executions in process memory, for tests and
// single-node runs where durability is not required.
type MemoryHistoryStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
	histories  map[string][]Event
}

// NewMemoryHistoryStore creates an empty in-memory store
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		executions: make(map[string]*Execution),
		histories:  make(map[string][]Event),
	}
}

func (s *MemoryHistoryStore) CreateExecution(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; exists {
		return errkind.Newf(errkind.Conflict, "workflow.CreateExecution", "execution %s already exists", exec.ID)
	}
	copied := *exec
	s.executions[exec.ID] = &copied
	return nil
}

func (s *MemoryHistoryStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; !exists {
		return errkind.Newf(errkind.NotFound, "workflow.UpdateExecution", "execution %s not found", exec.ID)
	}
	copied := *exec
	s.executions[exec.ID] = &copied
	return nil
}

func (s *MemoryHistoryStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "workflow.GetExecution", "execution %s not found", id)
	}
	copied := *exec
	return &copied, nil
}

func (s *MemoryHistoryStore) ListExecutions(ctx context.Context, status string, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Execution
	for _, exec := range s.executions {
		if status != "" && exec.Status != status {
			continue
		}
		copied := *exec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryHistoryStore) AppendEvent(ctx context.Context, executionID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.histories[executionID] {
		if existing.Sequence == event.Sequence && existing.Type == event.Type {
			return errkind.Newf(errkind.Conflict, "workflow.AppendEvent",
				"event %s at sequence %d already recorded", event.Type, event.Sequence)
		}
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now()
	}
	s.histories[executionID] = append(s.histories[executionID], event)
	return nil
}

func (s *MemoryHistoryStore) LoadHistory(ctx context.Context, executionID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.histories[executionID]
	out := make([]Event, len(history))
	copy(out, history)
	return out, nil
}

// PostgresHistoryStore persists executions and histories in Postgres
type PostgresHistoryStore struct {
	db *sqlx.DB
}

// NewPostgresHistoryStore creates a Postgres-backed history store
func NewPostgresHistoryStore(db *sqlx.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

func (s *PostgresHistoryStore) CreateExecution(ctx context.Context, exec *Execution) error {
	const query = `
		INSERT INTO workflow_executions (id, run_id, workflow_type, status, input, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		exec.ID, exec.RunID, exec.WorkflowType, exec.Status, []byte(exec.Input), exec.StartedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return errkind.Newf(errkind.Conflict, "workflow.CreateExecution", "execution %s already exists", exec.ID)
		}
		return errkind.Wrap(errkind.Transient, "workflow.CreateExecution", err)
	}
	return nil
}

func (s *PostgresHistoryStore) UpdateExecution(ctx context.Context, exec *Execution) error {
	const query = `
		UPDATE workflow_executions
		SET status = $1, result = $2, failure = $3, closed_at = $4
		WHERE id = $5`
	result, err := s.db.ExecContext(ctx, query,
		exec.Status, []byte(exec.Result), nullString(exec.Failure), exec.ClosedAt, exec.ID)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "workflow.UpdateExecution", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errkind.Wrap(errkind.Transient, "workflow.UpdateExecution", err)
	}
	if affected == 0 {
		return errkind.Newf(errkind.NotFound, "workflow.UpdateExecution", "execution %s not found", exec.ID)
	}
	return nil
}

type executionRow struct {
	ID           string         `db:"id"`
	RunID        string         `db:"run_id"`
	WorkflowType string         `db:"workflow_type"`
	Status       string         `db:"status"`
	Input        []byte         `db:"input"`
	Result       []byte         `db:"result"`
	Failure      sql.NullString `db:"failure"`
	StartedAt    time.Time      `db:"started_at"`
	ClosedAt     sql.NullTime   `db:"closed_at"`
}

func (r executionRow) toExecution() *Execution {
	exec := &Execution{
		ID:           r.ID,
		RunID:        r.RunID,
		WorkflowType: r.WorkflowType,
		Status:       r.Status,
		Input:        json.RawMessage(r.Input),
		Result:       json.RawMessage(r.Result),
		Failure:      r.Failure.String,
		StartedAt:    r.StartedAt,
	}
	if r.ClosedAt.Valid {
		t := r.ClosedAt.Time
		exec.ClosedAt = &t
	}
	return exec
}

func (s *PostgresHistoryStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	const query = `
		SELECT id, run_id, workflow_type, status, input, result, failure, started_at, closed_at
		FROM workflow_executions WHERE id = $1`
	var row executionRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errkind.Newf(errkind.NotFound, "workflow.GetExecution", "execution %s not found", id)
		}
		return nil, errkind.Wrap(errkind.Transient, "workflow.GetExecution", err)
	}
	return row.toExecution(), nil
}

func (s *PostgresHistoryStore) ListExecutions(ctx context.Context, status string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, run_id, workflow_type, status, input, result, failure, started_at, closed_at
		FROM workflow_executions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT ` + strconv.Itoa(limit)

	var rows []executionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "workflow.ListExecutions", err)
	}
	out := make([]*Execution, len(rows))
	for i, row := range rows {
		out[i] = row.toExecution()
	}
	return out, nil
}

func (s *PostgresHistoryStore) AppendEvent(ctx context.Context, executionID string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errkind.Wrap(errkind.Internal, "workflow.AppendEvent", err)
	}
	// The (execution_id, sequence) primary key cannot hold two events at
	// one sequence, so lifecycle events share a synthetic key space above
	// the command sequences via the event type discriminator in payload.
	const query = `
		INSERT INTO workflow_history (execution_id, sequence, event_type, payload, recorded_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (execution_id, sequence) DO NOTHING`
	result, err := s.db.ExecContext(ctx, query, executionID, storageSequence(event), event.Type, payload)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "workflow.AppendEvent", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errkind.Wrap(errkind.Transient, "workflow.AppendEvent", err)
	}
	if affected == 0 {
		return errkind.Newf(errkind.Conflict, "workflow.AppendEvent",
			"event %s at sequence %d already recorded", event.Type, event.Sequence)
	}
	return nil
}

func (s *PostgresHistoryStore) LoadHistory(ctx context.Context, executionID string) ([]Event, error) {
	const query = `
		SELECT payload FROM workflow_history
		WHERE execution_id = $1 ORDER BY sequence ASC`
	var payloads [][]byte
	if err := s.db.SelectContext(ctx, &payloads, query, executionID); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "workflow.LoadHistory", err)
	}
	events := make([]Event, len(payloads))
	for i, p := range payloads {
		if err := json.Unmarshal(p, &events[i]); err != nil {
			return nil, errkind.Wrap(errkind.Internal, "workflow.LoadHistory", err)
		}
	}
	return events, nil
}

// storageSequence spreads one command's lifecycle events across distinct
// row keys: scheduled/started at 2n, completed/failed/fired at 2n+1.
// Lifecycle events use a dedicated band so they never collide.
func storageSequence(event Event) int64 {
	switch event.Type {
	case EventActivityCompleted, EventActivityFailed, EventTimerFired:
		return event.Sequence*2 + 1
	case EventWorkflowStarted:
		return -3
	case EventWorkflowCancelled:
		return 1 << 60
	case EventWorkflowCompleted, EventWorkflowFailed:
		return 1<<60 + 1
	case EventSignalReceived:
		return signalBand + event.Sequence
	default:
		return event.Sequence * 2
	}
}

// signalBand keeps signal rows clear of command rows
const signalBand int64 = 1 << 40

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

