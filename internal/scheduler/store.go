package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentflow/agentflow/internal/errkind"
)

// Store persists schedule definitions
type Store interface {
	Put(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, id string) (*Schedule, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Schedule, error)
}

// MemoryStore keeps schedules in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
}

// NewMemoryStore creates an empty in-memory schedule store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[string]*Schedule)}
}

func (s *MemoryStore) Put(ctx context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sched
	if existing, ok := s.schedules[sched.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	copied.UpdatedAt = time.Now()
	s.schedules[sched.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, errkind.Newf(errkind.NotFound, "scheduler.Get", "schedule %s not found", id)
	}
	copied := *sched
	return &copied, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return errkind.Newf(errkind.NotFound, "scheduler.Delete", "schedule %s not found", id)
	}
	delete(s.schedules, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		copied := *sched
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PostgresStore persists schedules in the schedules table
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a Postgres-backed schedule store
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(ctx context.Context, sched *Schedule) error {
	const query = `
		INSERT INTO schedules (id, spec, workflow_type, input, overlap_policy, paused, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			spec = EXCLUDED.spec,
			workflow_type = EXCLUDED.workflow_type,
			input = EXCLUDED.input,
			overlap_policy = EXCLUDED.overlap_policy,
			paused = EXCLUDED.paused,
			updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, query,
		sched.ID, sched.Spec, sched.WorkflowType, []byte(sched.Input), sched.OverlapPolicy, sched.Paused)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "scheduler.Put", err)
	}
	return nil
}

type scheduleRow struct {
	ID            string       `db:"id"`
	Spec          string       `db:"spec"`
	WorkflowType  string       `db:"workflow_type"`
	Input         []byte       `db:"input"`
	OverlapPolicy string       `db:"overlap_policy"`
	Paused        bool         `db:"paused"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r scheduleRow) toSchedule() *Schedule {
	return &Schedule{
		ID:            r.ID,
		Spec:          r.Spec,
		WorkflowType:  r.WorkflowType,
		Input:         r.Input,
		OverlapPolicy: r.OverlapPolicy,
		Paused:        r.Paused,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Schedule, error) {
	const query = `
		SELECT id, spec, workflow_type, input, overlap_policy, paused, created_at, updated_at
		FROM schedules WHERE id = $1`
	var row scheduleRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errkind.Newf(errkind.NotFound, "scheduler.Get", "schedule %s not found", id)
		}
		return nil, errkind.Wrap(errkind.Transient, "scheduler.Get", err)
	}
	return row.toSchedule(), nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "scheduler.Delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errkind.Wrap(errkind.Transient, "scheduler.Delete", err)
	}
	if affected == 0 {
		return errkind.Newf(errkind.NotFound, "scheduler.Delete", "schedule %s not found", id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Schedule, error) {
	const query = `
		SELECT id, spec, workflow_type, input, overlap_policy, paused, created_at, updated_at
		FROM schedules ORDER BY id`
	var rows []scheduleRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "scheduler.List", err)
	}
	out := make([]*Schedule, len(rows))
	for i, row := range rows {
		out[i] = row.toSchedule()
	}
	return out, nil
}
