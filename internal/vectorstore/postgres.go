package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

// PostgresStore implements Store on Postgres with the pgvector extension.
// Deletes are tombstones; every query excludes tombstoned rows.
type PostgresStore struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewPostgresStore creates a Postgres-backed vector store
func NewPostgresStore(db *sqlx.DB, logger observability.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

type recordRow struct {
	ID          string         `db:"id"`
	Collection  string         `db:"collection"`
	Content     string         `db:"content"`
	ContentHash string         `db:"content_hash"`
	Metadata    []byte         `db:"metadata"`
	Embedding   string         `db:"embedding"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	DeletedAt   sql.NullTime   `db:"deleted_at"`
	Score       sql.NullFloat64 `db:"score"`
}

func (r recordRow) toRecord() (Record, error) {
	rec := Record{
		ID:          r.ID,
		Collection:  r.Collection,
		Content:     r.Content,
		ContentHash: r.ContentHash,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		rec.DeletedAt = &t
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &rec.Metadata); err != nil {
			return rec, fmt.Errorf("failed to unmarshal metadata for %s: %w", r.ID, err)
		}
	}
	if r.Embedding != "" {
		vec, err := parseVector(r.Embedding)
		if err != nil {
			return rec, err
		}
		rec.Embedding = vec
	}
	return rec, nil
}

// Upsert writes records in a single transaction
func (s *PostgresStore) Upsert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "vectorstore.Upsert", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO memory_records (id, collection, content, content_hash, metadata, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::vector, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = NOW(),
			deleted_at = NULL`

	for _, rec := range records {
		metadata, err := json.Marshal(rec.Metadata)
		if err != nil {
			return errkind.Wrap(errkind.SchemaViolation, "vectorstore.Upsert", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			rec.ID, rec.Collection, rec.Content, rec.ContentHash,
			metadata, formatVector(rec.Embedding)); err != nil {
			return errkind.Wrap(errkind.Transient, "vectorstore.Upsert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.Transient, "vectorstore.Upsert", err)
	}
	return nil
}

// Search performs cosine similarity search, applying the metadata filter
// in SQL so the HNSW index does the heavy lifting.
func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}

	var sb strings.Builder
	args := []interface{}{formatVector(q.Vector), q.Collection}
	sb.WriteString(`
		SELECT id, collection, content, content_hash, metadata, ''::text AS embedding,
		       created_at, updated_at, deleted_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM memory_records
		WHERE collection = $2 AND deleted_at IS NULL`)

	if q.Filter != nil {
		clause, filterArgs, err := compileFilter(q.Filter, len(args)+1)
		if err != nil {
			return nil, err
		}
		sb.WriteString(clause)
		args = append(args, filterArgs...)
	}

	args = append(args, q.TopK)
	// Ties break on id ascending so rankings are stable across runs
	sb.WriteString(fmt.Sprintf(" ORDER BY embedding <=> $1::vector, id ASC LIMIT $%d", len(args)))

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, errkind.Wrap(errkind.Transient, "vectorstore.Search", err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		score := row.Score.Float64
		if score < q.MinScore {
			continue
		}
		results = append(results, SearchResult{Record: rec, Score: score})
	}
	return results, nil
}

// compileFilter turns a Filter into SQL over the metadata JSONB column.
// Numeric comparisons cast through ::numeric; eq and in compare as text.
func compileFilter(f *Filter, argStart int) (string, []interface{}, error) {
	if err := f.Validate(); err != nil {
		return "", nil, errkind.Wrap(errkind.SchemaViolation, "vectorstore.compileFilter", err)
	}
	var sb strings.Builder
	var args []interface{}
	n := argStart
	for _, c := range f.Conditions {
		field := pqQuoteLiteral(c.Field)
		switch c.Op {
		case OpEq:
			sb.WriteString(fmt.Sprintf(" AND metadata->>%s = $%d", field, n))
			args = append(args, fmt.Sprint(c.Value))
			n++
		case OpNeq:
			sb.WriteString(fmt.Sprintf(" AND metadata->>%s IS DISTINCT FROM $%d", field, n))
			args = append(args, fmt.Sprint(c.Value))
			n++
		case OpIn:
			values, err := toStringSlice(c.Value)
			if err != nil {
				return "", nil, errkind.Wrap(errkind.SchemaViolation, "vectorstore.compileFilter", err)
			}
			sb.WriteString(fmt.Sprintf(" AND metadata->>%s = ANY($%d)", field, n))
			args = append(args, pq.Array(values))
			n++
		case OpGte:
			sb.WriteString(fmt.Sprintf(" AND (metadata->>%s)::numeric >= $%d", field, n))
			args = append(args, c.Value)
			n++
		case OpLte:
			sb.WriteString(fmt.Sprintf(" AND (metadata->>%s)::numeric <= $%d", field, n))
			args = append(args, c.Value)
			n++
		case OpGt:
			sb.WriteString(fmt.Sprintf(" AND (metadata->>%s)::numeric > $%d", field, n))
			args = append(args, c.Value)
			n++
		case OpLt:
			sb.WriteString(fmt.Sprintf(" AND (metadata->>%s)::numeric < $%d", field, n))
			args = append(args, c.Value)
			n++
		}
	}
	return sb.String(), args, nil
}

// Get fetches a live record by id
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	const query = `
		SELECT id, collection, content, content_hash, metadata, embedding::text AS embedding,
		       created_at, updated_at, deleted_at, NULL::float8 AS score
		FROM memory_records
		WHERE collection = $1 AND id = $2 AND deleted_at IS NULL`

	var row recordRow
	if err := s.db.GetContext(ctx, &row, query, collection, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errkind.Newf(errkind.NotFound, "vectorstore.Get", "record %s not found in %s", id, collection)
		}
		return nil, errkind.Wrap(errkind.Transient, "vectorstore.Get", err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateMetadata merges fields into the metadata JSONB without touching
// the embedding.
func (s *PostgresStore) UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return errkind.Wrap(errkind.SchemaViolation, "vectorstore.UpdateMetadata", err)
	}

	const query = `
		UPDATE memory_records
		SET metadata = metadata || $1::jsonb, updated_at = NOW()
		WHERE collection = $2 AND id = $3 AND deleted_at IS NULL`

	result, err := s.db.ExecContext(ctx, query, patch, collection, id)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "vectorstore.UpdateMetadata", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errkind.Wrap(errkind.Transient, "vectorstore.UpdateMetadata", err)
	}
	if affected == 0 {
		return errkind.Newf(errkind.NotFound, "vectorstore.UpdateMetadata", "record %s not found in %s", id, collection)
	}
	return nil
}

// Delete tombstones a record; hard removes the row
func (s *PostgresStore) Delete(ctx context.Context, collection, id string, hard bool) error {
	query := `UPDATE memory_records SET deleted_at = NOW(), updated_at = NOW()
		WHERE collection = $1 AND id = $2 AND deleted_at IS NULL`
	if hard {
		query = `DELETE FROM memory_records WHERE collection = $1 AND id = $2`
	}

	result, err := s.db.ExecContext(ctx, query, collection, id)
	if err != nil {
		return errkind.Wrap(errkind.Transient, "vectorstore.Delete", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errkind.Wrap(errkind.Transient, "vectorstore.Delete", err)
	}
	if affected == 0 {
		return errkind.Newf(errkind.NotFound, "vectorstore.Delete", "record %s not found in %s", id, collection)
	}
	return nil
}

// Count returns live records in a collection
func (s *PostgresStore) Count(ctx context.Context, collection string) (int64, error) {
	var count int64
	const query = `SELECT COUNT(*) FROM memory_records WHERE collection = $1 AND deleted_at IS NULL`
	if err := s.db.GetContext(ctx, &count, query, collection); err != nil {
		return 0, errkind.Wrap(errkind.Transient, "vectorstore.Count", err)
	}
	return count, nil
}

// FindByContentHash returns the live record with the given hash, nil when absent
func (s *PostgresStore) FindByContentHash(ctx context.Context, collection, hash string) (*Record, error) {
	const query = `
		SELECT id, collection, content, content_hash, metadata, ''::text AS embedding,
		       created_at, updated_at, deleted_at, NULL::float8 AS score
		FROM memory_records
		WHERE collection = $1 AND content_hash = $2 AND deleted_at IS NULL
		LIMIT 1`

	var row recordRow
	if err := s.db.GetContext(ctx, &row, query, collection, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errkind.Wrap(errkind.Transient, "vectorstore.FindByContentHash", err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close releases the database handle
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// formatVector renders a vector in pgvector text form, e.g. [0.1,0.2]
func formatVector(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("failed to parse vector component %d: %w", i, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func toStringSlice(v interface{}) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []interface{}:
		out := make([]string, len(vv))
		for i, item := range vv {
			out[i] = fmt.Sprint(item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("in operator requires a list, got %T", v)
	}
}

// pqQuoteLiteral quotes a JSON key for interpolation into the metadata
// accessor. Values always go through bind parameters; only the key name
// is interpolated, and single quotes in it are doubled.
func pqQuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
