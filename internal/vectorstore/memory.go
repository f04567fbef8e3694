package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/agentflow/agentflow/internal/errkind"
)

// MemoryStore implements Store in process memory. It mirrors the
// Postgres semantics, tombstones included, for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // collection -> id -> record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]Record)}
}

// Upsert writes records, clearing any tombstone
func (s *MemoryStore) Upsert(ctx context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, rec := range records {
		coll := s.records[rec.Collection]
		if coll == nil {
			coll = make(map[string]Record)
			s.records[rec.Collection] = coll
		}
		if existing, ok := coll[rec.ID]; ok {
			rec.CreatedAt = existing.CreatedAt
		} else {
			rec.CreatedAt = now
		}
		rec.UpdatedAt = now
		rec.DeletedAt = nil
		coll[rec.ID] = rec
	}
	return nil
}

// Search runs cosine similarity over live records
func (s *MemoryStore) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	if q.Filter != nil {
		if err := q.Filter.Validate(); err != nil {
			return nil, errkind.Wrap(errkind.SchemaViolation, "vectorstore.Search", err)
		}
	}
	if q.TopK <= 0 {
		q.TopK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, rec := range s.records[q.Collection] {
		if rec.DeletedAt != nil {
			continue
		}
		if q.Filter != nil && !matchesFilter(rec.Metadata, q.Filter) {
			continue
		}
		score := cosineSimilarity(q.Vector, rec.Embedding)
		if score < q.MinScore {
			continue
		}
		results = append(results, SearchResult{Record: rec, Score: score})
	}

	// Ties break on id ascending so rankings are stable across runs
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID < results[j].Record.ID
	})
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

// Get fetches a live record
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[collection][id]
	if !ok || rec.DeletedAt != nil {
		return nil, errkind.Newf(errkind.NotFound, "vectorstore.Get", "record %s not found in %s", id, collection)
	}
	out := rec
	return &out, nil
}

// UpdateMetadata merges fields into a record's metadata
func (s *MemoryStore) UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collection][id]
	if !ok || rec.DeletedAt != nil {
		return errkind.Newf(errkind.NotFound, "vectorstore.UpdateMetadata", "record %s not found in %s", id, collection)
	}
	merged := make(map[string]interface{}, len(rec.Metadata)+len(fields))
	for k, v := range rec.Metadata {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	rec.Metadata = merged
	rec.UpdatedAt = time.Now()
	s.records[collection][id] = rec
	return nil
}

// Delete tombstones or removes a record
func (s *MemoryStore) Delete(ctx context.Context, collection, id string, hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collection][id]
	if !ok || rec.DeletedAt != nil {
		return errkind.Newf(errkind.NotFound, "vectorstore.Delete", "record %s not found in %s", id, collection)
	}
	if hard {
		delete(s.records[collection], id)
		return nil
	}
	now := time.Now()
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	s.records[collection][id] = rec
	return nil
}

// Count returns live records in a collection
func (s *MemoryStore) Count(ctx context.Context, collection string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, rec := range s.records[collection] {
		if rec.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

// FindByContentHash returns a live record matching the hash, nil when absent
func (s *MemoryStore) FindByContentHash(ctx context.Context, collection, hash string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records[collection] {
		if rec.DeletedAt == nil && rec.ContentHash == hash {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func matchesFilter(metadata map[string]interface{}, f *Filter) bool {
	for _, c := range f.Conditions {
		value, ok := metadata[c.Field]
		if !ok {
			// An absent field is distinct from any value, matching the
			// Postgres IS DISTINCT FROM behavior.
			if c.Op == OpNeq {
				continue
			}
			return false
		}
		switch c.Op {
		case OpEq:
			if fmt.Sprint(value) != fmt.Sprint(c.Value) {
				return false
			}
		case OpNeq:
			if fmt.Sprint(value) == fmt.Sprint(c.Value) {
				return false
			}
		case OpIn:
			values, err := toStringSlice(c.Value)
			if err != nil {
				return false
			}
			found := false
			for _, v := range values {
				if fmt.Sprint(value) == v {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case OpGte:
			a, b, ok := asNumbers(value, c.Value)
			if !ok || a < b {
				return false
			}
		case OpLte:
			a, b, ok := asNumbers(value, c.Value)
			if !ok || a > b {
				return false
			}
		case OpGt:
			a, b, ok := asNumbers(value, c.Value)
			if !ok || a <= b {
				return false
			}
		case OpLt:
			a, b, ok := asNumbers(value, c.Value)
			if !ok || a >= b {
				return false
			}
		}
	}
	return true
}

func asNumbers(a, b interface{}) (float64, float64, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	return fa, fb, okA && okB
}

func toFloat(v interface{}) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case json.Number:
		f, err := vv.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
