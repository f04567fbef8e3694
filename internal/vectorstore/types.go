// Package vectorstore is the durable tier of the memory layer. The
// Postgres implementation uses pgvector with HNSW indexes; an in-memory
// implementation exists for tests.
package vectorstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Record is a stored memory item with its embedding
type Record struct {
	ID          string                 `db:"id" json:"id"`
	Collection  string                 `db:"collection" json:"collection"`
	Content     string                 `db:"content" json:"content"`
	ContentHash string                 `db:"content_hash" json:"content_hash"`
	Metadata    map[string]interface{} `json:"metadata"`
	Embedding   []float32              `json:"-"`
	CreatedAt   time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time              `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time             `db:"deleted_at" json:"deleted_at,omitempty"`
}

// SearchResult pairs a record with its similarity score in [0, 1]
type SearchResult struct {
	Record Record  `json:"record"`
	Score  float64 `json:"score"`
}

// SearchQuery describes a similarity search
type SearchQuery struct {
	Collection string
	Vector     []float32
	TopK       int
	Filter     *Filter
	MinScore   float64
}

// Op is a filter comparison operator
type Op string

const (
	OpEq  Op = "eq"
	OpNeq Op = "neq"
	OpIn  Op = "in"
	OpGte Op = "gte"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpLt  Op = "lt"
)

// Condition compares one metadata field against a value
type Condition struct {
	Field string      `json:"field"`
	Op    Op          `json:"op"`
	Value interface{} `json:"value"`
}

// Filter is a conjunction of metadata conditions
type Filter struct {
	Conditions []Condition `json:"conditions"`
}

// Validate rejects unknown operators and empty field names
func (f *Filter) Validate() error {
	for _, c := range f.Conditions {
		if c.Field == "" {
			return fmt.Errorf("filter condition has empty field")
		}
		switch c.Op {
		case OpEq, OpNeq, OpIn, OpGte, OpLte, OpGt, OpLt:
		default:
			return fmt.Errorf("unknown filter operator %q", c.Op)
		}
	}
	return nil
}

// Fingerprint returns a canonical representation of the filter. Equal
// filters produce equal fingerprints regardless of condition order, so
// cache keys derived from a fingerprint collide correctly.
func (f *Filter) Fingerprint() string {
	if f == nil || len(f.Conditions) == 0 {
		return ""
	}
	conds := make([]Condition, len(f.Conditions))
	copy(conds, f.Conditions)
	sort.Slice(conds, func(i, j int) bool {
		if conds[i].Field != conds[j].Field {
			return conds[i].Field < conds[j].Field
		}
		return conds[i].Op < conds[j].Op
	})
	data, _ := json.Marshal(conds)
	return string(data)
}
