package vectorstore

import (
	"context"
)

// Store is the durable vector tier
type Store interface {
	// Upsert writes records, replacing any with the same id
	Upsert(ctx context.Context, records []Record) error
	// Search runs similarity search over live records
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	// Get fetches a single live record
	Get(ctx context.Context, collection, id string) (*Record, error)
	// UpdateMetadata merges fields into a record's metadata
	UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error
	// Delete tombstones a record, or removes it entirely when hard is set
	Delete(ctx context.Context, collection, id string, hard bool) error
	// Count returns the number of live records in a collection
	Count(ctx context.Context, collection string) (int64, error)
	// FindByContentHash returns the live record with the given content
	// hash, or nil when none exists. Used for write deduplication.
	FindByContentHash(ctx context.Context, collection, hash string) (*Record, error)
	Close() error
}
