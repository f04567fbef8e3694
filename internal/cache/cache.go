// Package cache provides the hot tier of the memory layer. Two
// implementations exist: a Redis-backed cache for deployments and an
// in-process LRU with a byte budget for tests and single-node runs.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is not found in the cache
var ErrNotFound = errors.New("key not found in cache")

// Stats reports cache effectiveness counters
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
}

// Cache is the interface for the hot tier. A miss is reported as
// ErrNotFound, never as a zero value.
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key under the given prefix and returns
	// how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
