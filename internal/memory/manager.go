package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/embedding"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/pkg/observability"
)

// Manager coordinates the cache tier, the embedding provider and the
// vector store. Writes deduplicate on content hash and invalidate cached
// query results for the touched collection.
type Manager struct {
	registry *Registry
	provider embedding.Provider
	store    vectorstore.Store
	cache    cache.Cache
	cfg      config.CacheConfig
	logger   observability.Logger
}

// NewManager wires the memory layer together
func NewManager(registry *Registry, provider embedding.Provider, store vectorstore.Store,
	c cache.Cache, cfg config.CacheConfig, logger observability.Logger) *Manager {
	return &Manager{
		registry: registry,
		provider: provider,
		store:    store,
		cache:    c,
		cfg:      cfg,
		logger:   logger,
	}
}

// SaveInput describes a single write
type SaveInput struct {
	Collection string                 `json:"collection"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata"`
	// ID is optional; a fresh UUID is assigned when empty
	ID string `json:"id,omitempty"`
}

// SaveResult reports the stored id and whether the write was deduplicated
type SaveResult struct {
	ID           string `json:"id"`
	Deduplicated bool   `json:"deduplicated"`
}

// ContentHash returns the full SHA-256 of content in hex
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Save stores one item. Identical content in the same collection
// deduplicates to the existing record, whose metadata is merged with the
// incoming fields.
func (m *Manager) Save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	start := time.Now()
	result, err := m.save(ctx, in)
	m.observe("save", in.Collection, start, err)
	return result, err
}

func (m *Manager) save(ctx context.Context, in SaveInput) (*SaveResult, error) {
	coll, err := m.registry.Get(in.Collection)
	if err != nil {
		return nil, err
	}
	if in.Content == "" {
		return nil, errkind.New(errkind.SchemaViolation, "memory.Save", "content is empty")
	}
	if len(in.Content) > MaxContentBytes {
		return nil, errkind.Newf(errkind.SchemaViolation, "memory.Save",
			"content is %d bytes, limit is %d", len(in.Content), MaxContentBytes)
	}
	if err := coll.ValidateMetadata(in.Metadata); err != nil {
		return nil, err
	}

	hash := ContentHash(in.Content)
	existing, err := m.store.FindByContentHash(ctx, in.Collection, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if len(in.Metadata) > 0 {
			if err := m.store.UpdateMetadata(ctx, in.Collection, existing.ID, in.Metadata); err != nil {
				return nil, err
			}
		}
		m.invalidateQueries(ctx, in.Collection)
		return &SaveResult{ID: existing.ID, Deduplicated: true}, nil
	}

	vector, err := m.provider.Embed(ctx, in.Content)
	if err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	record := vectorstore.Record{
		ID:          id,
		Collection:  in.Collection,
		Content:     in.Content,
		ContentHash: hash,
		Metadata:    in.Metadata,
		Embedding:   vector,
	}
	if err := m.store.Upsert(ctx, []vectorstore.Record{record}); err != nil {
		return nil, err
	}

	m.invalidateQueries(ctx, in.Collection)
	return &SaveResult{ID: id}, nil
}

// BatchSave stores several items with one embedding round trip for the
// non-duplicate subset. Results align with inputs.
func (m *Manager) BatchSave(ctx context.Context, inputs []SaveInput) ([]SaveResult, error) {
	start := time.Now()
	if len(inputs) == 0 {
		return []SaveResult{}, nil
	}

	results := make([]SaveResult, len(inputs))
	var (
		newIdx     []int
		newTexts   []string
		touched    = map[string]struct{}{}
	)

	for i, in := range inputs {
		coll, err := m.registry.Get(in.Collection)
		if err != nil {
			return nil, err
		}
		if in.Content == "" || len(in.Content) > MaxContentBytes {
			return nil, errkind.Newf(errkind.SchemaViolation, "memory.BatchSave",
				"input %d content size out of bounds", i)
		}
		if err := coll.ValidateMetadata(in.Metadata); err != nil {
			return nil, err
		}

		hash := ContentHash(in.Content)
		existing, err := m.store.FindByContentHash(ctx, in.Collection, hash)
		if err != nil {
			return nil, err
		}
		touched[in.Collection] = struct{}{}
		if existing != nil {
			if len(in.Metadata) > 0 {
				if err := m.store.UpdateMetadata(ctx, in.Collection, existing.ID, in.Metadata); err != nil {
					return nil, err
				}
			}
			results[i] = SaveResult{ID: existing.ID, Deduplicated: true}
			continue
		}
		newIdx = append(newIdx, i)
		newTexts = append(newTexts, in.Content)
	}

	if len(newTexts) > 0 {
		vectors, err := m.provider.EmbedBatch(ctx, newTexts)
		if err != nil {
			m.observe("batch_save", "", start, err)
			return nil, err
		}
		records := make([]vectorstore.Record, len(newIdx))
		for j, i := range newIdx {
			in := inputs[i]
			id := in.ID
			if id == "" {
				id = uuid.NewString()
			}
			records[j] = vectorstore.Record{
				ID:          id,
				Collection:  in.Collection,
				Content:     in.Content,
				ContentHash: ContentHash(in.Content),
				Metadata:    in.Metadata,
				Embedding:   vectors[j],
			}
			results[i] = SaveResult{ID: id}
		}
		if err := m.store.Upsert(ctx, records); err != nil {
			m.observe("batch_save", "", start, err)
			return nil, err
		}
	}

	for collection := range touched {
		m.invalidateQueries(ctx, collection)
	}
	m.observe("batch_save", "", start, nil)
	return results, nil
}

// SearchInput describes a similarity search
type SearchInput struct {
	Collection string              `json:"collection"`
	Query      string              `json:"query"`
	TopK       int                 `json:"top_k"`
	Filter     *vectorstore.Filter `json:"filter,omitempty"`
	MinScore   float64             `json:"min_score"`
}

// Search embeds the query and searches the vector store. Result sets are
// cached; any write to the collection invalidates them.
func (m *Manager) Search(ctx context.Context, in SearchInput) ([]vectorstore.SearchResult, error) {
	start := time.Now()
	results, err := m.search(ctx, in)
	m.observe("search", in.Collection, start, err)
	return results, err
}

func (m *Manager) search(ctx context.Context, in SearchInput) ([]vectorstore.SearchResult, error) {
	if _, err := m.registry.Get(in.Collection); err != nil {
		return nil, err
	}
	if in.Query == "" {
		return nil, errkind.New(errkind.SchemaViolation, "memory.Search", "query is empty")
	}
	if in.TopK == 0 {
		return []vectorstore.SearchResult{}, nil
	}
	if in.TopK < 0 {
		return nil, errkind.New(errkind.SchemaViolation, "memory.Search", "top_k must be non-negative")
	}
	if in.Filter != nil {
		if err := in.Filter.Validate(); err != nil {
			return nil, errkind.Wrap(errkind.SchemaViolation, "memory.Search", err)
		}
	}

	key := cache.QueryKey(in.Collection, in.Query, in.Filter.Fingerprint(), in.TopK)
	var cached []vectorstore.SearchResult
	if err := m.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	vector, err := m.provider.Embed(ctx, in.Query)
	if err != nil {
		return nil, err
	}
	results, err := m.store.Search(ctx, vectorstore.SearchQuery{
		Collection: in.Collection,
		Vector:     vector,
		TopK:       in.TopK,
		Filter:     in.Filter,
		MinScore:   in.MinScore,
	})
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []vectorstore.SearchResult{}
	}

	if err := m.cache.Set(ctx, key, results, m.cfg.QueryTTL); err != nil {
		m.logger.Warn("Query cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return results, nil
}

// Get fetches a single record
func (m *Manager) Get(ctx context.Context, collection, id string) (*vectorstore.Record, error) {
	if _, err := m.registry.Get(collection); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, collection, id)
}

// UpdateMetadata merges fields into a record's metadata
func (m *Manager) UpdateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	start := time.Now()
	err := m.updateMetadata(ctx, collection, id, fields)
	m.observe("update_metadata", collection, start, err)
	return err
}

func (m *Manager) updateMetadata(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	coll, err := m.registry.Get(collection)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return errkind.New(errkind.SchemaViolation, "memory.UpdateMetadata", "no fields provided")
	}
	// Validate the merged view, not just the patch
	existing, err := m.store.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	merged := make(map[string]interface{}, len(existing.Metadata)+len(fields))
	for k, v := range existing.Metadata {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if err := coll.ValidateMetadata(merged); err != nil {
		return err
	}

	if err := m.store.UpdateMetadata(ctx, collection, id, fields); err != nil {
		return err
	}
	m.invalidateQueries(ctx, collection)
	return nil
}

// Delete tombstones a record
func (m *Manager) Delete(ctx context.Context, collection, id string) error {
	start := time.Now()
	err := m.delete(ctx, collection, id)
	m.observe("delete", collection, start, err)
	return err
}

func (m *Manager) delete(ctx context.Context, collection, id string) error {
	if _, err := m.registry.Get(collection); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, collection, id, false); err != nil {
		return err
	}
	m.invalidateQueries(ctx, collection)
	return nil
}

// CollectionStats reports per-collection counts plus cache counters
type CollectionStats struct {
	Collections map[string]int64 `json:"collections"`
	Cache       cache.Stats      `json:"cache"`
}

// Stats returns live record counts for every collection
func (m *Manager) Stats(ctx context.Context) (*CollectionStats, error) {
	stats := &CollectionStats{Collections: make(map[string]int64)}
	for _, name := range m.registry.Names() {
		count, err := m.store.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		stats.Collections[name] = count
	}
	cacheStats, err := m.cache.Stats(ctx)
	if err != nil {
		m.logger.Warn("Cache stats unavailable", map[string]interface{}{"error": err.Error()})
	} else {
		stats.Cache = cacheStats
	}
	return stats, nil
}

// ComponentHealth probes the memory layer's backends. A failing cache
// only degrades latency, so callers should report it as degraded rather
// than down.
func (m *Manager) ComponentHealth(ctx context.Context) (storeErr, cacheErr error) {
	_, storeErr = m.store.Count(ctx, CollectionAgentContext)
	_, cacheErr = m.cache.Stats(ctx)
	return storeErr, cacheErr
}

// SetSessionContext stores per-session working context in the hot tier
func (m *Manager) SetSessionContext(ctx context.Context, sessionID string, value interface{}) error {
	if sessionID == "" {
		return errkind.New(errkind.SchemaViolation, "memory.SetSessionContext", "session id is empty")
	}
	return m.cache.Set(ctx, cache.SessionKey(sessionID), value, m.cfg.SessionTTL)
}

// GetSessionContext loads per-session working context
func (m *Manager) GetSessionContext(ctx context.Context, sessionID string, value interface{}) error {
	return m.cache.Get(ctx, cache.SessionKey(sessionID), value)
}

// Registry exposes the collection registry to the API layer
func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) invalidateQueries(ctx context.Context, collection string) {
	n, err := m.cache.DeletePrefix(ctx, cache.CollectionQueryPrefix(collection))
	if err != nil {
		m.logger.Warn("Query cache invalidation failed", map[string]interface{}{
			"collection": collection,
			"error":      err.Error(),
		})
		return
	}
	if n > 0 {
		m.logger.Debug("Invalidated cached queries", map[string]interface{}{
			"collection": collection,
			"keys":       n,
		})
	}
}

func (m *Manager) observe(operation, collection string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.MemoryOperations.WithLabelValues(operation, collection, status).Inc()
	observability.MemoryOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
