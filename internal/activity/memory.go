package activity

import (
	"context"

	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/vectorstore"
)

// Activity names for the memory layer
const (
	MemorySave           = "memory.save"
	MemoryBatchSave      = "memory.batch_save"
	MemorySearch         = "memory.search"
	MemoryUpdateMetadata = "memory.update_metadata"
	MemoryDelete         = "memory.delete"
	MemoryStats          = "memory.stats"
)

// MemoryActivities exposes the memory layer to workflows
type MemoryActivities struct {
	memory *memory.Manager
}

// NewMemoryActivities creates the memory activity set
func NewMemoryActivities(mem *memory.Manager) *MemoryActivities {
	return &MemoryActivities{memory: mem}
}

// Register adds all memory activities to the registry
func (a *MemoryActivities) Register(r *Registry) {
	r.Register(MemorySave, Typed(a.Save))
	r.Register(MemoryBatchSave, Typed(a.BatchSave))
	r.Register(MemorySearch, Typed(a.Search))
	r.Register(MemoryUpdateMetadata, Typed(a.UpdateMetadata))
	r.Register(MemoryDelete, Typed(a.Delete))
	r.Register(MemoryStats, Typed(a.Stats))
}

// Save stores one item. Saves are idempotent through content-hash
// deduplication, so a retried attempt cannot double-write.
func (a *MemoryActivities) Save(ctx context.Context, in memory.SaveInput) (*memory.SaveResult, error) {
	return a.memory.Save(ctx, in)
}

// BatchSave stores several items
func (a *MemoryActivities) BatchSave(ctx context.Context, in []memory.SaveInput) ([]memory.SaveResult, error) {
	return a.memory.BatchSave(ctx, in)
}

// Search runs a similarity search
func (a *MemoryActivities) Search(ctx context.Context, in memory.SearchInput) ([]vectorstore.SearchResult, error) {
	return a.memory.Search(ctx, in)
}

// UpdateMetadataInput names a record and the fields to merge
type UpdateMetadataInput struct {
	Collection string                 `json:"collection"`
	ID         string                 `json:"id"`
	Fields     map[string]interface{} `json:"fields"`
}

// UpdateMetadata merges fields into a record's metadata
func (a *MemoryActivities) UpdateMetadata(ctx context.Context, in UpdateMetadataInput) (struct{}, error) {
	return struct{}{}, a.memory.UpdateMetadata(ctx, in.Collection, in.ID, in.Fields)
}

// DeleteInput names the record to tombstone
type DeleteInput struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Delete tombstones a record. Deleting an already deleted record fails
// with NotFound, which retry policies treat as permanent.
func (a *MemoryActivities) Delete(ctx context.Context, in DeleteInput) (struct{}, error) {
	return struct{}{}, a.memory.Delete(ctx, in.Collection, in.ID)
}

// Stats reports collection sizes and cache counters
func (a *MemoryActivities) Stats(ctx context.Context, _ struct{}) (*memory.CollectionStats, error) {
	return a.memory.Stats(ctx)
}
