package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/storage"
)

// Activity names for reporting and object storage
const (
	ReportSave     = "report.save"
	StorageArchive = "storage.archive"
	StorageFetch   = "storage.fetch_object"
	StorageList    = "storage.list_objects"
)

// AdReport is one day of advertising performance for a platform
type AdReport struct {
	Platform    string  `json:"platform"`
	ReportDate  string  `json:"report_date"`
	Spend       float64 `json:"spend"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Summary     string  `json:"summary"`
}

// ReportActivities persists ad reports to memory and object storage
type ReportActivities struct {
	memory   *memory.Manager
	archiver *storage.Archiver
}

// NewReportActivities creates the reporting activity set. The archiver
// may be nil when object storage is disabled.
func NewReportActivities(mem *memory.Manager, archiver *storage.Archiver) *ReportActivities {
	return &ReportActivities{memory: mem, archiver: archiver}
}

// Register adds the reporting activities to the registry
func (a *ReportActivities) Register(r *Registry) {
	r.Register(ReportSave, Typed(a.Save))
	r.Register(StorageArchive, Typed(a.Archive))
	r.Register(StorageFetch, Typed(a.Fetch))
	r.Register(StorageList, Typed(a.List))
}

// SaveReportResult reports where the report landed
type SaveReportResult struct {
	MemoryID string `json:"memory_id"`
}

// Save stores the report summary in memory so agents can search past
// performance. Content-hash deduplication makes re-runs idempotent.
func (a *ReportActivities) Save(ctx context.Context, report AdReport) (*SaveReportResult, error) {
	content := report.Summary
	if content == "" {
		content = fmt.Sprintf("%s ad performance on %s: spend %.2f, %d impressions, %d clicks",
			report.Platform, report.ReportDate, report.Spend, report.Impressions, report.Clicks)
	}

	saved, err := a.memory.Save(ctx, memory.SaveInput{
		Collection: memory.CollectionAdReports,
		Content:    content,
		Metadata: map[string]interface{}{
			"platform":    report.Platform,
			"report_date": report.ReportDate,
			"spend":       report.Spend,
			"impressions": report.Impressions,
			"clicks":      report.Clicks,
		},
	})
	if err != nil {
		return nil, err
	}
	return &SaveReportResult{MemoryID: saved.ID}, nil
}

// ArchiveInput names the object key and carries the document
type ArchiveInput struct {
	Key      string      `json:"key"`
	Document interface{} `json:"document"`
}

// Archive writes a document to object storage. A no-op when storage is
// disabled, so workflows need no conditional wiring.
func (a *ReportActivities) Archive(ctx context.Context, in ArchiveInput) (struct{}, error) {
	if a.archiver == nil {
		return struct{}{}, nil
	}
	return struct{}{}, a.archiver.Put(ctx, in.Key, in.Document)
}

// FetchInput names the object to read
type FetchInput struct {
	Key string `json:"key"`
}

// FetchResult carries the object's JSON document
type FetchResult struct {
	Document json.RawMessage `json:"document"`
}

// Fetch reads a JSON document from object storage
func (a *ReportActivities) Fetch(ctx context.Context, in FetchInput) (*FetchResult, error) {
	if a.archiver == nil {
		return nil, errkind.New(errkind.Internal, "activity.Fetch", "object storage is not configured")
	}
	var doc json.RawMessage
	if err := a.archiver.Get(ctx, in.Key, &doc); err != nil {
		return nil, err
	}
	return &FetchResult{Document: doc}, nil
}

// ListInput scopes the listing to a key prefix
type ListInput struct {
	Prefix string `json:"prefix"`
}

// ListResult carries the matching object keys
type ListResult struct {
	Keys []string `json:"keys"`
}

// List returns object keys under a prefix
func (a *ReportActivities) List(ctx context.Context, in ListInput) (*ListResult, error) {
	if a.archiver == nil {
		return nil, errkind.New(errkind.Internal, "activity.List", "object storage is not configured")
	}
	keys, err := a.archiver.List(ctx, in.Prefix)
	if err != nil {
		return nil, err
	}
	return &ListResult{Keys: keys}, nil
}
