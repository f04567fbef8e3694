package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/embedding"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/pkg/observability"
)

func setupManager(t *testing.T) *Manager {
	t.Helper()
	registry, err := NewRegistry()
	require.NoError(t, err)
	c, err := cache.NewLRUCache(8 << 20)
	require.NoError(t, err)
	return NewManager(registry, embedding.NewHashingProvider(256), vectorstore.NewMemoryStore(), c,
		config.CacheConfig{QueryTTL: time.Minute, SessionTTL: time.Minute},
		observability.NewNoopLogger())
}

func TestSaveAndSearchRoundTrip(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	saved, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70 euro train ticket january",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 22.70, "matched": false},
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.False(t, saved.Deduplicated)

	results, err := m.Search(ctx, SearchInput{
		Collection: CollectionInvoices,
		Query:      "SNCB train ticket invoice",
		TopK:       5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, saved.ID, results[0].Record.ID)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSaveDeduplicatesOnContent(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	first, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice Proximus 49.99",
		Metadata:   map[string]interface{}{"vendor": "Proximus", "amount": 49.99},
	})
	require.NoError(t, err)

	second, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice Proximus 49.99",
		Metadata:   map[string]interface{}{"vendor": "Proximus", "amount": 49.99, "matched": true},
	})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.ID, second.ID)

	// The duplicate's metadata merged into the original record
	rec, err := m.Get(ctx, CollectionInvoices, first.ID)
	require.NoError(t, err)
	assert.Equal(t, true, rec.Metadata["matched"])
}

func TestSaveValidation(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Save(ctx, SaveInput{Collection: "no_such_collection", Content: "x"})
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	_, err = m.Save(ctx, SaveInput{Collection: CollectionInvoices, Content: ""})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	_, err = m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    strings.Repeat("a", MaxContentBytes+1),
	})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	// invoices requires vendor and amount
	_, err = m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "missing required fields",
		Metadata:   map[string]interface{}{"vendor": "SNCB"},
	})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	// confidence outside [0, 1] violates the agent_context schema
	_, err = m.Save(ctx, SaveInput{
		Collection: CollectionAgentContext,
		Content:    "decision",
		Metadata:   map[string]interface{}{"session_id": "s1", "confidence": 1.5},
	})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestSearchTopKBounds(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice Luminus 120.00",
		Metadata:   map[string]interface{}{"vendor": "Luminus", "amount": 120.00},
	})
	require.NoError(t, err)

	results, err := m.Search(ctx, SearchInput{Collection: CollectionInvoices, Query: "luminus", TopK: 0})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = m.Search(ctx, SearchInput{Collection: CollectionInvoices, Query: "luminus", TopK: -1})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	_, err = m.Search(ctx, SearchInput{Collection: CollectionInvoices, Query: "", TopK: 5})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestSearchCacheInvalidatedByWrite(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70 train",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 22.70},
	})
	require.NoError(t, err)

	first, err := m.Search(ctx, SearchInput{Collection: CollectionInvoices, Query: "sncb invoice", TopK: 10})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// A second matching record must appear despite the cached result set
	_, err = m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 18.10 train brussels",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 18.10},
	})
	require.NoError(t, err)

	second, err := m.Search(ctx, SearchInput{Collection: CollectionInvoices, Query: "sncb invoice", TopK: 10})
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestBatchSaveAlignsResults(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	existing, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 22.70},
	})
	require.NoError(t, err)

	results, err := m.BatchSave(ctx, []SaveInput{
		{Collection: CollectionInvoices, Content: "Invoice Luminus 120.00",
			Metadata: map[string]interface{}{"vendor": "Luminus", "amount": 120.00}},
		{Collection: CollectionInvoices, Content: "Invoice SNCB 22.70",
			Metadata: map[string]interface{}{"vendor": "SNCB", "amount": 22.70}},
		{Collection: CollectionInvoices, Content: "Invoice Proximus 49.99",
			Metadata: map[string]interface{}{"vendor": "Proximus", "amount": 49.99}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Deduplicated)
	assert.True(t, results[1].Deduplicated)
	assert.Equal(t, existing.ID, results[1].ID)
	assert.False(t, results[2].Deduplicated)

	// An empty batch is a no-op, not an error
	empty, err := m.BatchSave(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	empty, err = m.BatchSave(ctx, []SaveInput{})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSaveRejectsUnknownMetadataFields(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 22.70, "notes": "paid in cash"},
	})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	// Every collection schema is closed to undeclared fields
	posts, err := m.Registry().Get(CollectionSocialPosts)
	require.NoError(t, err)
	err = posts.ValidateMetadata(map[string]interface{}{"platform": "facebook", "mood": "upbeat"})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestSaveRejectsOversizedMetadataValue(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70",
		Metadata: map[string]interface{}{
			"vendor": strings.Repeat("x", MaxMetadataValueBytes+1),
			"amount": 22.70,
		},
	})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestUpdateMetadataValidatesMergedView(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	saved, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 22.70},
	})
	require.NoError(t, err)

	require.NoError(t, m.UpdateMetadata(ctx, CollectionInvoices, saved.ID, map[string]interface{}{
		"matched":      true,
		"match_status": "auto_match",
	}))

	// An invalid enum value is rejected even though the patch is partial
	err = m.UpdateMetadata(ctx, CollectionInvoices, saved.ID, map[string]interface{}{
		"match_status": "perhaps",
	})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	err = m.UpdateMetadata(ctx, CollectionInvoices, saved.ID, nil)
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestDeleteHidesFromSearch(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	saved, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 22.70},
	})
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, CollectionInvoices, saved.ID))

	results, err := m.Search(ctx, SearchInput{Collection: CollectionInvoices, Query: "sncb", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = m.Get(ctx, CollectionInvoices, saved.ID)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestSessionContext(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	type working struct {
		Step  string `json:"step"`
		Count int    `json:"count"`
	}
	require.NoError(t, m.SetSessionContext(ctx, "session-1", working{Step: "compare", Count: 2}))

	var got working
	require.NoError(t, m.GetSessionContext(ctx, "session-1", &got))
	assert.Equal(t, working{Step: "compare", Count: 2}, got)

	err := m.SetSessionContext(ctx, "", "x")
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestStatsAndHealth(t *testing.T) {
	m := setupManager(t)
	ctx := context.Background()

	_, err := m.Save(ctx, SaveInput{
		Collection: CollectionInvoices,
		Content:    "Invoice SNCB 22.70",
		Metadata:   map[string]interface{}{"vendor": "SNCB", "amount": 22.70},
	})
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Collections[CollectionInvoices])
	assert.Equal(t, int64(0), stats.Collections[CollectionAgentContext])

	storeErr, cacheErr := m.ComponentHealth(ctx)
	assert.NoError(t, storeErr)
	assert.NoError(t, cacheErr)
}

func TestRegistryCollections(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{
		CollectionInvoices, CollectionSocialPosts, CollectionAdReports, CollectionAgentContext,
	}, registry.Names())

	_, err = registry.Get("nope")
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	posts, err := registry.Get(CollectionSocialPosts)
	require.NoError(t, err)
	assert.Error(t, posts.ValidateMetadata(map[string]interface{}{"platform": "myspace"}))
	assert.NoError(t, posts.ValidateMetadata(map[string]interface{}{"platform": "facebook", "published": true}))
}
