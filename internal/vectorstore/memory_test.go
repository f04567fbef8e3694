package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/errkind"
)

func seedRecords(t *testing.T, s *MemoryStore) {
	t.Helper()
	err := s.Upsert(context.Background(), []Record{
		{
			ID: "a", Collection: "invoices", Content: "invoice a", ContentHash: "hash-a",
			Metadata:  map[string]interface{}{"vendor": "SNCB", "amount": 22.70, "matched": false},
			Embedding: []float32{1, 0, 0},
		},
		{
			ID: "b", Collection: "invoices", Content: "invoice b", ContentHash: "hash-b",
			Metadata:  map[string]interface{}{"vendor": "Proximus", "amount": 49.99, "matched": true},
			Embedding: []float32{0.9, 0.1, 0},
		},
		{
			ID: "c", Collection: "invoices", Content: "invoice c", ContentHash: "hash-c",
			Metadata:  map[string]interface{}{"vendor": "Luminus", "amount": 120.00, "matched": false},
			Embedding: []float32{0, 1, 0},
		},
	})
	require.NoError(t, err)
}

func TestMemoryStoreSearchOrdering(t *testing.T) {
	s := NewMemoryStore()
	seedRecords(t, s)

	results, err := s.Search(context.Background(), SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1, 0, 0},
		TopK:       2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Record.ID)
	assert.Equal(t, "b", results[1].Record.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestMemoryStoreSearchTieBreaksOnID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Identical embeddings force equal scores; insertion order is shuffled
	// so only the id tie-break can produce the expected ranking.
	require.NoError(t, s.Upsert(ctx, []Record{
		{ID: "z", Collection: "invoices", Content: "z", ContentHash: "hz", Embedding: []float32{1, 0, 0}},
		{ID: "m", Collection: "invoices", Content: "m", ContentHash: "hm", Embedding: []float32{1, 0, 0}},
		{ID: "a", Collection: "invoices", Content: "a", ContentHash: "ha", Embedding: []float32{1, 0, 0}},
	}))

	for i := 0; i < 5; i++ {
		results, err := s.Search(ctx, SearchQuery{
			Collection: "invoices",
			Vector:     []float32{1, 0, 0},
			TopK:       3,
		})
		require.NoError(t, err)
		require.Len(t, results, 3)
		assert.Equal(t, "a", results[0].Record.ID)
		assert.Equal(t, "m", results[1].Record.ID)
		assert.Equal(t, "z", results[2].Record.ID)
	}
}

func TestMemoryStoreSearchFilters(t *testing.T) {
	s := NewMemoryStore()
	seedRecords(t, s)
	ctx := context.Background()

	unmatched, err := s.Search(ctx, SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1, 0, 0},
		TopK:       10,
		Filter: &Filter{Conditions: []Condition{
			{Field: "matched", Op: OpEq, Value: false},
		}},
	})
	require.NoError(t, err)
	require.Len(t, unmatched, 2)
	for _, r := range unmatched {
		assert.Equal(t, false, r.Record.Metadata["matched"])
	}

	expensive, err := s.Search(ctx, SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1, 0, 0},
		TopK:       10,
		Filter: &Filter{Conditions: []Condition{
			{Field: "amount", Op: OpGte, Value: 50},
		}},
	})
	require.NoError(t, err)
	require.Len(t, expensive, 1)
	assert.Equal(t, "c", expensive[0].Record.ID)

	vendors, err := s.Search(ctx, SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1, 0, 0},
		TopK:       10,
		Filter: &Filter{Conditions: []Condition{
			{Field: "vendor", Op: OpIn, Value: []interface{}{"SNCB", "Luminus"}},
		}},
	})
	require.NoError(t, err)
	assert.Len(t, vendors, 2)

	notSNCB, err := s.Search(ctx, SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1, 0, 0},
		TopK:       10,
		Filter: &Filter{Conditions: []Condition{
			{Field: "vendor", Op: OpNeq, Value: "SNCB"},
		}},
	})
	require.NoError(t, err)
	require.Len(t, notSNCB, 2)
	for _, r := range notSNCB {
		assert.NotEqual(t, "SNCB", r.Record.Metadata["vendor"])
	}

	midRange, err := s.Search(ctx, SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1, 0, 0},
		TopK:       10,
		Filter: &Filter{Conditions: []Condition{
			{Field: "amount", Op: OpGt, Value: 22.70},
			{Field: "amount", Op: OpLt, Value: 120.00},
		}},
	})
	require.NoError(t, err)
	require.Len(t, midRange, 1, "strict bounds exclude both endpoints")
	assert.Equal(t, "b", midRange[0].Record.ID)
}

func TestMemoryStoreNeqMatchesAbsentField(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Upsert(context.Background(), []Record{
		{ID: "x", Collection: "posts", Embedding: []float32{1}},
	}))

	results, err := s.Search(context.Background(), SearchQuery{
		Collection: "posts",
		Vector:     []float32{1},
		Filter: &Filter{Conditions: []Condition{
			{Field: "platform", Op: OpNeq, Value: "facebook"},
		}},
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMemoryStoreSearchRejectsBadFilter(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Search(context.Background(), SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1},
		Filter: &Filter{Conditions: []Condition{
			{Field: "vendor", Op: Op("like"), Value: "x"},
		}},
	})
	require.Error(t, err)
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestMemoryStoreMinScore(t *testing.T) {
	s := NewMemoryStore()
	seedRecords(t, s)

	results, err := s.Search(context.Background(), SearchQuery{
		Collection: "invoices",
		Vector:     []float32{1, 0, 0},
		TopK:       10,
		MinScore:   0.5,
	})
	require.NoError(t, err)
	// c is orthogonal to the query and falls below the floor
	require.Len(t, results, 2)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.5)
	}
}

func TestMemoryStoreTombstones(t *testing.T) {
	s := NewMemoryStore()
	seedRecords(t, s)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "invoices", "a", false))

	_, err := s.Get(ctx, "invoices", "a")
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))

	results, err := s.Search(ctx, SearchQuery{Collection: "invoices", Vector: []float32{1, 0, 0}, TopK: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "a", r.Record.ID)
	}

	count, err := s.Count(ctx, "invoices")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	found, err := s.FindByContentHash(ctx, "invoices", "hash-a")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Upserting the same id clears the tombstone
	require.NoError(t, s.Upsert(ctx, []Record{{
		ID: "a", Collection: "invoices", Content: "invoice a", ContentHash: "hash-a",
		Metadata:  map[string]interface{}{"vendor": "SNCB"},
		Embedding: []float32{1, 0, 0},
	}}))
	rec, err := s.Get(ctx, "invoices", "a")
	require.NoError(t, err)
	assert.Nil(t, rec.DeletedAt)
}

func TestMemoryStoreHardDelete(t *testing.T) {
	s := NewMemoryStore()
	seedRecords(t, s)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "invoices", "b", true))
	err := s.Delete(ctx, "invoices", "b", true)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestMemoryStoreUpdateMetadataMerges(t *testing.T) {
	s := NewMemoryStore()
	seedRecords(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpdateMetadata(ctx, "invoices", "a", map[string]interface{}{
		"matched":      true,
		"match_status": "auto_match",
	}))

	rec, err := s.Get(ctx, "invoices", "a")
	require.NoError(t, err)
	assert.Equal(t, true, rec.Metadata["matched"])
	assert.Equal(t, "auto_match", rec.Metadata["match_status"])
	// Untouched fields survive the merge
	assert.Equal(t, "SNCB", rec.Metadata["vendor"])

	err = s.UpdateMetadata(ctx, "invoices", "missing", map[string]interface{}{"x": 1})
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
}

func TestMemoryStoreFindByContentHash(t *testing.T) {
	s := NewMemoryStore()
	seedRecords(t, s)
	ctx := context.Background()

	rec, err := s.FindByContentHash(ctx, "invoices", "hash-b")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "b", rec.ID)

	rec, err = s.FindByContentHash(ctx, "invoices", "no-such-hash")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFilterFingerprintCanonical(t *testing.T) {
	a := &Filter{Conditions: []Condition{
		{Field: "brand", Op: OpEq, Value: "pomandi"},
		{Field: "published", Op: OpEq, Value: true},
	}}
	b := &Filter{Conditions: []Condition{
		{Field: "published", Op: OpEq, Value: true},
		{Field: "brand", Op: OpEq, Value: "pomandi"},
	}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := &Filter{Conditions: []Condition{
		{Field: "brand", Op: OpEq, Value: "costume"},
	}}
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	var nilFilter *Filter
	assert.Equal(t, "", nilFilter.Fingerprint())
	assert.Equal(t, "", (&Filter{}).Fingerprint())
}

func TestFilterValidate(t *testing.T) {
	good := &Filter{Conditions: []Condition{
		{Field: "vendor", Op: OpEq, Value: "SNCB"},
		{Field: "amount", Op: OpLte, Value: 100},
	}}
	require.NoError(t, good.Validate())

	assert.Error(t, (&Filter{Conditions: []Condition{{Field: "", Op: OpEq, Value: 1}}}).Validate())
	assert.Error(t, (&Filter{Conditions: []Condition{{Field: "x", Op: Op("regex"), Value: 1}}}).Validate())
}
