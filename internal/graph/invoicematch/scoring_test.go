package invoicematch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestScoreExactMatch(t *testing.T) {
	tx := Transaction{Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-03")}
	inv := Invoice{ID: "1", Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-03")}

	s := Score(tx, inv)
	assert.Equal(t, 1.0, s.Vendor)
	assert.Equal(t, 1.0, s.Amount)
	assert.Equal(t, 1.0, s.Date)
	assert.InDelta(t, 1.0, s.Confidence, 1e-9)
	assert.GreaterOrEqual(t, s.Confidence, 0.95)
	assert.Equal(t, StatusAutoMatch, Decide(s.Confidence))
}

func TestScorePartialVendorCloseAmount(t *testing.T) {
	// A fuzzy vendor with a near amount lands in the review band
	tx := Transaction{Vendor: "NMBS", Amount: 22.50, Date: day("2025-01-03")}
	inv := Invoice{ID: "2", Vendor: "SNCB/NMBS", Amount: 22.70, Date: day("2025-01-03")}

	s := Score(tx, inv)
	assert.Equal(t, 0.7, s.Vendor)
	assert.Greater(t, s.Amount, 0.9)
	assert.Equal(t, 1.0, s.Date)
	assert.GreaterOrEqual(t, s.Confidence, 0.70)
	assert.Less(t, s.Confidence, 0.90)
	assert.Equal(t, StatusHumanReview, Decide(s.Confidence))
}

func TestScoreUnknownVendor(t *testing.T) {
	tx := Transaction{Vendor: "Unknown Vendor GmbH", Amount: 100.00, Date: day("2025-01-03")}
	inv := Invoice{ID: "1", Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-03")}

	s := Score(tx, inv)
	assert.Equal(t, 0.0, s.Vendor)
	assert.Equal(t, 0.0, s.Amount)
	assert.Less(t, s.Confidence, 0.70)
	assert.Equal(t, StatusNoMatch, Decide(s.Confidence))
}

func TestVendorScoreTokenOverlap(t *testing.T) {
	tx := Transaction{Vendor: "Acme Cleaning Services", Amount: 10, Date: day("2025-01-03")}
	inv := Invoice{ID: "1", Vendor: "Acme Catering", Amount: 10, Date: day("2025-01-03")}

	// One of two tokens shared with the smaller name
	s := Score(tx, inv)
	assert.Equal(t, 0.5, s.Vendor)
}

func TestAmountScoreBands(t *testing.T) {
	date := day("2025-01-03")
	exact := Score(Transaction{Vendor: "v", Amount: 100, Date: date}, Invoice{Vendor: "v", Amount: 100.40, Date: date})
	assert.Equal(t, 1.0, exact.Amount, "within half a percent")

	far := Score(Transaction{Vendor: "v", Amount: 100, Date: date}, Invoice{Vendor: "v", Amount: 200, Date: date})
	assert.Equal(t, 0.0, far.Amount, "beyond fifteen percent")

	mid := Score(Transaction{Vendor: "v", Amount: 100, Date: date}, Invoice{Vendor: "v", Amount: 92, Date: date})
	assert.Greater(t, mid.Amount, 0.0)
	assert.Less(t, mid.Amount, 1.0)

	zero := Score(Transaction{Vendor: "v", Amount: 0, Date: date}, Invoice{Vendor: "v", Amount: 0, Date: date})
	assert.Equal(t, 1.0, zero.Amount)
}

func TestDateScoreBands(t *testing.T) {
	base := day("2025-01-15")
	cases := []struct {
		other string
		want  float64
	}{
		{"2025-01-15", 1.0},
		{"2025-01-16", 0.8},
		{"2025-01-20", 0.5},
		{"2025-02-10", 0.2},
		{"2025-06-01", 0.0},
	}
	for _, c := range cases {
		s := Score(
			Transaction{Vendor: "v", Amount: 10, Date: base},
			Invoice{Vendor: "v", Amount: 10, Date: day(c.other)},
		)
		assert.Equal(t, c.want, s.Date, c.other)
	}

	missing := Score(Transaction{Vendor: "v", Amount: 10}, Invoice{Vendor: "v", Amount: 10, Date: base})
	assert.Equal(t, 0.0, missing.Date)
}

func TestBestSortsAndBreaksTies(t *testing.T) {
	tx := Transaction{Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-03")}
	scores := Best(tx, []Invoice{
		{ID: "far", Vendor: "Luminus", Amount: 300, Date: day("2024-06-01")},
		{ID: "exact", Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-03")},
		{ID: "close", Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-04")},
	})
	require.Len(t, scores, 3)
	assert.Equal(t, "exact", scores[0].InvoiceID)
	assert.Equal(t, "close", scores[1].InvoiceID)
	assert.Equal(t, "far", scores[2].InvoiceID)

	// Identical candidates order by id for determinism
	tied := Best(tx, []Invoice{
		{ID: "b", Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-03")},
		{ID: "a", Vendor: "SNCB", Amount: 22.70, Date: day("2025-01-03")},
	})
	assert.Equal(t, "a", tied[0].InvoiceID)
	assert.Equal(t, "b", tied[1].InvoiceID)
}

func TestDecideThresholds(t *testing.T) {
	assert.Equal(t, StatusAutoMatch, Decide(0.90))
	assert.Equal(t, StatusAutoMatch, Decide(0.99))
	assert.Equal(t, StatusHumanReview, Decide(0.899))
	assert.Equal(t, StatusHumanReview, Decide(0.70))
	assert.Equal(t, StatusNoMatch, Decide(0.699))
	assert.Equal(t, StatusNoMatch, Decide(0))
}
