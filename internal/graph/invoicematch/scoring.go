// Package invoicematch matches incoming bank transactions against stored
// invoices. Scoring is a weighted blend of vendor, amount and date
// agreement; the blended confidence picks one of three outcomes.
package invoicematch

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Outcome labels for a scored match
const (
	StatusAutoMatch   = "auto_match"
	StatusHumanReview = "human_review"
	StatusNoMatch     = "no_match"
)

// Confidence thresholds separating the outcomes
const (
	AutoMatchThreshold   = 0.90
	HumanReviewThreshold = 0.70
)

// Component weights. They sum to 1 so confidence stays in [0, 1].
const (
	vendorWeight = 0.45
	amountWeight = 0.40
	dateWeight   = 0.15
)

// Transaction is an incoming bank line to match
type Transaction struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Vendor      string    `json:"vendor"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
}

// Invoice is a stored invoice candidate
type Invoice struct {
	ID     string    `json:"id"`
	Vendor string    `json:"vendor"`
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date"`
}

// MatchScore breaks a candidate's confidence into its components
type MatchScore struct {
	InvoiceID  string  `json:"invoice_id"`
	Vendor     float64 `json:"vendor_score"`
	Amount     float64 `json:"amount_score"`
	Date       float64 `json:"date_score"`
	Confidence float64 `json:"confidence"`
}

// Score computes the weighted confidence for one candidate
func Score(tx Transaction, inv Invoice) MatchScore {
	s := MatchScore{
		InvoiceID: inv.ID,
		Vendor:    vendorScore(tx.Vendor, inv.Vendor),
		Amount:    amountScore(tx.Amount, inv.Amount),
		Date:      dateScore(tx.Date, inv.Date),
	}
	s.Confidence = vendorWeight*s.Vendor + amountWeight*s.Amount + dateWeight*s.Date
	return s
}

// Best scores every candidate and returns them sorted by confidence,
// highest first. Ties break on invoice id for determinism.
func Best(tx Transaction, candidates []Invoice) []MatchScore {
	scores := make([]MatchScore, len(candidates))
	for i, inv := range candidates {
		scores[i] = Score(tx, inv)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Confidence != scores[j].Confidence {
			return scores[i].Confidence > scores[j].Confidence
		}
		return scores[i].InvoiceID < scores[j].InvoiceID
	})
	return scores
}

// Decide maps a confidence onto an outcome label
func Decide(confidence float64) string {
	switch {
	case confidence >= AutoMatchThreshold:
		return StatusAutoMatch
	case confidence >= HumanReviewThreshold:
		return StatusHumanReview
	default:
		return StatusNoMatch
	}
}

// vendorScore compares vendor names: exact (case-insensitive) scores 1.0,
// one containing the other 0.7, at least half the tokens shared 0.5.
func vendorScore(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.7
	}
	if tokenOverlap(a, b) >= 0.5 {
		return 0.5
	}
	return 0
}

func tokenOverlap(a, b string) float64 {
	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	setB := make(map[string]struct{}, len(tokensB))
	for _, t := range tokensB {
		setB[t] = struct{}{}
	}
	shared := 0
	for _, t := range tokensA {
		if _, ok := setB[t]; ok {
			shared++
		}
	}
	smaller := len(tokensA)
	if len(tokensB) < smaller {
		smaller = len(tokensB)
	}
	return float64(shared) / float64(smaller)
}

// amountScore compares amounts by relative difference. Within 0.5% is a
// perfect score; beyond 15% scores zero; in between the score falls
// linearly.
func amountScore(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return 1.0
	}
	rel := math.Abs(a-b) / larger
	switch {
	case rel <= 0.005:
		return 1.0
	case rel >= 0.15:
		return 0
	default:
		return (0.15 - rel) / (0.15 - 0.005)
	}
}

// dateScore rewards proximity: same day 1.0, one day 0.8, a week 0.5, a
// month 0.2, anything further zero.
func dateScore(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	days := int(math.Abs(a.Sub(b).Hours()) / 24)
	switch {
	case days == 0:
		return 1.0
	case days <= 1:
		return 0.8
	case days <= 7:
		return 0.5
	case days <= 30:
		return 0.2
	default:
		return 0
	}
}
