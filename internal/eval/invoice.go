package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/invoicematch"
)

// invoiceParty carries the fields shared by transactions and invoices in
// dataset files. IDs may be numbers or strings; they are normalized to
// strings for comparison.
type invoiceParty struct {
	ID         interface{} `json:"id,omitempty"`
	VendorName string      `json:"vendorName"`
	Amount     float64     `json:"amount"`
	Date       string      `json:"date"`
}

// invoiceCaseInput pairs a transaction with its candidate invoices
type invoiceCaseInput struct {
	Transaction invoiceParty   `json:"transaction"`
	Invoices    []invoiceParty `json:"invoices"`
}

// invoiceCaseExpected is the labelled outcome
type invoiceCaseExpected struct {
	Matched      bool        `json:"matched"`
	InvoiceID    interface{} `json:"invoice_id,omitempty"`
	DecisionType string      `json:"decision_type,omitempty"`
	// Confidence, when set, must match the computed value within Tolerance
	Confidence *float64 `json:"confidence,omitempty"`
	Tolerance  float64  `json:"tolerance,omitempty"`
}

// invoiceActual is the decision the scoring logic produced
type invoiceActual struct {
	Matched      bool    `json:"matched"`
	InvoiceID    string  `json:"invoice_id,omitempty"`
	Confidence   float64 `json:"confidence"`
	DecisionType string  `json:"decision_type"`
}

// InvoiceEvaluator checks the matcher's scoring against labelled cases.
// A case is correct when the matched flag agrees and, for matches, the
// winning invoice id agrees. Decision-type agreement is reported as a
// separate metric.
type InvoiceEvaluator struct{}

// NewInvoiceEvaluator creates the invoice scoring evaluator
func NewInvoiceEvaluator() *InvoiceEvaluator { return &InvoiceEvaluator{} }

// Kind returns the case kind this evaluator handles
func (e *InvoiceEvaluator) Kind() string { return KindInvoiceMatch }

// Evaluate scores the candidates and compares the decision
func (e *InvoiceEvaluator) Evaluate(ctx context.Context, c Case) (CaseResult, error) {
	var input invoiceCaseInput
	if err := json.Unmarshal(c.Input, &input); err != nil {
		return CaseResult{}, errkind.Wrap(errkind.SchemaViolation, "eval.InvoiceEvaluator", err)
	}
	var expected invoiceCaseExpected
	if err := json.Unmarshal(c.Expected, &expected); err != nil {
		return CaseResult{}, errkind.Wrap(errkind.SchemaViolation, "eval.InvoiceEvaluator", err)
	}

	tx := invoicematch.Transaction{
		Vendor: input.Transaction.VendorName,
		Amount: input.Transaction.Amount,
		Date:   parseDate(input.Transaction.Date),
	}
	candidates := make([]invoicematch.Invoice, len(input.Invoices))
	for i, inv := range input.Invoices {
		candidates[i] = invoicematch.Invoice{
			ID:     normalizeID(inv.ID),
			Vendor: inv.VendorName,
			Amount: inv.Amount,
			Date:   parseDate(inv.Date),
		}
	}

	actual := invoiceActual{DecisionType: invoicematch.StatusNoMatch}
	var best invoicematch.MatchScore
	if len(candidates) > 0 {
		best = invoicematch.Best(tx, candidates)[0]
		actual.Confidence = best.Confidence
		actual.DecisionType = invoicematch.Decide(best.Confidence)
	}
	actual.Matched = actual.DecisionType != invoicematch.StatusNoMatch
	if actual.Matched {
		actual.InvoiceID = best.InvoiceID
	}

	correct := actual.Matched == expected.Matched
	if correct && expected.Matched && expected.InvoiceID != nil {
		correct = actual.InvoiceID == normalizeID(expected.InvoiceID)
	}
	if correct && expected.Confidence != nil {
		tolerance := expected.Tolerance
		if tolerance == 0 {
			tolerance = 0.001
		}
		correct = math.Abs(actual.Confidence-*expected.Confidence) <= tolerance
	}

	metrics := map[string]float64{
		MetricScore:    actual.Confidence,
		"vendor_score": best.Vendor,
		"amount_score": best.Amount,
		"date_score":   best.Date,
	}
	if expected.DecisionType != "" {
		metrics["decision_accuracy"] = boolMetric(actual.DecisionType == expected.DecisionType)
	}
	if actual.Matched && !expected.Matched {
		metrics[MetricFalsePositive] = 1
	}
	if !actual.Matched && expected.Matched {
		metrics[MetricFalseNegative] = 1
	}

	// The production matcher embeds the transaction and every candidate
	// for its memory search; account those tokens.
	texts := []string{input.Transaction.VendorName}
	for _, inv := range input.Invoices {
		texts = append(texts, inv.VendorName)
	}
	usage := Usage{EmbeddingTokens: estimateTokens(texts...)}

	return CaseResult{Correct: correct, Actual: actual, Metrics: metrics, Usage: usage}, nil
}

func normalizeID(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return fmt.Sprintf("%.0f", v)
		}
		return fmt.Sprint(v)
	default:
		return fmt.Sprint(v)
	}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func parseDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
