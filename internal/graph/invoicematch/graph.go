package invoicematch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/pkg/observability"
)

// GraphName identifies the invoice matcher in metrics and the run API
const GraphName = "invoice_matcher"

// AgentName is recorded on every context entry this graph writes
const AgentName = "invoice_matcher"

// state keys threaded through the graph
const (
	keyTransaction = "transaction"
	keyInvoices    = "invoices"
	keyQuery       = "query"
	keyCandidates  = "candidates"
	keyFromMemory  = "from_memory"
	keyScores      = "scores"
	keyBest        = "best"
	keyConfidence  = "confidence"
	keyDecision    = "decision_type"
)

// MatchInput carries one transaction and the invoices it may settle
type MatchInput struct {
	Transaction Transaction `json:"transaction"`
	Invoices    []Invoice   `json:"invoices,omitempty"`
}

// MatchResult is the graph's output
type MatchResult struct {
	TransactionID  string       `json:"transaction_id"`
	Matched        bool         `json:"matched"`
	InvoiceID      string       `json:"invoice_id,omitempty"`
	Confidence     float64      `json:"confidence"`
	DecisionType   string       `json:"decision_type"`
	StepsCompleted []string     `json:"steps_completed"`
	Warnings       []string     `json:"warnings,omitempty"`
	Scores         []MatchScore `json:"scores,omitempty"`
}

// Matcher runs the matching graph: build_query, search_memory,
// compare_invoices, then save_context unless nothing matched.
type Matcher struct {
	memory *memory.Manager
	runner *graph.Runner
	graph  *graph.Graph
	logger observability.Logger
}

// NewMatcher compiles the matching graph
func NewMatcher(mem *memory.Manager, runner *graph.Runner, logger observability.Logger) (*Matcher, error) {
	m := &Matcher{memory: mem, runner: runner, logger: logger}

	g, err := graph.NewBuilder(GraphName).
		AddNode("build_query", m.buildQuery).
		AddNode("search_memory", m.searchMemory).
		AddNode("compare_invoices", m.compareInvoices).
		AddNode("save_context", m.saveContext).
		SetEntry("build_query").
		AddEdge("build_query", "search_memory").
		AddEdge("search_memory", "compare_invoices").
		AddConditionalEdges("compare_invoices", routeByDecision, map[string]string{
			"save_context": "save_context",
			"end":          graph.End,
		}).
		AddEdge("save_context", graph.End).
		Compile()
	if err != nil {
		return nil, err
	}
	m.graph = g
	return m, nil
}

// Run matches one transaction and returns the outcome
func (m *Matcher) Run(ctx context.Context, in MatchInput) (*MatchResult, error) {
	tx := in.Transaction
	if tx.Vendor == "" && tx.Description == "" {
		return nil, errkind.New(errkind.SchemaViolation, "invoicematch.Run", "transaction has no vendor or description")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}

	final, err := m.runner.Run(ctx, m.graph, graph.State{
		keyTransaction: tx,
		keyInvoices:    in.Invoices,
	})
	if err != nil {
		return nil, err
	}

	result := &MatchResult{
		TransactionID:  tx.ID,
		Confidence:     final.GetFloat(keyConfidence),
		DecisionType:   final.GetString(keyDecision),
		StepsCompleted: final.Steps(),
		Warnings:       final.Warnings(),
	}
	result.Matched = result.DecisionType != StatusNoMatch
	if best, ok := final[keyBest].(MatchScore); ok && result.Matched {
		result.InvoiceID = best.InvoiceID
	}
	if scores, ok := final[keyScores].([]MatchScore); ok {
		result.Scores = scores
	}
	return result, nil
}

func routeByDecision(state graph.State) string {
	if state.GetString(keyDecision) == StatusNoMatch {
		return "end"
	}
	return "save_context"
}

// buildQuery turns the transaction into a search string
func (m *Matcher) buildQuery(ctx context.Context, state graph.State) (graph.State, error) {
	tx := state[keyTransaction].(Transaction)

	query := fmt.Sprintf("%s %.2f %s", tx.Vendor, tx.Amount, tx.Date.Format("2006-01-02"))
	if tx.Description != "" {
		query += " " + tx.Description
	}
	state[keyQuery] = query
	return state, nil
}

// searchMemory pulls still-unmatched invoices from memory to widen the
// candidate pool. A failure here degrades to the caller-provided invoices
// rather than aborting the run.
func (m *Matcher) searchMemory(ctx context.Context, state graph.State) (graph.State, error) {
	results, err := m.memory.Search(ctx, memory.SearchInput{
		Collection: memory.CollectionInvoices,
		Query:      state.GetString(keyQuery),
		TopK:       10,
		Filter: &vectorstore.Filter{Conditions: []vectorstore.Condition{
			{Field: "matched", Op: vectorstore.OpEq, Value: false},
		}},
	})
	if err != nil {
		state.AddWarning("memory search failed: " + err.Error())
		return state, nil
	}
	if len(results) == 0 {
		state.AddWarning("memory search returned no unmatched invoices")
		return state, nil
	}

	fromMemory := make(map[string]bool, len(results))
	candidates := make([]Invoice, 0, len(results))
	for _, r := range results {
		inv := Invoice{ID: r.Record.ID}
		if v, ok := r.Record.Metadata["vendor"].(string); ok {
			inv.Vendor = v
		}
		inv.Amount = metadataFloat(r.Record.Metadata, "amount")
		if d, ok := r.Record.Metadata["invoice_date"].(string); ok {
			if t, err := time.Parse("2006-01-02", d); err == nil {
				inv.Date = t
			}
		}
		candidates = append(candidates, inv)
		fromMemory[inv.ID] = true
	}
	state[keyCandidates] = candidates
	state[keyFromMemory] = fromMemory
	return state, nil
}

// compareInvoices scores the caller's invoices and the memory candidates
// together and keeps the best
func (m *Matcher) compareInvoices(ctx context.Context, state graph.State) (graph.State, error) {
	tx := state[keyTransaction].(Transaction)
	provided, _ := state[keyInvoices].([]Invoice)
	remembered, _ := state[keyCandidates].([]Invoice)

	pool := make([]Invoice, 0, len(provided)+len(remembered))
	pool = append(pool, provided...)
	pool = append(pool, remembered...)

	if len(pool) == 0 {
		state.AddWarning("no candidate invoices to compare")
		state[keyConfidence] = 0.0
		state[keyDecision] = StatusNoMatch
		return state, nil
	}

	scores := Best(tx, pool)
	best := scores[0]
	state[keyScores] = scores
	state[keyBest] = best
	state[keyConfidence] = best.Confidence
	state[keyDecision] = Decide(best.Confidence)
	return state, nil
}

// saveContext records the decision in agent_context and, when the winner
// came from memory, stamps the invoice so later searches skip it
func (m *Matcher) saveContext(ctx context.Context, state graph.State) (graph.State, error) {
	tx := state[keyTransaction].(Transaction)
	best := state[keyBest].(MatchScore)
	decision := state.GetString(keyDecision)

	content := fmt.Sprintf("Transaction %s (%s, %.2f) matched invoice %s with confidence %.4f (%s)",
		tx.ID, tx.Vendor, tx.Amount, best.InvoiceID, best.Confidence, decision)
	_, err := m.memory.Save(ctx, memory.SaveInput{
		Collection: memory.CollectionAgentContext,
		Content:    content,
		Metadata: map[string]interface{}{
			"session_id":     tx.ID,
			"agent_name":     AgentName,
			"context_type":   decision,
			"confidence":     best.Confidence,
			"transaction_id": tx.ID,
		},
	})
	if err != nil {
		return nil, err
	}

	if fromMemory, _ := state[keyFromMemory].(map[string]bool); fromMemory[best.InvoiceID] {
		err := m.memory.UpdateMetadata(ctx, memory.CollectionInvoices, best.InvoiceID, map[string]interface{}{
			"matched":             decision == StatusAutoMatch,
			"match_status":        decision,
			"confidence":          best.Confidence,
			"matched_transaction": tx.ID,
		})
		if err != nil {
			state.AddWarning("failed to stamp matched invoice: " + err.Error())
		}
	}

	m.logger.Info("Invoice decision recorded", map[string]interface{}{
		"transaction": tx.ID,
		"invoice":     best.InvoiceID,
		"confidence":  best.Confidence,
		"decision":    decision,
	})
	return state, nil
}

func metadataFloat(metadata map[string]interface{}, key string) float64 {
	switch v := metadata[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
