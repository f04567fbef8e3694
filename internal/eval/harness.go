package eval

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

// Metric keys evaluators may set. falsePositive and falseNegative feed
// the report's rates; score feeds the mean score.
const (
	MetricScore         = "score"
	MetricFalsePositive = "false_positive"
	MetricFalseNegative = "false_negative"
)

// CaseResult is the outcome of one evaluated case
type CaseResult struct {
	CaseID     string             `json:"case_id"`
	Kind       string             `json:"kind"`
	Difficulty string             `json:"difficulty"`
	Correct    bool               `json:"correct"`
	Actual     interface{}        `json:"actual,omitempty"`
	Expected   json.RawMessage    `json:"expected,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Error      string             `json:"error,omitempty"`
	Latency    time.Duration      `json:"latency"`
	Usage      Usage              `json:"usage"`
	CostUSD    float64            `json:"cost_usd"`
}

// Evaluator scores one kind of case
type Evaluator interface {
	Kind() string
	Evaluate(ctx context.Context, c Case) (CaseResult, error)
}

// Summary aggregates one slice of the results
type Summary struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Report aggregates a harness run
type Report struct {
	Dataset           string              `json:"dataset"`
	Version           string              `json:"version,omitempty"`
	Total             int                 `json:"total"`
	Correct           int                 `json:"correct"`
	Incorrect         int                 `json:"incorrect"`
	Errored           int                 `json:"errored"`
	Accuracy          float64             `json:"accuracy"`
	MeanScore         float64             `json:"mean_score"`
	ByDifficulty      map[string]*Summary `json:"by_difficulty"`
	ByKind            map[string]*Summary `json:"by_kind"`
	LatencyP50        time.Duration       `json:"latency_p50"`
	LatencyP95        time.Duration       `json:"latency_p95"`
	FalsePositiveRate float64             `json:"false_positive_rate"`
	FalseNegativeRate float64             `json:"false_negative_rate"`
	Results           []CaseResult        `json:"results"`
	Cost              CostSummary         `json:"cost"`
}

// Harness runs datasets through registered evaluators
type Harness struct {
	evaluators map[string]Evaluator
	cost       *CostTracker
	logger     observability.Logger
}

// NewHarness creates a harness with the given evaluators
func NewHarness(cost *CostTracker, logger observability.Logger, evaluators ...Evaluator) *Harness {
	byKind := make(map[string]Evaluator, len(evaluators))
	for _, e := range evaluators {
		byKind[e.Kind()] = e
	}
	return &Harness{evaluators: byKind, cost: cost, logger: logger}
}

// Run evaluates every case and aggregates the outcome. A case whose
// evaluator errors counts as errored, not incorrect.
func (h *Harness) Run(ctx context.Context, dataset *Dataset) (*Report, error) {
	report := &Report{
		Dataset:      dataset.Name,
		Version:      dataset.Version,
		Total:        len(dataset.Cases),
		ByDifficulty: make(map[string]*Summary),
		ByKind:       make(map[string]*Summary),
	}

	var (
		scoreSum       float64
		scoreCount     int
		falsePositives int
		falseNegatives int
		latencies      []time.Duration
	)
	for _, c := range dataset.Cases {
		evaluator, ok := h.evaluators[c.Kind]
		if !ok {
			return nil, errkind.Newf(errkind.SchemaViolation, "eval.Run", "no evaluator for kind %s", c.Kind)
		}

		start := time.Now()
		result, err := evaluator.Evaluate(ctx, c)
		result.CaseID = c.ID
		result.Kind = c.Kind
		result.Difficulty = c.Difficulty
		result.Expected = c.Expected
		result.Latency = time.Since(start)
		latencies = append(latencies, result.Latency)

		result.CostUSD = result.Usage.USD()
		if h.cost != nil {
			h.cost.Record(c.ID, result.Usage)
		}

		kindSummary := summaryFor(report.ByKind, c.Kind)
		difficultySummary := summaryFor(report.ByDifficulty, c.Difficulty)
		kindSummary.Total++
		difficultySummary.Total++

		switch {
		case err != nil:
			result.Error = err.Error()
			result.Correct = false
			report.Errored++
			h.logger.Warn("Case errored", map[string]interface{}{
				"case":  c.ID,
				"error": err.Error(),
			})
		case result.Correct:
			report.Correct++
			kindSummary.Correct++
			difficultySummary.Correct++
		default:
			report.Incorrect++
		}

		if score, ok := result.Metrics[MetricScore]; ok {
			scoreSum += score
			scoreCount++
		}
		if result.Metrics[MetricFalsePositive] > 0 {
			falsePositives++
		}
		if result.Metrics[MetricFalseNegative] > 0 {
			falseNegatives++
		}
		report.Results = append(report.Results, result)
	}

	if report.Total > 0 {
		report.Accuracy = float64(report.Correct) / float64(report.Total)
		report.FalsePositiveRate = float64(falsePositives) / float64(report.Total)
		report.FalseNegativeRate = float64(falseNegatives) / float64(report.Total)
	}
	if scoreCount > 0 {
		report.MeanScore = scoreSum / float64(scoreCount)
	}
	for _, summary := range report.ByKind {
		finalize(summary)
	}
	for _, summary := range report.ByDifficulty {
		finalize(summary)
	}
	report.LatencyP50 = percentile(latencies, 50)
	report.LatencyP95 = percentile(latencies, 95)
	if h.cost != nil {
		report.Cost = h.cost.Summary()
	}
	return report, nil
}

func summaryFor(m map[string]*Summary, key string) *Summary {
	s := m[key]
	if s == nil {
		s = &Summary{}
		m[key] = s
	}
	return s
}

func finalize(s *Summary) {
	if s.Total > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.Total)
	}
}

// percentile returns the pth percentile latency by nearest-rank
func percentile(latencies []time.Duration, p int) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (len(sorted)*p + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
