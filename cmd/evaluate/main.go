// Command evaluate runs a labelled dataset through the scoring logic and
// prints a report. It is fully offline: no database, no network.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/agentflow/agentflow/internal/eval"
	"github.com/agentflow/agentflow/pkg/observability"
)

func main() {
	var (
		datasetPath = flag.String("dataset", "", "path to the dataset JSON file")
		jsonOutput  = flag.Bool("json", false, "print the full report as JSON")
		failUnder   = flag.Float64("fail-under", 1.0, "exit non-zero when accuracy is below this")
	)
	flag.Parse()

	logger := observability.NewStandardLogger("evaluate")
	if *datasetPath == "" {
		logger.Fatal("Missing -dataset flag", nil)
	}

	dataset, err := eval.LoadDataset(*datasetPath)
	if err != nil {
		logger.Fatal("Failed to load dataset", map[string]interface{}{"error": err.Error()})
	}

	harness := eval.NewHarness(eval.NewCostTracker(), logger,
		eval.NewInvoiceEvaluator(),
		eval.NewCaptionEvaluator(),
	)

	report, err := harness.Run(context.Background(), dataset)
	if err != nil {
		logger.Fatal("Evaluation failed", map[string]interface{}{"error": err.Error()})
	}

	if *jsonOutput {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			logger.Fatal("Failed to encode report", map[string]interface{}{"error": err.Error()})
		}
		fmt.Println(string(encoded))
	} else {
		fmt.Printf("dataset:    %s %s\n", report.Dataset, report.Version)
		fmt.Printf("cases:      %d (correct %d, incorrect %d, errored %d)\n",
			report.Total, report.Correct, report.Incorrect, report.Errored)
		fmt.Printf("accuracy:   %.1f%%\n", report.Accuracy*100)
		fmt.Printf("mean score: %.4f\n", report.MeanScore)
		fmt.Printf("latency:    p50 %s, p95 %s\n", report.LatencyP50, report.LatencyP95)
		fmt.Printf("fp rate:    %.1f%%, fn rate: %.1f%%\n",
			report.FalsePositiveRate*100, report.FalseNegativeRate*100)
		fmt.Printf("cost:       $%.4f (prompt %d, completion %d, embedding %d tokens)\n",
			report.Cost.TotalUSD, report.Cost.PromptTokens,
			report.Cost.CompletionTokens, report.Cost.EmbeddingTokens)
		for kind, summary := range report.ByKind {
			fmt.Printf("  kind %-14s %d/%d (%.1f%%)\n", kind, summary.Correct, summary.Total, summary.Accuracy*100)
		}
		for difficulty, summary := range report.ByDifficulty {
			fmt.Printf("  difficulty %-8s %d/%d (%.1f%%)\n", difficulty, summary.Correct, summary.Total, summary.Accuracy*100)
		}
		for _, result := range report.Results {
			if !result.Correct {
				fmt.Printf("  FAIL %s actual=%v\n", result.CaseID, result.Actual)
			}
		}
	}

	if report.Accuracy < *failUnder {
		os.Exit(1)
	}
}
