// Package eval is the offline evaluation harness. It replays labelled
// cases through the scoring logic and reports accuracy, latency and cost,
// without touching the network or the production stores.
package eval

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agentflow/agentflow/internal/errkind"
)

// Case kinds
const (
	KindInvoiceMatch = "invoice_match"
	KindCaption      = "caption"
)

// Difficulty labels
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Case is one labelled example
type Case struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Difficulty string          `json:"difficulty"`
	Input      json.RawMessage `json:"input"`
	Expected   json.RawMessage `json:"expected"`
}

// Dataset is a named, versioned set of cases
type Dataset struct {
	Name    string `json:"dataset_name"`
	Version string `json:"version"`
	Cases   []Case `json:"test_cases"`
}

const datasetSchema = `{
	"type": "object",
	"properties": {
		"dataset_name": {"type": "string", "minLength": 1},
		"version": {"type": "string"},
		"test_cases": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"kind": {"type": "string", "enum": ["invoice_match", "caption"]},
					"difficulty": {"type": "string", "enum": ["easy", "medium", "hard"]},
					"input": {"type": "object"},
					"expected": {"type": "object"}
				},
				"required": ["id", "kind", "input", "expected"]
			}
		}
	},
	"required": ["dataset_name", "test_cases"]
}`

// LoadDataset reads and validates a dataset file. Cases without a
// difficulty default to easy.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(datasetSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, "eval.LoadDataset", err)
	}
	if !result.Valid() {
		msg := ""
		for i, e := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += e.String()
		}
		return nil, errkind.Newf(errkind.SchemaViolation, "eval.LoadDataset", "dataset %s: %s", path, msg)
	}

	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, errkind.Wrap(errkind.Internal, "eval.LoadDataset", err)
	}

	seen := make(map[string]struct{}, len(dataset.Cases))
	for i, c := range dataset.Cases {
		if _, dup := seen[c.ID]; dup {
			return nil, errkind.Newf(errkind.SchemaViolation, "eval.LoadDataset", "duplicate case id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
		if c.Difficulty == "" {
			dataset.Cases[i].Difficulty = DifficultyEasy
		}
	}
	return &dataset, nil
}
