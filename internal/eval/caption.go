package eval

import (
	"context"
	"encoding/json"
	"math"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
)

// qualityTolerance is how far the computed quality may drift from the
// labelled quality before the case fails
const qualityTolerance = 0.15

// captionCaseInput is a caption with its brand context
type captionCaseInput struct {
	Caption  string `json:"caption"`
	Brand    string `json:"brand"`
	Language string `json:"language,omitempty"`
}

// captionCaseExpected is the labelled quality and, optionally, the
// publishing decision
type captionCaseExpected struct {
	Quality float64 `json:"quality"`
	Publish *bool   `json:"publish,omitempty"`
}

// captionActual is the decision the quality gate produced
type captionActual struct {
	Quality      float64 `json:"quality"`
	WouldPublish bool    `json:"would_publish"`
}

// CaptionEvaluator checks the caption quality gate against labels. A
// case is correct when the computed quality is within the tolerance of
// the labelled quality.
type CaptionEvaluator struct{}

// NewCaptionEvaluator creates the caption quality evaluator
func NewCaptionEvaluator() *CaptionEvaluator { return &CaptionEvaluator{} }

// Kind returns the case kind this evaluator handles
func (e *CaptionEvaluator) Kind() string { return KindCaption }

// Evaluate scores the caption and compares quality and decision
func (e *CaptionEvaluator) Evaluate(ctx context.Context, c Case) (CaseResult, error) {
	var input captionCaseInput
	if err := json.Unmarshal(c.Input, &input); err != nil {
		return CaseResult{}, errkind.Wrap(errkind.SchemaViolation, "eval.CaptionEvaluator", err)
	}
	var expected captionCaseExpected
	if err := json.Unmarshal(c.Expected, &expected); err != nil {
		return CaseResult{}, errkind.Wrap(errkind.SchemaViolation, "eval.CaptionEvaluator", err)
	}
	if input.Language == "" {
		input.Language = feedpublish.LanguageForBrand(input.Brand)
	}

	quality := feedpublish.ScoreCaption(input.Caption, input.Brand, input.Language)
	actual := captionActual{
		Quality:      quality.Total,
		WouldPublish: quality.Total >= feedpublish.PublishThreshold,
	}

	correct := math.Abs(quality.Total-expected.Quality) <= qualityTolerance
	if correct && expected.Publish != nil {
		correct = actual.WouldPublish == *expected.Publish
	}

	metrics := map[string]float64{
		MetricScore:        quality.Total,
		"quality_error":    math.Abs(quality.Total - expected.Quality),
		"language_score":   quality.Language,
		"brand_score":      quality.Brand,
		"length_score":     quality.Length,
		"engagement_score": quality.Engagement,
	}
	if expected.Publish != nil {
		if actual.WouldPublish && !*expected.Publish {
			metrics[MetricFalsePositive] = 1
		}
		if !actual.WouldPublish && *expected.Publish {
			metrics[MetricFalseNegative] = 1
		}
	}

	// In production the caption is LLM output prompted with the case
	// context and then embedded for the duplicate check; account all three
	// token classes.
	usage := Usage{
		PromptTokens:     estimateTokens(string(c.Input)),
		CompletionTokens: estimateTokens(input.Caption),
		EmbeddingTokens:  estimateTokens(input.Caption),
	}

	return CaseResult{Correct: correct, Actual: actual, Metrics: metrics, Usage: usage}, nil
}
