package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

const openAIEmbeddingsURL = "https://api.openai.com/v1/embeddings"

// OpenAIProvider calls the OpenAI embeddings API directly over HTTP
type OpenAIProvider struct {
	apiKey     string
	model      string
	dimensions int
	batchSize  int
	httpClient *http.Client
	logger     observability.Logger
}

// NewOpenAIProvider creates an OpenAI embedding provider
func NewOpenAIProvider(cfg config.EmbeddingConfig, logger observability.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}
	return &OpenAIProvider{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}, nil
}

func (p *OpenAIProvider) Model() string   { return p.model }
func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

// Embed generates an embedding for a single text
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for texts, splitting into API-sized
// chunks. Output order matches input order.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errkind.New(errkind.SchemaViolation, "embedding.EmbedBatch", "no texts provided")
	}

	result := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := p.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		result = append(result, vectors...)
	}
	return result, nil
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) embedChunk(ctx context.Context, texts []string) ([][]float32, error) {
	truncated := make([]string, len(texts))
	for i, t := range texts {
		cut, wasCut := truncateToTokenLimit(t)
		truncated[i] = cut
		if wasCut {
			p.logger.Warn("Embedding input truncated to token limit", map[string]interface{}{
				"index": i,
				"bytes": len(t),
				"limit": maxInputTokens,
			})
		}
	}

	var resp embeddingResponse
	operation := func() error {
		var err error
		resp, err = p.callAPI(ctx, truncated)
		if err != nil && !errkind.KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		observability.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	observability.EmbeddingRequests.WithLabelValues("success").Inc()
	observability.EmbeddingTokens.Add(float64(resp.Usage.TotalTokens))

	if len(resp.Data) != len(texts) {
		return nil, errkind.Newf(errkind.Internal, "embedding.embedChunk",
			"expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	// The API may reorder items; restore input order by index
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (p *OpenAIProvider) callAPI(ctx context.Context, texts []string) (embeddingResponse, error) {
	var parsed embeddingResponse

	body, err := json.Marshal(embeddingRequest{
		Input:      texts,
		Model:      p.model,
		Dimensions: p.dimensions,
	})
	if err != nil {
		return parsed, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEmbeddingsURL, bytes.NewReader(body))
	if err != nil {
		return parsed, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return parsed, errkind.Wrap(errkind.Transient, "embedding.callAPI", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return parsed, errkind.Wrap(errkind.Transient, "embedding.callAPI", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return parsed, errkind.New(errkind.RateLimited, "embedding.callAPI", "provider rate limit")
	case httpResp.StatusCode >= 500:
		return parsed, errkind.Newf(errkind.Transient, "embedding.callAPI",
			"provider returned %d", httpResp.StatusCode)
	case httpResp.StatusCode != http.StatusOK:
		return parsed, errkind.Newf(errkind.SchemaViolation, "embedding.callAPI",
			"provider returned %d: %s", httpResp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return parsed, errkind.Wrap(errkind.Internal, "embedding.callAPI", err)
	}
	if parsed.Error != nil {
		return parsed, errkind.Newf(errkind.Internal, "embedding.callAPI",
			"provider error: %s", parsed.Error.Message)
	}

	p.logger.Debug("Embedding batch completed", map[string]interface{}{
		"texts":    len(texts),
		"tokens":   parsed.Usage.TotalTokens,
		"duration": time.Since(start).String(),
	})
	return parsed, nil
}
