// Package llm is a thin chat-completions client used by graph nodes that
// need generated text (image descriptions, caption drafts).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// Client calls the OpenAI chat completions API directly over HTTP
type Client struct {
	apiKey     string
	model      string
	httpClient *http.Client
	logger     observability.Logger
}

// NewClient creates a completion client. The model defaults to
// gpt-4o-mini when empty.
func NewClient(apiKey, model string, logger observability.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one user prompt and returns the model's reply text
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var resp chatResponse
	operation := func() error {
		var err error
		resp, err = c.callAPI(ctx, prompt)
		if err != nil && !errkind.KindOf(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errkind.New(errkind.Internal, "llm.Complete", "provider returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *Client) callAPI(ctx context.Context, prompt string) (chatResponse, error) {
	var parsed chatResponse

	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return parsed, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return parsed, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return parsed, errkind.Wrap(errkind.Transient, "llm.callAPI", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return parsed, errkind.Wrap(errkind.Transient, "llm.callAPI", err)
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return parsed, errkind.New(errkind.RateLimited, "llm.callAPI", "provider rate limit")
	case httpResp.StatusCode >= 500:
		return parsed, errkind.Newf(errkind.Transient, "llm.callAPI",
			"provider returned %d", httpResp.StatusCode)
	case httpResp.StatusCode != http.StatusOK:
		return parsed, errkind.Newf(errkind.SchemaViolation, "llm.callAPI",
			"provider returned %d: %s", httpResp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return parsed, errkind.Wrap(errkind.Internal, "llm.callAPI", err)
	}
	if parsed.Error != nil {
		return parsed, errkind.Newf(errkind.Internal, "llm.callAPI",
			"provider error: %s", parsed.Error.Message)
	}

	c.logger.Debug("Completion finished", map[string]interface{}{
		"prompt_tokens":     parsed.Usage.PromptTokens,
		"completion_tokens": parsed.Usage.CompletionTokens,
		"duration":          time.Since(start).String(),
	})
	return parsed, nil
}
