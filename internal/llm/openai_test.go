package llm

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/pkg/observability"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func chatResponseBody(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient("sk-test", "", observability.NewNoopLogger())
	require.NoError(t, err)
	c.httpClient = &http.Client{Transport: rt}
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient("", "gpt-4o-mini", observability.NewNoopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestClientComplete(t *testing.T) {
	var captured *http.Request
	var sentBody string
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		body, _ := io.ReadAll(req.Body)
		sentBody = string(body)
		return chatResponseBody(http.StatusOK, `{
			"choices": [{"message": {"role": "assistant", "content": "  Een blauw maatpak.  "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 6}
		}`), nil
	})

	reply, err := c.Complete(context.Background(), "Beschrijf de afbeelding")
	require.NoError(t, err)
	assert.Equal(t, "Een blauw maatpak.", reply, "reply is trimmed")

	require.NotNil(t, captured)
	assert.Equal(t, "Bearer sk-test", captured.Header.Get("Authorization"))
	assert.Contains(t, sentBody, `"model":"gpt-4o-mini"`)
	assert.Contains(t, sentBody, "Beschrijf de afbeelding")
}

func TestClientCompleteBadRequestDoesNotRetry(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return chatResponseBody(http.StatusBadRequest, `{"error": {"message": "model not found"}}`), nil
	})

	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestClientCompleteRetriesServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return chatResponseBody(http.StatusBadGateway, `{}`), nil
		}
		return chatResponseBody(http.StatusOK, `{
			"choices": [{"message": {"role": "assistant", "content": "ok"}}]
		}`), nil
	})

	reply, err := c.Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, 2, calls)
}

func TestClientCompleteEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return chatResponseBody(http.StatusOK, `{"choices": []}`), nil
	})

	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "no choices")
}

func TestClientCompleteProviderErrorPayload(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return chatResponseBody(http.StatusOK, `{"error": {"message": "billing hard limit"}}`), nil
	})

	_, err := c.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, errkind.Internal, errkind.KindOf(err))
	assert.Contains(t, err.Error(), "billing hard limit")
	assert.Equal(t, 1, calls, "a provider error in the payload is not retried")
}
