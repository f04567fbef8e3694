package errkind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, NotFound, KindOf(New(NotFound, "test", "missing")))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Timeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, Cancelled, KindOf(context.Canceled))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(Transient, "db.query", "connection reset")
	outer := fmt.Errorf("loading record: %w", inner)
	assert.Equal(t, Transient, KindOf(outer))

	doubleWrapped := Wrap(Internal, "api.handler", outer)
	// The outermost classified error wins
	assert.Equal(t, Internal, KindOf(doubleWrapped))
}

func TestErrorFormats(t *testing.T) {
	withMessage := New(SchemaViolation, "memory.Save", "content is empty")
	assert.Equal(t, "memory.Save: schema_violation: content is empty", withMessage.Error())

	cause := errors.New("boom")
	wrapped := Wrap(Transient, "store.Upsert", cause)
	assert.Equal(t, "store.Upsert: transient: boom", wrapped.Error())
	require.ErrorIs(t, wrapped, cause)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Transient.Retryable())
	assert.True(t, Timeout.Retryable())
	assert.True(t, RateLimited.Retryable())

	assert.False(t, SchemaViolation.Retryable())
	assert.False(t, NotFound.Retryable())
	assert.False(t, Conflict.Retryable())
	assert.False(t, DeterminismViolation.Retryable())
	assert.False(t, Cancelled.Retryable())
	assert.False(t, Internal.Retryable())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, SchemaViolation.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, NotFound.HTTPStatus())
	assert.Equal(t, http.StatusConflict, Conflict.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, RateLimited.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Transient.HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, Timeout.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Internal.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, DeterminismViolation.HTTPStatus())
}
