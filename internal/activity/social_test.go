package activity

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/embedding"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/pkg/observability"
)

type countingPoster struct {
	calls int
	last  feedpublish.Post
}

func (p *countingPoster) Publish(ctx context.Context, post feedpublish.Post) (string, error) {
	p.calls++
	p.last = post
	return fmt.Sprintf("ext-%d", p.calls), nil
}

func setupSocial(t *testing.T) (*SocialActivities, *countingPoster) {
	t.Helper()
	registry, err := memory.NewRegistry()
	require.NoError(t, err)
	c, err := cache.NewLRUCache(1 << 20)
	require.NoError(t, err)
	mem := memory.NewManager(registry, embedding.NewHashingProvider(64), vectorstore.NewMemoryStore(), c,
		config.CacheConfig{QueryTTL: time.Minute, SessionTTL: time.Minute}, observability.NewNoopLogger())

	poster := &countingPoster{}
	return NewSocialActivities(poster, mem, observability.NewNoopLogger()), poster
}

func TestSocialPostReusesPriorSuccess(t *testing.T) {
	activities, poster := setupSocial(t)
	ctx := context.Background()

	input := SocialPostInput{
		Platform:       "facebook",
		Brand:          "Pomandi",
		Content:        "Nieuwe collectie, bestel nu!",
		IdempotencyKey: "run-1-post-1",
	}

	first, err := activities.Post(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", first.ExternalID)
	assert.False(t, first.Reused)
	assert.Equal(t, "Nieuwe collectie, bestel nu!", poster.last.Caption)

	second, err := activities.Post(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "ext-1", second.ExternalID)
	assert.True(t, second.Reused)
	assert.Equal(t, 1, poster.calls)

	input.IdempotencyKey = "run-1-post-2"
	third, err := activities.Post(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, "ext-2", third.ExternalID)
	assert.Equal(t, 2, poster.calls)
}

func TestSocialPostWithoutKeyAlwaysPosts(t *testing.T) {
	activities, poster := setupSocial(t)
	ctx := context.Background()

	input := SocialPostInput{Platform: "instagram", Media: "https://cdn.example.com/p.jpg"}
	_, err := activities.Post(ctx, input)
	require.NoError(t, err)
	_, err = activities.Post(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 2, poster.calls)
}

func TestSocialPostValidation(t *testing.T) {
	activities, poster := setupSocial(t)
	ctx := context.Background()

	_, err := activities.Post(ctx, SocialPostInput{Content: "no platform"})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	_, err = activities.Post(ctx, SocialPostInput{Platform: "facebook"})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	assert.Zero(t, poster.calls)
}
