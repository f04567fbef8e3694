package feedpublish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/embedding"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/pkg/observability"
)

// Scores 0.90: language, brand, length plus a call to action and a hashtag
const publishableCaption = "De nieuwe collectie van Pomandi is er, met korting voor jouw stijl. Bestel nu! #fashion"

// Scores 0.80: same components without any engagement markers
const approvalCaption = "De nieuwe collectie van Pomandi is er, met een stijl voor jouw garderobe."

type fakePublisher struct {
	calls int
	last  Post
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, post Post) (string, error) {
	f.calls++
	f.last = post
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("ext-%d", f.calls), nil
}

type fakeCompleter struct {
	fn func(prompt string) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f.fn(prompt)
}

func setupPublisher(t *testing.T, completer Completer) (*FeedPublisher, *fakePublisher, *memory.Manager) {
	t.Helper()
	registry, err := memory.NewRegistry()
	require.NoError(t, err)
	c, err := cache.NewLRUCache(8 << 20)
	require.NoError(t, err)
	mem := memory.NewManager(registry, embedding.NewHashingProvider(256), vectorstore.NewMemoryStore(), c,
		config.CacheConfig{QueryTTL: time.Minute}, observability.NewNoopLogger())

	logger := observability.NewNoopLogger()
	publisher := &fakePublisher{}
	fp, err := NewFeedPublisher(mem, publisher, completer, graph.NewRunner(logger), logger)
	require.NoError(t, err)
	return fp, publisher, mem
}

func TestRunPublishesHighQualityCaption(t *testing.T) {
	fp, publisher, mem := setupPublisher(t, nil)
	ctx := context.Background()

	result, err := fp.Run(ctx, Post{
		Caption:  publishableCaption,
		Brand:    "Pomandi",
		Platform: "facebook",
	})
	require.NoError(t, err)

	assert.True(t, result.Published)
	assert.False(t, result.Duplicate)
	assert.False(t, result.NeedsApproval)
	assert.Equal(t, "nl", result.Language)
	assert.Equal(t, "ext-1", result.ExternalID)
	assert.NotEmpty(t, result.MemoryID)
	assert.GreaterOrEqual(t, result.Quality.Total, PublishThreshold)
	assert.Equal(t, []string{
		"check_history", "describe_image", "generate_caption", "quality_check", "publish", "save_memory",
	}, result.StepsCompleted)

	assert.Equal(t, 1, publisher.calls)
	assert.Equal(t, publishableCaption, publisher.last.Caption)

	// The stored record carries the publish outcome
	rec, err := mem.Get(ctx, memory.CollectionSocialPosts, result.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, true, rec.Metadata["published"])
	assert.Equal(t, "facebook", rec.Metadata["platform"])
	assert.Equal(t, "Pomandi", rec.Metadata["brand"])
}

func TestRunMidBandWaitsForApproval(t *testing.T) {
	fp, publisher, mem := setupPublisher(t, nil)
	ctx := context.Background()

	result, err := fp.Run(ctx, Post{
		Caption:  approvalCaption,
		Brand:    "Pomandi",
		Platform: "instagram",
	})
	require.NoError(t, err)

	assert.False(t, result.Published)
	assert.True(t, result.NeedsApproval)
	assert.GreaterOrEqual(t, result.Quality.Total, ApprovalThreshold)
	assert.Less(t, result.Quality.Total, PublishThreshold)
	assert.NotContains(t, result.StepsCompleted, "publish")
	assert.Equal(t, 0, publisher.calls)

	rec, err := mem.Get(ctx, memory.CollectionSocialPosts, result.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, false, rec.Metadata["published"])
}

func TestRunLowQualitySavesOnly(t *testing.T) {
	fp, publisher, _ := setupPublisher(t, nil)

	result, err := fp.Run(context.Background(), Post{
		Caption:  "nieuwe schoenen",
		Brand:    "Pomandi",
		Platform: "facebook",
	})
	require.NoError(t, err)

	assert.False(t, result.Published)
	assert.False(t, result.NeedsApproval)
	assert.Less(t, result.Quality.Total, ApprovalThreshold)
	assert.NotEmpty(t, result.MemoryID)
	assert.Equal(t, 0, publisher.calls)
}

func TestRunDetectsDuplicateOfPublishedPost(t *testing.T) {
	fp, publisher, _ := setupPublisher(t, nil)
	ctx := context.Background()

	post := Post{Caption: publishableCaption, Brand: "Pomandi", Platform: "facebook"}

	first, err := fp.Run(ctx, post)
	require.NoError(t, err)
	require.True(t, first.Published)

	second, err := fp.Run(ctx, post)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.False(t, second.Published)
	assert.False(t, second.NeedsApproval)
	assert.Empty(t, second.ExternalID)
	assert.NotEmpty(t, second.Warnings)
	assert.Contains(t, strings.Join(second.Warnings, " "), "near-duplicate")
	assert.NotContains(t, second.StepsCompleted, "publish")
	assert.Contains(t, second.StepsCompleted, "save_memory")
	assert.Equal(t, first.MemoryID, second.MemoryID, "the rerun deduplicates onto the original record")

	assert.Equal(t, 1, publisher.calls, "only the first run reaches the platform")
}

func TestRunGeneratesCaptionFromImage(t *testing.T) {
	var prompts []string
	completer := &fakeCompleter{fn: func(prompt string) (string, error) {
		prompts = append(prompts, prompt)
		if strings.Contains(prompt, "Describe the product") {
			return "een blauw maatpak", nil
		}
		return publishableCaption, nil
	}}
	fp, publisher, _ := setupPublisher(t, completer)

	result, err := fp.Run(context.Background(), Post{
		Brand:    "Pomandi",
		Platform: "facebook",
		ImageURL: "https://cdn.example.com/suit.jpg",
	})
	require.NoError(t, err)

	assert.True(t, result.Published)
	assert.Equal(t, publishableCaption, result.Caption)
	assert.Equal(t, 1, publisher.calls)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "https://cdn.example.com/suit.jpg")
	assert.Contains(t, prompts[1], "een blauw maatpak")
}

func TestRunInputValidation(t *testing.T) {
	fp, _, _ := setupPublisher(t, nil)
	ctx := context.Background()

	_, err := fp.Run(ctx, Post{Caption: "x", Brand: "Pomandi"})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))

	_, err = fp.Run(ctx, Post{Brand: "Pomandi", Platform: "facebook"})
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestRunWithoutCompleterNeedsCaption(t *testing.T) {
	fp, _, _ := setupPublisher(t, nil)

	_, err := fp.Run(context.Background(), Post{
		Brand:    "Pomandi",
		Platform: "facebook",
		ImageURL: "https://cdn.example.com/suit.jpg",
	})
	require.Error(t, err)
	assert.Equal(t, errkind.SchemaViolation, errkind.KindOf(err))
}

func TestRunPublisherFailureAborts(t *testing.T) {
	fp, publisher, mem := setupPublisher(t, nil)
	publisher.err = errors.New("graph api unavailable")
	ctx := context.Background()

	_, err := fp.Run(ctx, Post{
		Caption:  publishableCaption,
		Brand:    "Pomandi",
		Platform: "facebook",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graph api unavailable")

	// The failed attempt was never recorded
	stats, err := mem.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Collections[memory.CollectionSocialPosts])
}
