package activity

import (
	"context"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/pkg/observability"
)

// SocialPost is the external posting activity
const SocialPost = "post.social"

// SocialActivities posts content to social platforms. The workflow
// supplies an idempotency key; a retried attempt with the same key
// returns the original external id instead of posting again.
type SocialActivities struct {
	poster feedpublish.Publisher
	memory *memory.Manager
	logger observability.Logger
}

// NewSocialActivities creates the social activity set
func NewSocialActivities(poster feedpublish.Publisher, mem *memory.Manager, logger observability.Logger) *SocialActivities {
	return &SocialActivities{poster: poster, memory: mem, logger: logger}
}

// Register adds the social activities to the registry
func (a *SocialActivities) Register(r *Registry) {
	r.Register(SocialPost, Typed(a.Post))
}

// SocialPostInput carries the content to publish
type SocialPostInput struct {
	Platform       string `json:"platform"`
	Brand          string `json:"brand"`
	Content        string `json:"content"`
	Media          string `json:"media,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// SocialPostResult reports the platform's post id
type SocialPostResult struct {
	ExternalID string `json:"external_id"`
	Reused     bool   `json:"reused,omitempty"`
}

// Post publishes one piece of content. Prior successes are looked up
// under the idempotency key before touching the platform.
func (a *SocialActivities) Post(ctx context.Context, in SocialPostInput) (*SocialPostResult, error) {
	if in.Platform == "" {
		return nil, errkind.New(errkind.SchemaViolation, "activity.Post", "platform is required")
	}
	if in.Content == "" && in.Media == "" {
		return nil, errkind.New(errkind.SchemaViolation, "activity.Post", "content or media is required")
	}

	if in.IdempotencyKey != "" {
		var prior string
		if err := a.memory.GetSessionContext(ctx, "post:"+in.IdempotencyKey, &prior); err == nil && prior != "" {
			return &SocialPostResult{ExternalID: prior, Reused: true}, nil
		}
	}

	id, err := a.poster.Publish(ctx, feedpublish.Post{
		Platform: in.Platform,
		Brand:    in.Brand,
		Caption:  in.Content,
		ImageURL: in.Media,
	})
	if err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		if err := a.memory.SetSessionContext(ctx, "post:"+in.IdempotencyKey, id); err != nil {
			a.logger.Warn("Failed to record idempotency key", map[string]interface{}{
				"key":   in.IdempotencyKey,
				"error": err.Error(),
			})
		}
	}
	return &SocialPostResult{ExternalID: id}, nil
}
