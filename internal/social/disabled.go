package social

import (
	"context"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
)

// DisabledPublisher rejects every publish. It stands in when social
// publishing is turned off so the pipeline fails loudly instead of
// pretending to post.
type DisabledPublisher struct{}

// NewDisabledPublisher creates the rejecting publisher
func NewDisabledPublisher() *DisabledPublisher { return &DisabledPublisher{} }

// Publish always fails with a non-retryable error
func (p *DisabledPublisher) Publish(ctx context.Context, post feedpublish.Post) (string, error) {
	return "", errkind.New(errkind.SchemaViolation, "social.Publish", "social publishing is disabled")
}
