package activity

import (
	"context"

	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/internal/graph/invoicematch"
)

// Activity names for reasoning-graph runs
const (
	GraphInvoiceMatch = "graph.invoice_match"
	GraphFeedPublish  = "graph.feed_publish"
)

// GraphActivities runs compiled reasoning graphs as workflow activities
type GraphActivities struct {
	matcher   *invoicematch.Matcher
	publisher *feedpublish.FeedPublisher
}

// NewGraphActivities creates the graph activity set
func NewGraphActivities(matcher *invoicematch.Matcher, publisher *feedpublish.FeedPublisher) *GraphActivities {
	return &GraphActivities{matcher: matcher, publisher: publisher}
}

// Register adds the graph activities to the registry
func (a *GraphActivities) Register(r *Registry) {
	r.Register(GraphInvoiceMatch, Typed(a.InvoiceMatch))
	r.Register(GraphFeedPublish, Typed(a.FeedPublish))
}

// InvoiceMatch matches one transaction against candidate and stored invoices
func (a *GraphActivities) InvoiceMatch(ctx context.Context, in invoicematch.MatchInput) (*invoicematch.MatchResult, error) {
	return a.matcher.Run(ctx, in)
}

// FeedPublish grades a caption and publishes it when it clears the bar
func (a *GraphActivities) FeedPublish(ctx context.Context, post feedpublish.Post) (*feedpublish.PublishResult, error) {
	return a.publisher.Run(ctx, post)
}
