package feedpublish

import (
	"context"
	"fmt"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/pkg/observability"
)

// GraphName identifies the feed publisher in metrics and the run API
const GraphName = "feed_publisher"

// Post is a candidate publication for a brand. Caption may be supplied by
// the caller or generated from the image by the completer.
type Post struct {
	Caption  string `json:"caption,omitempty"`
	Brand    string `json:"brand"`
	Platform string `json:"platform"`
	Language string `json:"language,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// PublishResult is the graph's output
type PublishResult struct {
	Published      bool         `json:"published"`
	Duplicate      bool         `json:"duplicate_detected"`
	NeedsApproval  bool         `json:"needs_approval"`
	Caption        string       `json:"caption"`
	Language       string       `json:"language"`
	ExternalID     string       `json:"external_id,omitempty"`
	MemoryID       string       `json:"memory_id,omitempty"`
	Quality        QualityScore `json:"quality"`
	StepsCompleted []string     `json:"steps_completed"`
	Warnings       []string     `json:"warnings,omitempty"`
}

// Publisher posts to an external platform and returns its post id
type Publisher interface {
	Publish(ctx context.Context, post Post) (string, error)
}

// Completer is the LLM collaborator used to describe images and draft
// captions. It may be nil when callers always supply the caption.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// state keys
const (
	keyPost        = "post"
	keyDescription = "image_description"
	keyQuality     = "quality"
	keyDuplicate   = "duplicate_detected"
	keySimilar     = "similar_caption"
	keyExternal    = "external_id"
	keyMemoryID    = "memory_id"
	keyPublished   = "published"
)

// router labels
const (
	routePublish  = "publish"
	routeSaveOnly = "save_only"
	routeApprove  = "approve"
)

// FeedPublisher runs the caption pipeline: check_history, describe_image,
// generate_caption, quality_check, then publish or save according to the
// quality gate.
type FeedPublisher struct {
	memory    *memory.Manager
	publisher Publisher
	completer Completer
	runner    *graph.Runner
	graph     *graph.Graph
	logger    observability.Logger
}

// NewFeedPublisher compiles the publishing graph
func NewFeedPublisher(mem *memory.Manager, publisher Publisher, completer Completer, runner *graph.Runner, logger observability.Logger) (*FeedPublisher, error) {
	p := &FeedPublisher{memory: mem, publisher: publisher, completer: completer, runner: runner, logger: logger}

	g, err := graph.NewBuilder(GraphName).
		AddNode("check_history", p.checkHistory).
		AddNode("describe_image", p.describeImage).
		AddNode("generate_caption", p.generateCaption).
		AddNode("quality_check", p.qualityCheck).
		AddNode("publish", p.publish).
		AddNode("save_memory", p.saveMemory).
		SetEntry("check_history").
		AddEdge("check_history", "describe_image").
		AddEdge("describe_image", "generate_caption").
		AddEdge("generate_caption", "quality_check").
		AddConditionalEdges("quality_check", routeQuality, map[string]string{
			routePublish:  "publish",
			routeSaveOnly: "save_memory",
			routeApprove:  "save_memory",
		}).
		AddEdge("publish", "save_memory").
		AddEdge("save_memory", graph.End).
		Compile()
	if err != nil {
		return nil, err
	}
	p.graph = g
	return p, nil
}

// Run evaluates one post. Duplicates and low-quality captions are saved
// unpublished; mid-band captions are saved awaiting approval; the rest
// are posted and then saved as published.
func (p *FeedPublisher) Run(ctx context.Context, post Post) (*PublishResult, error) {
	if post.Platform == "" {
		return nil, errkind.New(errkind.SchemaViolation, "feedpublish.Run", "platform is required")
	}
	if post.Caption == "" && post.ImageURL == "" {
		return nil, errkind.New(errkind.SchemaViolation, "feedpublish.Run", "post needs a caption or an image")
	}
	if post.Language == "" {
		post.Language = LanguageForBrand(post.Brand)
	}

	final, err := p.runner.Run(ctx, p.graph, graph.State{keyPost: post})
	if err != nil {
		return nil, err
	}

	finalPost := final[keyPost].(Post)
	result := &PublishResult{
		Published:      final.GetBool(keyPublished),
		Duplicate:      final.GetBool(keyDuplicate),
		Caption:        finalPost.Caption,
		Language:       finalPost.Language,
		ExternalID:     final.GetString(keyExternal),
		MemoryID:       final.GetString(keyMemoryID),
		StepsCompleted: final.Steps(),
		Warnings:       final.Warnings(),
	}
	if q, ok := final[keyQuality].(QualityScore); ok {
		result.Quality = q
	}
	result.NeedsApproval = !result.Published && !result.Duplicate &&
		result.Quality.Total >= ApprovalThreshold && result.Quality.Total < PublishThreshold
	return result, nil
}

// routeQuality applies the publish gate. Duplicates and sub-approval
// scores save only; scores at or above the publish threshold post first;
// the band in between saves and waits for a human.
func routeQuality(state graph.State) string {
	if state.GetBool(keyDuplicate) {
		return routeSaveOnly
	}
	q, ok := state[keyQuality].(QualityScore)
	if !ok || q.Total < ApprovalThreshold {
		return routeSaveOnly
	}
	if q.Total >= PublishThreshold {
		return routePublish
	}
	return routeApprove
}

// checkHistory searches published posts for the brand and platform and
// flags a near-identical prior caption
func (p *FeedPublisher) checkHistory(ctx context.Context, state graph.State) (graph.State, error) {
	post := state[keyPost].(Post)
	if post.Caption == "" {
		// Nothing to compare yet; the caption is generated downstream.
		return state, nil
	}

	results, err := p.memory.Search(ctx, memory.SearchInput{
		Collection: memory.CollectionSocialPosts,
		Query:      post.Caption,
		TopK:       10,
		Filter: &vectorstore.Filter{Conditions: []vectorstore.Condition{
			{Field: "brand", Op: vectorstore.OpEq, Value: post.Brand},
			{Field: "platform", Op: vectorstore.OpEq, Value: post.Platform},
			{Field: "published", Op: vectorstore.OpEq, Value: true},
		}},
	})
	if err != nil {
		state.AddWarning("history search failed: " + err.Error())
		return state, nil
	}

	if len(results) > 0 && results[0].Score > DuplicateThreshold {
		state[keyDuplicate] = true
		state[keySimilar] = results[0].Record.Content
		state.AddWarning(fmt.Sprintf("near-duplicate of a published caption (score %.3f)", results[0].Score))
		p.logger.Info("Duplicate caption detected", map[string]interface{}{
			"brand": post.Brand,
			"score": results[0].Score,
		})
	}
	return state, nil
}

// describeImage asks the completer for a textual description of the image
func (p *FeedPublisher) describeImage(ctx context.Context, state graph.State) (graph.State, error) {
	post := state[keyPost].(Post)
	if post.ImageURL == "" || p.completer == nil {
		return state, nil
	}

	description, err := p.completer.Complete(ctx,
		fmt.Sprintf("Describe the product in this image for a %s social post: %s", post.Brand, post.ImageURL))
	if err != nil {
		state.AddWarning("image description failed: " + err.Error())
		return state, nil
	}
	state[keyDescription] = description
	return state, nil
}

// generateCaption drafts a caption when the caller did not supply one
func (p *FeedPublisher) generateCaption(ctx context.Context, state graph.State) (graph.State, error) {
	post := state[keyPost].(Post)
	if post.Caption != "" {
		return state, nil
	}
	if p.completer == nil {
		return nil, errkind.New(errkind.SchemaViolation, "feedpublish.generateCaption",
			"no caption supplied and no completer configured")
	}

	prompt := fmt.Sprintf("Write a %s social media caption for the brand %s on %s.",
		post.Language, post.Brand, post.Platform)
	if description := state.GetString(keyDescription); description != "" {
		prompt += " The image shows: " + description
	}
	caption, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	post.Caption = caption
	state[keyPost] = post
	return state, nil
}

// qualityCheck grades the caption
func (p *FeedPublisher) qualityCheck(ctx context.Context, state graph.State) (graph.State, error) {
	post := state[keyPost].(Post)
	state[keyQuality] = ScoreCaption(post.Caption, post.Brand, post.Language)
	return state, nil
}

// publish posts the caption to the platform
func (p *FeedPublisher) publish(ctx context.Context, state graph.State) (graph.State, error) {
	post := state[keyPost].(Post)

	externalID, err := p.publisher.Publish(ctx, post)
	if err != nil {
		return nil, err
	}
	state[keyExternal] = externalID
	state[keyPublished] = true

	p.logger.Info("Caption published", map[string]interface{}{
		"brand":       post.Brand,
		"platform":    post.Platform,
		"external_id": externalID,
	})
	return state, nil
}

// saveMemory records the caption and its outcome. It runs on every path,
// including duplicates, so history keeps the decision.
func (p *FeedPublisher) saveMemory(ctx context.Context, state graph.State) (graph.State, error) {
	post := state[keyPost].(Post)

	metadata := map[string]interface{}{
		"platform":  post.Platform,
		"language":  post.Language,
		"brand":     post.Brand,
		"published": state.GetBool(keyPublished),
	}
	if q, ok := state[keyQuality].(QualityScore); ok {
		metadata["quality_score"] = q.Total
	}

	saved, err := p.memory.Save(ctx, memory.SaveInput{
		Collection: memory.CollectionSocialPosts,
		Content:    post.Caption,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, err
	}
	state[keyMemoryID] = saved.ID
	return state, nil
}
