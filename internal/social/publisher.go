// Package social posts captions to the Meta Graph API. The idempotent
// wrapper guarantees a retried attempt never double-posts.
package social

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/pkg/observability"
)

const graphAPIBase = "https://graph.facebook.com/v19.0"

// GraphAPIPublisher posts to Facebook and Instagram feeds
type GraphAPIPublisher struct {
	httpClient     *http.Client
	facebookToken  string
	instagramToken string
	logger         observability.Logger
}

// NewGraphAPIPublisher creates a publisher from the social configuration
func NewGraphAPIPublisher(cfg config.SocialConfig, logger observability.Logger) *GraphAPIPublisher {
	return &GraphAPIPublisher{
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		facebookToken:  cfg.FacebookToken,
		instagramToken: cfg.InstagramToken,
		logger:         logger,
	}
}

// Publish posts one caption and returns the platform's post id
func (p *GraphAPIPublisher) Publish(ctx context.Context, post feedpublish.Post) (string, error) {
	var endpoint, token string
	switch post.Platform {
	case "facebook":
		endpoint = graphAPIBase + "/me/feed"
		token = p.facebookToken
	case "instagram":
		endpoint = graphAPIBase + "/me/media"
		token = p.instagramToken
	default:
		return "", errkind.Newf(errkind.SchemaViolation, "social.Publish", "unsupported platform %s", post.Platform)
	}
	if token == "" {
		return "", errkind.Newf(errkind.SchemaViolation, "social.Publish", "no access token for %s", post.Platform)
	}

	form := url.Values{}
	form.Set("message", post.Caption)
	form.Set("access_token", token)
	if post.ImageURL != "" {
		form.Set("image_url", post.ImageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errkind.Wrap(errkind.Internal, "social.Publish", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errkind.Wrap(errkind.Transient, "social.Publish", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errkind.Wrap(errkind.Transient, "social.Publish", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", errkind.New(errkind.RateLimited, "social.Publish", "graph api rate limit")
	case resp.StatusCode >= 500:
		return "", errkind.Newf(errkind.Transient, "social.Publish", "graph api returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", errkind.Newf(errkind.SchemaViolation, "social.Publish",
			"graph api returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errkind.Wrap(errkind.Internal, "social.Publish", err)
	}

	p.logger.Info("Posted to social platform", map[string]interface{}{
		"platform": post.Platform,
		"post_id":  parsed.ID,
	})
	return parsed.ID, nil
}

// IdempotentPublisher caches post ids under a key derived from the
// caption, platform and day, so a retried publish returns the first
// attempt's id instead of posting again.
type IdempotentPublisher struct {
	inner  feedpublish.Publisher
	cache  cache.Cache
	logger observability.Logger
}

// NewIdempotentPublisher wraps inner with post deduplication
func NewIdempotentPublisher(inner feedpublish.Publisher, c cache.Cache, logger observability.Logger) *IdempotentPublisher {
	return &IdempotentPublisher{inner: inner, cache: c, logger: logger}
}

// Publish posts at most once per idempotency key
func (p *IdempotentPublisher) Publish(ctx context.Context, post feedpublish.Post) (string, error) {
	key := idempotencyKey(post)

	var existing string
	if err := p.cache.Get(ctx, key, &existing); err == nil && existing != "" {
		p.logger.Info("Publish deduplicated", map[string]interface{}{
			"platform": post.Platform,
			"post_id":  existing,
		})
		return existing, nil
	}

	id, err := p.inner.Publish(ctx, post)
	if err != nil {
		return "", err
	}
	// 48h covers any plausible retry window for a daily pipeline
	if err := p.cache.Set(ctx, key, id, 48*time.Hour); err != nil {
		p.logger.Warn("Idempotency record write failed", map[string]interface{}{"error": err.Error()})
	}
	return id, nil
}

func idempotencyKey(post feedpublish.Post) string {
	day := time.Now().UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(post.Caption + "|" + post.Brand + "|" + day))
	return "post:" + post.Platform + ":" + hex.EncodeToString(sum[:])[:16]
}
