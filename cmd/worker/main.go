// Command worker runs a standalone activity worker pool consuming tasks
// from SQS. Completions are written straight to the shared history store,
// where the hosting runtime picks them up.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentflow/agentflow/internal/activity"
	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/database"
	"github.com/agentflow/agentflow/internal/embedding"
	"github.com/agentflow/agentflow/internal/graph"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/internal/graph/invoicematch"
	"github.com/agentflow/agentflow/internal/llm"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/queue"
	"github.com/agentflow/agentflow/internal/social"
	"github.com/agentflow/agentflow/internal/storage"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/internal/workflow"
	"github.com/agentflow/agentflow/pkg/observability"
)

func main() {
	logger := observability.NewStandardLogger("worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}
	if cfg.Workflow.QueueType != "sqs" {
		logger.Fatal("Standalone workers require the sqs queue type", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	hotCache, err := cache.NewRedisCache(ctx, cfg.Redis, logger.WithPrefix("cache"))
	if err != nil {
		logger.Fatal("Failed to connect to redis", map[string]interface{}{"error": err.Error()})
	}
	defer hotCache.Close()

	openai, err := embedding.NewOpenAIProvider(cfg.Embedding, logger.WithPrefix("embedding"))
	if err != nil {
		logger.Fatal("Failed to create embedding provider", map[string]interface{}{"error": err.Error()})
	}
	provider := embedding.NewCachedProvider(
		embedding.NewResilientProvider(openai, cfg.Embedding, logger.WithPrefix("embedding")),
		hotCache, cfg.Cache.EmbedTTL, logger.WithPrefix("embedding"),
	)

	registry, err := memory.NewRegistry()
	if err != nil {
		logger.Fatal("Failed to build collection registry", map[string]interface{}{"error": err.Error()})
	}
	store := vectorstore.NewPostgresStore(db, logger.WithPrefix("vectorstore"))
	mem := memory.NewManager(registry, provider, store, hotCache, cfg.Cache, logger.WithPrefix("memory"))

	runner := graph.NewRunner(logger.WithPrefix("graph"))
	matcher, err := invoicematch.NewMatcher(mem, runner, logger.WithPrefix("invoicematch"))
	if err != nil {
		logger.Fatal("Failed to build invoice matcher", map[string]interface{}{"error": err.Error()})
	}

	var poster feedpublish.Publisher = social.NewDisabledPublisher()
	if cfg.Social.Enabled {
		poster = social.NewIdempotentPublisher(
			social.NewGraphAPIPublisher(cfg.Social, logger.WithPrefix("social")),
			hotCache, logger.WithPrefix("social"),
		)
	}
	completer, err := llm.NewClient(cfg.Embedding.APIKey, "", logger.WithPrefix("llm"))
	if err != nil {
		logger.Fatal("Failed to create completion client", map[string]interface{}{"error": err.Error()})
	}
	publisher, err := feedpublish.NewFeedPublisher(mem, poster, completer, runner, logger.WithPrefix("feedpublish"))
	if err != nil {
		logger.Fatal("Failed to build feed publisher", map[string]interface{}{"error": err.Error()})
	}

	taskQueue, err := queue.NewSQSQueue(ctx, cfg.Workflow.SQSQueueURL, cfg.Storage.Region, logger.WithPrefix("queue"))
	if err != nil {
		logger.Fatal("Failed to create SQS queue", map[string]interface{}{"error": err.Error()})
	}

	var archiver *storage.Archiver
	if cfg.Storage.Enabled {
		archiver, err = storage.NewArchiver(ctx, cfg.Storage.Bucket, cfg.Storage.Region, logger.WithPrefix("storage"))
		if err != nil {
			logger.Fatal("Failed to create archiver", map[string]interface{}{"error": err.Error()})
		}
	}

	activities := activity.NewRegistry()
	activity.NewMemoryActivities(mem).Register(activities)
	activity.NewGraphActivities(matcher, publisher).Register(activities)
	activity.NewReportActivities(mem, archiver).Register(activities)
	activity.NewSocialActivities(poster, mem, logger.WithPrefix("social")).Register(activities)

	// The standalone worker records completions durably; the process
	// hosting the workflow observes them when it replays or polls.
	runtime := workflow.NewRuntime(workflow.NewPostgresHistoryStore(db), taskQueue, logger.WithPrefix("workflow"))
	worker := workflow.NewWorker(taskQueue, activities, runtime, cfg.Workflow.ActivityWorkers, logger.WithPrefix("worker"))

	logger.Info("Worker started", map[string]interface{}{
		"workers":    cfg.Workflow.ActivityWorkers,
		"activities": activities.Names(),
	})
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("Worker exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("Worker stopped", nil)
}
