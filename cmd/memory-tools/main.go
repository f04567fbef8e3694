// Command memory-tools serves the memory layer to LLM agents over MCP
// on stdio. Point an agent host at this binary to give it search_memory,
// save_to_memory, get_memory_stats and update_memory_metadata.
package main

import (
	"context"

	"github.com/agentflow/agentflow/internal/cache"
	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/database"
	"github.com/agentflow/agentflow/internal/embedding"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/tools"
	"github.com/agentflow/agentflow/internal/vectorstore"
	"github.com/agentflow/agentflow/pkg/observability"
)

func main() {
	// Stdout carries the protocol, so logs go to stderr via the standard
	// logger's default writer.
	logger := observability.NewStandardLogger("memory-tools")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	ctx := context.Background()

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

	if err := tools.NewMemoryToolServer(mem, logger).ServeStdio(); err != nil {
		logger.Fatal("MCP server exited", map[string]interface{}{"error": err.Error()})
	}
}
