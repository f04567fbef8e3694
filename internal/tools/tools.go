// Package tools exposes the memory layer to LLM agents over the Model
// Context Protocol. The server speaks stdio, so any MCP-capable agent
// host can mount it.
package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/pkg/observability"
)

// MemoryToolServer serves the memory tools over MCP
type MemoryToolServer struct {
	mcp    *server.MCPServer
	memory *memory.Manager
	logger observability.Logger
}

// NewMemoryToolServer registers the four memory tools
func NewMemoryToolServer(mem *memory.Manager, logger observability.Logger) *MemoryToolServer {
	s := &MemoryToolServer{
		mcp:    server.NewMCPServer("agentflow-memory", "1.0.0"),
		memory: mem,
		logger: logger,
	}

	s.mcp.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Search a memory collection by semantic similarity"),
		mcp.WithString("collection", mcp.Required(),
			mcp.Description("Collection name: invoices, social_posts, ad_reports or agent_context")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query")),
		mcp.WithNumber("top_k", mcp.Description("Maximum results, default 10")),
	), s.searchMemory)

	s.mcp.AddTool(mcp.NewTool("save_to_memory",
		mcp.WithDescription("Save content into a memory collection"),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to store")),
		mcp.WithString("metadata", mcp.Description("Metadata fields as a JSON object")),
	), s.saveToMemory)

	s.mcp.AddTool(mcp.NewTool("get_memory_stats",
		mcp.WithDescription("Report how many items each collection holds"),
	), s.getMemoryStats)

	s.mcp.AddTool(mcp.NewTool("update_memory_metadata",
		mcp.WithDescription("Merge metadata fields into an existing memory item"),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
		mcp.WithString("fields", mcp.Required(), mcp.Description("Fields to merge as a JSON object")),
	), s.updateMemoryMetadata)

	return s
}

// ServeStdio blocks serving the MCP protocol on stdin/stdout
func (s *MemoryToolServer) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *MemoryToolServer) searchMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := request.RequireString("collection")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topK := int(request.GetFloat("top_k", 10))

	results, err := s.memory.Search(ctx, memory.SearchInput{
		Collection: collection,
		Query:      query,
		TopK:       topK,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *MemoryToolServer) saveToMemory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := request.RequireString("collection")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var metadata map[string]interface{}
	if raw := request.GetString("metadata", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return mcp.NewToolResultError("metadata must be a JSON object: " + err.Error()), nil
		}
	}

	result, err := s.memory.Save(ctx, memory.SaveInput{
		Collection: collection,
		Content:    content,
		Metadata:   metadata,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *MemoryToolServer) getMemoryStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.memory.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func (s *MemoryToolServer) updateMemoryMetadata(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := request.RequireString("collection")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawFields, err := request.RequireString("fields")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
		return mcp.NewToolResultError("fields must be a JSON object: " + err.Error()), nil
	}

	if err := s.memory.UpdateMetadata(ctx, collection, id, fields); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(`{"updated": true}`), nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
