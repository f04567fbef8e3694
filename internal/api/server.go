// Package api exposes the platform over HTTP: the memory layer, graph
// runs, workflow control and schedule management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentflow/agentflow/internal/config"
	"github.com/agentflow/agentflow/internal/embedding"
	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/internal/graph/invoicematch"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/scheduler"
	"github.com/agentflow/agentflow/internal/workflow"
	"github.com/agentflow/agentflow/pkg/observability"
)

// Server hosts the HTTP API
type Server struct {
	http      *http.Server
	memory    *memory.Manager
	embedder  embedding.Provider
	matcher   *invoicematch.Matcher
	publisher *feedpublish.FeedPublisher
	runtime   *workflow.Runtime
	schedules *scheduler.Manager
	logger    observability.Logger
}

// NewServer wires the routes and returns a ready-to-run server
func NewServer(cfg config.ServiceConfig, mem *memory.Manager, embedder embedding.Provider,
	matcher *invoicematch.Matcher, publisher *feedpublish.FeedPublisher,
	runtime *workflow.Runtime, schedules *scheduler.Manager, logger observability.Logger) *Server {

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		memory:    mem,
		embedder:  embedder,
		matcher:   matcher,
		publisher: publisher,
		runtime:   runtime,
		schedules: schedules,
		logger:    logger,
	}

	router.GET("/health", s.health)
	router.GET("/actors/status", s.actorsStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Trigger surface: the id on POST names the workflow type to start
	router.POST("/workflows/:id", s.startWorkflowByType)
	router.GET("/workflows/:id", s.workflowSummary)
	router.POST("/workflows/:id/cancel", s.cancelWorkflow)
	router.GET("/schedules", s.listSchedules)
	router.POST("/schedules/:id/pause", s.pauseSchedule)
	router.POST("/schedules/:id/unpause", s.unpauseSchedule)

	v1 := router.Group("/api/v1")
	{
		mem := v1.Group("/memory")
		{
			mem.GET("/stats", s.memoryStats)
			mem.POST("/:collection/items", s.saveItem)
			mem.POST("/:collection/batch", s.batchSave)
			mem.POST("/:collection/search", s.search)
			mem.GET("/:collection/items/:id", s.getItem)
			mem.PATCH("/:collection/items/:id/metadata", s.updateMetadata)
			mem.DELETE("/:collection/items/:id", s.deleteItem)
		}

		v1.POST("/graphs/:name/run", s.runGraph)

		wf := v1.Group("/workflows")
		{
			wf.POST("", s.startWorkflow)
			wf.GET("", s.listWorkflows)
			wf.GET("/:id", s.getWorkflow)
			wf.GET("/:id/history", s.workflowHistory)
			wf.POST("/:id/signal", s.signalWorkflow)
			wf.POST("/:id/cancel", s.cancelWorkflow)
			wf.GET("/:id/query/:name", s.queryWorkflow)
		}

		sch := v1.Group("/schedules")
		{
			sch.PUT("/:id", s.upsertSchedule)
			sch.GET("", s.listSchedules)
			sch.GET("/:id", s.getSchedule)
			sch.DELETE("/:id", s.deleteSchedule)
			sch.POST("/:id/pause", s.pauseSchedule)
			sch.POST("/:id/unpause", s.unpauseSchedule)
		}
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// actorsStatus reports per-component health. The cache only degrades
// latency when unreachable, so it reports degraded rather than down.
func (s *Server) actorsStatus(c *gin.Context) {
	now := time.Now().UTC()
	storeErr, cacheErr := s.memory.ComponentHealth(c.Request.Context())

	statusOf := func(err error) string {
		if err != nil {
			return "down"
		}
		return "healthy"
	}
	cacheStatus := "healthy"
	if cacheErr != nil {
		cacheStatus = "degraded"
	}
	embedderStatus := "healthy"
	if h, ok := s.embedder.(interface{ Health() string }); ok {
		embedderStatus = h.Health()
	}

	c.JSON(http.StatusOK, gin.H{
		"actors": []gin.H{
			{"name": "memory", "status": statusOf(storeErr), "last_activity": now},
			{"name": "vector_store", "status": statusOf(storeErr), "last_activity": now},
			{"name": "cache", "status": cacheStatus, "last_activity": now},
			{"name": "embedding_provider", "status": embedderStatus, "last_activity": now},
			{"name": "workflow_runtime", "status": "healthy", "running": s.runtime.RunningCount(), "last_activity": now},
		},
		"updated_at": now,
	})
}

// respondError maps the error taxonomy onto HTTP statuses
func respondError(c *gin.Context, err error) {
	kind := errkind.KindOf(err)
	c.JSON(kind.HTTPStatus(), gin.H{
		"error": err.Error(),
		"kind":  string(kind),
	})
}

func requestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Request handled", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}
