package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentflow/agentflow/internal/errkind"
	"github.com/agentflow/agentflow/internal/graph/feedpublish"
	"github.com/agentflow/agentflow/internal/graph/invoicematch"
	"github.com/agentflow/agentflow/internal/memory"
	"github.com/agentflow/agentflow/internal/scheduler"
	"github.com/agentflow/agentflow/internal/vectorstore"
)

type saveRequest struct {
	Content  string                 `json:"content" binding:"required"`
	Metadata map[string]interface{} `json:"metadata"`
	ID       string                 `json:"id"`
}

func (s *Server) saveItem(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.saveItem", err))
		return
	}
	result, err := s.memory.Save(c.Request.Context(), memory.SaveInput{
		Collection: c.Param("collection"),
		Content:    req.Content,
		Metadata:   req.Metadata,
		ID:         req.ID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) batchSave(c *gin.Context) {
	var req struct {
		Items []saveRequest `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.batchSave", err))
		return
	}
	inputs := make([]memory.SaveInput, len(req.Items))
	for i, item := range req.Items {
		inputs[i] = memory.SaveInput{
			Collection: c.Param("collection"),
			Content:    item.Content,
			Metadata:   item.Metadata,
			ID:         item.ID,
		}
	}
	results, err := s.memory.BatchSave(c.Request.Context(), inputs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"results": results})
}

func (s *Server) search(c *gin.Context) {
	var req struct {
		Query    string              `json:"query" binding:"required"`
		TopK     *int                `json:"top_k"`
		Filter   *vectorstore.Filter `json:"filter"`
		MinScore float64             `json:"min_score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.search", err))
		return
	}
	topK := 10
	if req.TopK != nil {
		topK = *req.TopK
	}
	results, err := s.memory.Search(c.Request.Context(), memory.SearchInput{
		Collection: c.Param("collection"),
		Query:      req.Query,
		TopK:       topK,
		Filter:     req.Filter,
		MinScore:   req.MinScore,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) getItem(c *gin.Context) {
	record, err := s.memory.Get(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) updateMetadata(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.updateMetadata", err))
		return
	}
	if err := s.memory.UpdateMetadata(c.Request.Context(), c.Param("collection"), c.Param("id"), fields); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteItem(c *gin.Context) {
	if err := s.memory.Delete(c.Request.Context(), c.Param("collection"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) memoryStats(c *gin.Context) {
	stats, err := s.memory.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) runGraph(c *gin.Context) {
	switch c.Param("name") {
	case invoicematch.GraphName:
		var in invoicematch.MatchInput
		if err := c.ShouldBindJSON(&in); err != nil {
			respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.runGraph", err))
			return
		}
		result, err := s.matcher.Run(c.Request.Context(), in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	case feedpublish.GraphName:
		var post feedpublish.Post
		if err := c.ShouldBindJSON(&post); err != nil {
			respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.runGraph", err))
			return
		}
		result, err := s.publisher.Run(c.Request.Context(), post)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	default:
		respondError(c, errkind.Newf(errkind.NotFound, "api.runGraph", "unknown graph %s", c.Param("name")))
	}
}

func (s *Server) startWorkflow(c *gin.Context) {
	var req struct {
		WorkflowType string          `json:"workflow_type" binding:"required"`
		Input        json.RawMessage `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.startWorkflow", err))
		return
	}
	exec, err := s.runtime.Start(c.Request.Context(), req.WorkflowType, req.Input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": exec.ID, "run_id": exec.RunID})
}

// startWorkflowByType starts a workflow named by the path; the body is
// the workflow input itself
func (s *Server) startWorkflowByType(c *gin.Context) {
	var input json.RawMessage
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.startWorkflow", err))
			return
		}
	}
	exec, err := s.runtime.Start(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": exec.ID, "run_id": exec.RunID})
}

// workflowSummary returns an execution's status with a digest of its
// history instead of the full event list
func (s *Server) workflowSummary(c *gin.Context) {
	exec, err := s.runtime.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	events, err := s.runtime.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	byType := map[string]int{}
	for _, ev := range events {
		byType[string(ev.Type)]++
	}
	c.JSON(http.StatusOK, gin.H{
		"workflow_id":   exec.ID,
		"run_id":        exec.RunID,
		"workflow_type": exec.WorkflowType,
		"status":        exec.Status,
		"failure":       exec.Failure,
		"history_summary": gin.H{
			"events":  len(events),
			"by_type": byType,
		},
	})
}

func (s *Server) listWorkflows(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	executions, err := s.runtime.List(c.Request.Context(), c.Query("status"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions})
}

func (s *Server) getWorkflow(c *gin.Context) {
	exec, err := s.runtime.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) workflowHistory(c *gin.Context) {
	events, err := s.runtime.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) signalWorkflow(c *gin.Context) {
	var req struct {
		Name    string          `json:"name" binding:"required"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.signalWorkflow", err))
		return
	}
	if err := s.runtime.Signal(c.Request.Context(), c.Param("id"), req.Name, req.Payload); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	if err := s.runtime.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) queryWorkflow(c *gin.Context) {
	result, err := s.runtime.Query(c.Request.Context(), c.Param("id"), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", result)
}

func (s *Server) upsertSchedule(c *gin.Context) {
	var sched scheduler.Schedule
	if err := c.ShouldBindJSON(&sched); err != nil {
		respondError(c, errkind.Wrap(errkind.SchemaViolation, "api.upsertSchedule", err))
		return
	}
	sched.ID = c.Param("id")
	if err := s.schedules.Upsert(c.Request.Context(), &sched); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) listSchedules(c *gin.Context) {
	schedules, err := s.schedules.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedules)
}

func (s *Server) getSchedule(c *gin.Context) {
	sched, err := s.schedules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (s *Server) deleteSchedule(c *gin.Context) {
	if err := s.schedules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pauseSchedule(c *gin.Context) {
	if err := s.schedules.SetPaused(c.Request.Context(), c.Param("id"), true); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) unpauseSchedule(c *gin.Context) {
	if err := s.schedules.SetPaused(c.Request.Context(), c.Param("id"), false); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}
