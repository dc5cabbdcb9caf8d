package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/export"
	"github.com/cryptodefiza-create/content-machine/internal/models"
	"github.com/cryptodefiza-create/content-machine/internal/pipeline"
	"github.com/cryptodefiza-create/content-machine/internal/queue"
	"github.com/cryptodefiza-create/content-machine/internal/scout"
	"github.com/cryptodefiza-create/content-machine/internal/telemetry"
)

// Handler handles HTTP requests
type Handler struct {
	pipeline *pipeline.Pipeline
	store    *queue.Store
	exporter *export.Exporter
	scanner  *scout.Scanner
	tracker  *telemetry.Tracker
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(p *pipeline.Pipeline, store *queue.Store, exporter *export.Exporter, scanner *scout.Scanner, tracker *telemetry.Tracker, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline: p,
		store:    store,
		exporter: exporter,
		scanner:  scanner,
		tracker:  tracker,
		logger:   logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/generate", h.Generate)
		api.POST("/batch", h.Batch)
		api.POST("/scan", h.Scan)

		api.GET("/queue", h.Pending)
		api.GET("/queue/stats", h.Stats)
		api.POST("/queue/:id/approve", h.Approve)
		api.POST("/queue/:id/reject", h.Reject)
		api.POST("/queue/:id/export", h.Export)
		api.POST("/runs/:run_id/export", h.ExportRun)
		api.GET("/runs/:run_id/usage", h.RunUsage)

		api.GET("/dryrun", h.GetDryRun)
		api.POST("/dryrun", h.SetDryRun)
	}

	r.GET("/health", h.HealthCheck)
}

type generateRequest struct {
	Topics   []string `json:"topics" binding:"required,min=1"`
	Personas []string `json:"personas"`
}

// Generate runs the full pipeline over free-text topics
func (h *Handler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	topics := scout.FromText(req.Topics)
	result, err := h.pipeline.Run(c.Request.Context(), topics, req.Personas)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoTopics) || errors.Is(err, pipeline.ErrNoPersonas) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Pipeline run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pipeline run failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

type batchRequest struct {
	Persona string `json:"persona" binding:"required"`
	Topic   string `json:"topic" binding:"required"`
	Count   int    `json:"count"`
}

// Batch generates several takes on one topic for a single persona
func (h *Handler) Batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	topic := models.NewTopic(req.Topic, "manual", "manual")
	result, err := h.pipeline.Batch(c.Request.Context(), topic, req.Persona, req.Count)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoPersonas) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Batch run failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch run failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Scan scrapes the configured feeds and runs the pipeline on what it finds
func (h *Handler) Scan(c *gin.Context) {
	topics, err := h.scanner.Scan(c.Request.Context())
	if err != nil {
		h.logger.Error("Scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
		return
	}
	if len(topics) == 0 {
		c.JSON(http.StatusOK, gin.H{"topics": 0, "message": "no topics found"})
		return
	}

	result, err := h.pipeline.Run(c.Request.Context(), topics, nil)
	if err != nil {
		h.logger.Error("Pipeline run failed after scan", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pipeline run failed"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Pending lists items awaiting a decision
func (h *Handler) Pending(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	items, err := h.store.Pending(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list pending items", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// Stats returns the queue breakdown by status
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load queue stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"queue": stats, "dry_run": h.pipeline.DryRun()})
}

type decisionRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

// Approve marks a queued item approved
func (h *Handler) Approve(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.store.Approve(c.Request.Context(), id, req.Actor); err != nil {
		h.respondDecisionError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": string(models.StateApproved)})
}

// Reject marks a queued item rejected
func (h *Handler) Reject(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.store.Reject(c.Request.Context(), id, req.Actor, req.Reason); err != nil {
		h.respondDecisionError(c, id, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": string(models.StateRejected)})
}

// Export marks an approved item exported and writes its CSV rows
func (h *Handler) Export(c *gin.Context) {
	id := c.Param("id")
	record, err := h.store.Export(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		case errors.Is(err, queue.ErrNotApproved):
			c.JSON(http.StatusConflict, gin.H{"error": "item is not approved"})
		default:
			h.logger.Error("Export failed", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		}
		return
	}

	path, err := h.exporter.WriteRecords(record.RunID, []*queue.ExportRecord{record})
	if err != nil {
		h.logger.Error("CSV write failed", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "csv write failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": record, "csv_path": path})
}

// ExportRun exports every approved item of a run in one sweep
func (h *Handler) ExportRun(c *gin.Context) {
	runID := c.Param("run_id")
	records, err := h.store.ExportRun(c.Request.Context(), runID)
	if err != nil {
		h.logger.Error("Run export failed", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run export failed"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusOK, gin.H{"run_id": runID, "exported": 0})
		return
	}

	path, err := h.exporter.WriteRecords(runID, records)
	if err != nil {
		h.logger.Error("CSV write failed", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "csv write failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run_id": runID, "exported": len(records), "csv_path": path})
}

// RunUsage totals tokens, cost, and cache hits for one run
func (h *Handler) RunUsage(c *gin.Context) {
	runID := c.Param("run_id")
	totals, err := h.tracker.Summarize(runID)
	if err != nil {
		h.logger.Error("Usage summary failed", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "usage summary failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":            runID,
		"calls":             totals.Calls,
		"prompt_tokens":     totals.PromptTokens,
		"completion_tokens": totals.CompletionTokens,
		"cost":              totals.Cost,
		"cache_hits":        totals.CacheHits,
	})
}

type dryRunRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetDryRun toggles simulation mode
func (h *Handler) SetDryRun(c *gin.Context) {
	var req dryRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.pipeline.SetDryRun(*req.Enabled)
	c.JSON(http.StatusOK, gin.H{"dry_run": h.pipeline.DryRun()})
}

// GetDryRun reports the current simulation mode
func (h *Handler) GetDryRun(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"dry_run": h.pipeline.DryRun()})
}

// HealthCheck reports liveness
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) respondDecisionError(c *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
	case errors.Is(err, queue.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, gin.H{"error": "item already decided"})
	default:
		h.logger.Error("Decision failed", zap.String("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "decision failed"})
	}
}
