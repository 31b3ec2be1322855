package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/services"
)

type JobHandler struct {
	log  *logger.Logger
	jobs services.JobService
}

func NewJobHandler(baseLog *logger.Logger, jobs services.JobService) *JobHandler {
	return &JobHandler{
		log:  baseLog.With("handler", "JobHandler"),
		jobs: jobs,
	}
}

func (h *JobHandler) Enqueue(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	var req struct {
		JobType     string         `json:"job_type"`
		Priority    int            `json:"priority"`
		MaxAttempts int            `json:"max_attempts"`
		InputConfig map[string]any `json:"input_config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	job, err := h.jobs.Enqueue(c.Request.Context(), services.EnqueueInput{
		LabID:          labID,
		JobType:        req.JobType,
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		InputConfig:    req.InputConfig,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondCreated(c, gin.H{"job": job})
}

func (h *JobHandler) List(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, total, err := h.jobs.List(c.Request.Context(), labID, repos.ListFilter{
		Status:  c.Query("status"),
		JobType: c.Query("job_type"),
		Page:    page,
		Limit:   limit,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs, "total": total})
}

func (h *JobHandler) Get(c *gin.Context) {
	labID, jobID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	job, err := h.jobs.Get(c.Request.Context(), labID, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

func (h *JobHandler) ListSteps(c *gin.Context) {
	labID, jobID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	steps, err := h.jobs.ListSteps(c.Request.Context(), labID, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"steps": steps})
}

func (h *JobHandler) Retry(c *gin.Context) {
	labID, jobID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	job, err := h.jobs.Retry(c.Request.Context(), labID, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

func (h *JobHandler) Cancel(c *gin.Context) {
	labID, jobID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	job, err := h.jobs.Cancel(c.Request.Context(), labID, jobID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

func (h *JobHandler) parseIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(c.Param("jobID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return labID, jobID, true
}
