package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/services"
)

type LabHandler struct {
	log  *logger.Logger
	labs services.LabService
}

func NewLabHandler(baseLog *logger.Logger, labs services.LabService) *LabHandler {
	return &LabHandler{
		log:  baseLog.With("handler", "LabHandler"),
		labs: labs,
	}
}

func (h *LabHandler) Create(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	lab, err := h.labs.Create(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondCreated(c, gin.H{"lab": lab})
}

func (h *LabHandler) List(c *gin.Context) {
	labs, err := h.labs.List(c.Request.Context())
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"labs": labs})
}

func (h *LabHandler) Get(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	lab, err := h.labs.Get(c.Request.Context(), labID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"lab": lab})
}

func (h *LabHandler) AuditTrail(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.labs.AuditTrail(c.Request.Context(), labID, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"audit_log": entries})
}
