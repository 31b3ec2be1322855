package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/services"
)

type ConnectionHandler struct {
	log   *logger.Logger
	conns services.ConnectionService
}

func NewConnectionHandler(baseLog *logger.Logger, conns services.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{
		log:   baseLog.With("handler", "ConnectionHandler"),
		conns: conns,
	}
}

func (h *ConnectionHandler) Create(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	var req struct {
		Name         string `json:"name"`
		URI          string `json:"uri"`
		DatabaseName string `json:"database_name"`
		Username     string `json:"username"`
		Password     string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	conn, err := h.conns.Create(c.Request.Context(), services.CreateConnectionInput{
		LabID:        labID,
		Name:         req.Name,
		URI:          req.URI,
		DatabaseName: req.DatabaseName,
		Username:     req.Username,
		Password:     req.Password,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondCreated(c, gin.H{"connection": conn})
}

func (h *ConnectionHandler) List(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	conns, err := h.conns.List(c.Request.Context(), labID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"connections": conns})
}

func (h *ConnectionHandler) Get(c *gin.Context) {
	labID, connID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	conn, err := h.conns.Get(c.Request.Context(), labID, connID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"connection": conn})
}

func (h *ConnectionHandler) Test(c *gin.Context) {
	labID, connID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	if err := h.conns.Test(c.Request.Context(), labID, connID); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"status": "ok"})
}

func (h *ConnectionHandler) RotateSecret(c *gin.Context) {
	labID, connID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	var req struct {
		Password           string `json:"password"`
		ExpectedRowVersion int64  `json:"expected_row_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	conn, err := h.conns.RotateSecret(c.Request.Context(), labID, connID, req.Password, req.ExpectedRowVersion)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"connection": conn})
}

func (h *ConnectionHandler) Activate(c *gin.Context) {
	labID, connID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	var req struct {
		ExpectedRowVersion int64 `json:"expected_row_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	lab, err := h.conns.Activate(c.Request.Context(), labID, connID, req.ExpectedRowVersion)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"lab": lab})
}

func (h *ConnectionHandler) Deactivate(c *gin.Context) {
	labID, connID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	var req struct {
		ExpectedRowVersion int64 `json:"expected_row_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	conn, err := h.conns.Deactivate(c.Request.Context(), labID, connID, req.ExpectedRowVersion)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"connection": conn})
}

func (h *ConnectionHandler) parseIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	connID, err := uuid.Parse(c.Param("connectionID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_connection_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return labID, connID, true
}
