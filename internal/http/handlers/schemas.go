package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/services"
)

type SchemaHandler struct {
	log     *logger.Logger
	schemas services.SchemaService
}

func NewSchemaHandler(baseLog *logger.Logger, schemas services.SchemaService) *SchemaHandler {
	return &SchemaHandler{
		log:     baseLog.With("handler", "SchemaHandler"),
		schemas: schemas,
	}
}

func (h *SchemaHandler) Create(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	var req struct {
		Definition  map[string]any `json:"definition"`
		Description string         `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	row, err := h.schemas.CreateDraft(c.Request.Context(), labID, req.Definition, req.Description)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondCreated(c, gin.H{"schema": row})
}

func (h *SchemaHandler) List(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	rows, err := h.schemas.List(c.Request.Context(), labID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"schemas": rows})
}

func (h *SchemaHandler) Get(c *gin.Context) {
	labID, schemaID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	row, err := h.schemas.Get(c.Request.Context(), labID, schemaID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"schema": row})
}

func (h *SchemaHandler) Validate(c *gin.Context) {
	labID, schemaID, ok := h.parseIDs(c)
	if !ok {
		return
	}
	violations, err := h.schemas.Validate(c.Request.Context(), labID, schemaID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"valid": len(violations) == 0, "violations": violations})
}

func (h *SchemaHandler) Diff(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return
	}
	fromVersion, err := strconv.Atoi(c.Query("from"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_from_version", err)
		return
	}
	toVersion, err := strconv.Atoi(c.Query("to"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_to_version", err)
		return
	}
	diff, err := h.schemas.Diff(c.Request.Context(), labID, fromVersion, toVersion)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"diff": diff})
}

func (h *SchemaHandler) Activate(c *gin.Context) {
	labID, schemaID, ok := h.parseIDs(c)
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
	lab, err := h.schemas.Activate(c.Request.Context(), labID, schemaID, req.ExpectedRowVersion)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"lab": lab})
}

func (h *SchemaHandler) parseIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	labID, err := uuid.Parse(c.Param("labID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_lab_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	schemaID, err := uuid.Parse(c.Param("schemaID"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_schema_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return labID, schemaID, true
}
