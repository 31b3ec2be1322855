package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type LabService interface {
	Create(ctx context.Context, name, description string) (*types.Lab, error)
	Get(ctx context.Context, labID uuid.UUID) (*types.Lab, error)
	List(ctx context.Context) ([]*types.Lab, error)
	AuditTrail(ctx context.Context, labID uuid.UUID, limit int) ([]*types.AuditLog, error)
}

type labService struct {
	db    *gorm.DB
	log   *logger.Logger
	labs  repos.LabRepo
	audit repos.AuditLogRepo
}

func NewLabService(db *gorm.DB, baseLog *logger.Logger, labs repos.LabRepo, audit repos.AuditLogRepo) LabService {
	return &labService{
		db:    db,
		log:   baseLog.With("service", "LabService"),
		labs:  labs,
		audit: audit,
	}
}

func (s *labService) Create(ctx context.Context, name, description string) (*types.Lab, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("lab name is required")
	}
	lab := &types.Lab{
		ID:          uuid.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if _, err := s.labs.Create(dbctx.Context{Ctx: ctx}, []*types.Lab{lab}); err != nil {
		return nil, err
	}
	s.log.Info("Lab created", "lab_id", lab.ID, "name", lab.Name)
	return lab, nil
}

func (s *labService) Get(ctx context.Context, labID uuid.UUID) (*types.Lab, error) {
	lab, err := s.labs.GetByID(dbctx.Context{Ctx: ctx}, labID)
	if err != nil {
		return nil, err
	}
	if lab == nil {
		return nil, apperr.NotFound("lab %s not found", labID)
	}
	return lab, nil
}

func (s *labService) List(ctx context.Context) ([]*types.Lab, error) {
	return s.labs.List(dbctx.Context{Ctx: ctx})
}

func (s *labService) AuditTrail(ctx context.Context, labID uuid.UUID, limit int) ([]*types.AuditLog, error) {
	if _, err := s.Get(ctx, labID); err != nil {
		return nil, err
	}
	return s.audit.ListByLab(dbctx.Context{Ctx: ctx}, labID, limit)
}
