package kg

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type MigrationPlanRepo interface {
	Create(dbc dbctx.Context, plans []*types.MigrationPlan) ([]*types.MigrationPlan, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MigrationPlan, error)
	// LatestUnconsumed returns the newest dry-run plan for the given schema
	// and connection pair that a commit has not consumed yet.
	LatestUnconsumed(dbc dbctx.Context, schemaID, connectionID uuid.UUID) (*types.MigrationPlan, error)
	// MarkConsumed stamps consumed_at, but only once. Returns false when a
	// concurrent commit already consumed the plan.
	MarkConsumed(dbc dbctx.Context, id uuid.UUID) (bool, error)
}

type migrationPlanRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMigrationPlanRepo(db *gorm.DB, baseLog *logger.Logger) MigrationPlanRepo {
	return &migrationPlanRepo{
		db:  db,
		log: baseLog.With("repo", "MigrationPlanRepo"),
	}
}

func (r *migrationPlanRepo) Create(dbc dbctx.Context, plans []*types.MigrationPlan) ([]*types.MigrationPlan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(plans) == 0 {
		return []*types.MigrationPlan{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *migrationPlanRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MigrationPlan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var plan types.MigrationPlan
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == uuid.Nil {
		return nil, nil
	}
	return &plan, nil
}

func (r *migrationPlanRepo) LatestUnconsumed(dbc dbctx.Context, schemaID, connectionID uuid.UUID) (*types.MigrationPlan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if schemaID == uuid.Nil || connectionID == uuid.Nil {
		return nil, nil
	}
	var plan types.MigrationPlan
	err := transaction.WithContext(dbc.Ctx).
		Where("schema_id = ? AND connection_id = ? AND consumed_at IS NULL", schemaID, connectionID).
		Order("created_at DESC").
		Limit(1).
		Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == uuid.Nil {
		return nil, nil
	}
	return &plan, nil
}

func (r *migrationPlanRepo) MarkConsumed(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.MigrationPlan{}).
		Where("id = ? AND consumed_at IS NULL", id).
		Update("consumed_at", time.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
