package kg

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type KgSchemaRepo interface {
	Create(dbc dbctx.Context, schemas []*types.KgSchema) ([]*types.KgSchema, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.KgSchema, error)
	GetByLabAndVersion(dbc dbctx.Context, labID uuid.UUID, version int) (*types.KgSchema, error)
	GetActiveByLab(dbc dbctx.Context, labID uuid.UUID) (*types.KgSchema, error)
	MaxVersion(dbc dbctx.Context, labID uuid.UUID) (int, error)
	ListByLab(dbc dbctx.Context, labID uuid.UUID) ([]*types.KgSchema, error)
}

type kgSchemaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewKgSchemaRepo(db *gorm.DB, baseLog *logger.Logger) KgSchemaRepo {
	return &kgSchemaRepo{
		db:  db,
		log: baseLog.With("repo", "KgSchemaRepo"),
	}
}

func (r *kgSchemaRepo) Create(dbc dbctx.Context, schemas []*types.KgSchema) ([]*types.KgSchema, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(schemas) == 0 {
		return []*types.KgSchema{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&schemas).Error; err != nil {
		return nil, err
	}
	return schemas, nil
}

func (r *kgSchemaRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.KgSchema, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var schema types.KgSchema
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&schema).Error
	if err != nil {
		return nil, err
	}
	if schema.ID == uuid.Nil {
		return nil, nil
	}
	return &schema, nil
}

func (r *kgSchemaRepo) GetByLabAndVersion(dbc dbctx.Context, labID uuid.UUID, version int) (*types.KgSchema, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil || version < 1 {
		return nil, nil
	}
	var schema types.KgSchema
	err := transaction.WithContext(dbc.Ctx).
		Where("lab_id = ? AND version = ?", labID, version).
		Limit(1).
		Find(&schema).Error
	if err != nil {
		return nil, err
	}
	if schema.ID == uuid.Nil {
		return nil, nil
	}
	return &schema, nil
}

func (r *kgSchemaRepo) GetActiveByLab(dbc dbctx.Context, labID uuid.UUID) (*types.KgSchema, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return nil, nil
	}
	var schema types.KgSchema
	err := transaction.WithContext(dbc.Ctx).
		Where("lab_id = ? AND is_active = ?", labID, true).
		Limit(1).
		Find(&schema).Error
	if err != nil {
		return nil, err
	}
	if schema.ID == uuid.Nil {
		return nil, nil
	}
	return &schema, nil
}

func (r *kgSchemaRepo) MaxVersion(dbc dbctx.Context, labID uuid.UUID) (int, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return 0, nil
	}
	var max *int
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.KgSchema{}).
		Where("lab_id = ?", labID).
		Select("MAX(version)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *kgSchemaRepo) ListByLab(dbc dbctx.Context, labID uuid.UUID) ([]*types.KgSchema, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return nil, nil
	}
	var out []*types.KgSchema
	err := transaction.WithContext(dbc.Ctx).
		Where("lab_id = ?", labID).
		Order("version ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
