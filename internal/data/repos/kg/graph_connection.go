package kg

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type GraphConnectionRepo interface {
	Create(dbc dbctx.Context, conns []*types.GraphConnection) ([]*types.GraphConnection, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GraphConnection, error)
	GetActiveByLab(dbc dbctx.Context, labID uuid.UUID) (*types.GraphConnection, error)
	ListByLab(dbc dbctx.Context, labID uuid.UUID) ([]*types.GraphConnection, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsWithVersion applies updates only when the row version
	// matches, bumping it on success. Returns false on a stale token.
	UpdateFieldsWithVersion(dbc dbctx.Context, id uuid.UUID, expectedRowVersion int64, updates map[string]interface{}) (bool, error)
}

type graphConnectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGraphConnectionRepo(db *gorm.DB, baseLog *logger.Logger) GraphConnectionRepo {
	return &graphConnectionRepo{
		db:  db,
		log: baseLog.With("repo", "GraphConnectionRepo"),
	}
}

func (r *graphConnectionRepo) Create(dbc dbctx.Context, conns []*types.GraphConnection) ([]*types.GraphConnection, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(conns) == 0 {
		return []*types.GraphConnection{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *graphConnectionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GraphConnection, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var conn types.GraphConnection
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&conn).Error
	if err != nil {
		return nil, err
	}
	if conn.ID == uuid.Nil {
		return nil, nil
	}
	return &conn, nil
}

func (r *graphConnectionRepo) GetActiveByLab(dbc dbctx.Context, labID uuid.UUID) (*types.GraphConnection, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return nil, nil
	}
	var conn types.GraphConnection
	err := transaction.WithContext(dbc.Ctx).
		Where("lab_id = ? AND is_active = ?", labID, true).
		Limit(1).
		Find(&conn).Error
	if err != nil {
		return nil, err
	}
	if conn.ID == uuid.Nil {
		return nil, nil
	}
	return &conn, nil
}

func (r *graphConnectionRepo) ListByLab(dbc dbctx.Context, labID uuid.UUID) ([]*types.GraphConnection, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return nil, nil
	}
	var out []*types.GraphConnection
	err := transaction.WithContext(dbc.Ctx).
		Where("lab_id = ?", labID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphConnectionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.GraphConnection{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *graphConnectionRepo) UpdateFieldsWithVersion(dbc dbctx.Context, id uuid.UUID, expectedRowVersion int64, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["row_version"] = gorm.Expr("row_version + 1")
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.GraphConnection{}).
		Where("id = ? AND row_version = ?", id, expectedRowVersion).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
