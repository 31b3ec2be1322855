package tenant

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type AuditLogRepo interface {
	Append(dbc dbctx.Context, entries []*types.AuditLog) error
	ListByLab(dbc dbctx.Context, labID uuid.UUID, limit int) ([]*types.AuditLog, error)
}

type auditLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditLogRepo(db *gorm.DB, baseLog *logger.Logger) AuditLogRepo {
	return &auditLogRepo{
		db:  db,
		log: baseLog.With("repo", "AuditLogRepo"),
	}
}

func (r *auditLogRepo) Append(dbc dbctx.Context, entries []*types.AuditLog) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(entries) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Create(&entries).Error
}

func (r *auditLogRepo) ListByLab(dbc dbctx.Context, labID uuid.UUID, limit int) ([]*types.AuditLog, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return nil, nil
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	var out []*types.AuditLog
	err := transaction.WithContext(dbc.Ctx).
		Where("lab_id = ?", labID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
