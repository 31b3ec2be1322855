package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

// TenantLockRepo implements per-lab advisory locks as durable rows, so the
// isolation protocol holds across worker processes. Acquire is re-entrant
// for the holding job (a retried job re-acquires its own lock).
type TenantLockRepo interface {
	Acquire(dbc dbctx.Context, labID uuid.UUID, scope string, holderJobID uuid.UUID, ttl time.Duration) (bool, error)
	Release(dbc dbctx.Context, labID uuid.UUID, scope string, holderJobID uuid.UUID) error
	Held(dbc dbctx.Context, labID uuid.UUID, scope string) (bool, error)
}

type tenantLockRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTenantLockRepo(db *gorm.DB, baseLog *logger.Logger) TenantLockRepo {
	return &tenantLockRepo{
		db:  db,
		log: baseLog.With("repo", "TenantLockRepo"),
	}
}

func (r *tenantLockRepo) Acquire(dbc dbctx.Context, labID uuid.UUID, scope string, holderJobID uuid.UUID, ttl time.Duration) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil || scope == "" || holderJobID == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	acquired := false
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		// Drop an expired holder before trying to take the scope.
		if err := txx.Where("lab_id = ? AND scope = ? AND expires_at < ?", labID, scope, now).
			Delete(&types.TenantLock{}).Error; err != nil {
			return err
		}
		rec := &types.TenantLock{
			ID:          uuid.New(),
			LabID:       labID,
			Scope:       scope,
			HolderJobID: holderJobID,
			ExpiresAt:   now.Add(ttl),
			CreatedAt:   now,
		}
		res := txx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lab_id"}, {Name: "scope"}},
			DoNothing: true,
		}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			acquired = true
			return nil
		}
		// Re-entrant: extend our own lease instead of failing.
		extend := txx.Model(&types.TenantLock{}).
			Where("lab_id = ? AND scope = ? AND holder_job_id = ?", labID, scope, holderJobID).
			Update("expires_at", now.Add(ttl))
		if extend.Error != nil {
			return extend.Error
		}
		acquired = extend.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

func (r *tenantLockRepo) Release(dbc dbctx.Context, labID uuid.UUID, scope string, holderJobID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil || scope == "" {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Where("lab_id = ? AND scope = ? AND holder_job_id = ?", labID, scope, holderJobID).
		Delete(&types.TenantLock{}).Error
}

func (r *tenantLockRepo) Held(dbc dbctx.Context, labID uuid.UUID, scope string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil || scope == "" {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.TenantLock{}).
		Where("lab_id = ? AND scope = ? AND expires_at >= ?", labID, scope, time.Now()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
