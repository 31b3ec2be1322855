package jobs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type IdempotencyKeyRepo interface {
	// GetOrCreate inserts rec if no row exists for its (lab, operation, key)
	// and returns the winning row plus whether this call created it. On a
	// conflict the existing row comes back unchanged, so the caller can
	// compare request hashes.
	GetOrCreate(dbc dbctx.Context, rec *types.IdempotencyKey) (*types.IdempotencyKey, bool, error)
}

type idempotencyKeyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIdempotencyKeyRepo(db *gorm.DB, baseLog *logger.Logger) IdempotencyKeyRepo {
	return &idempotencyKeyRepo{
		db:  db,
		log: baseLog.With("repo", "IdempotencyKeyRepo"),
	}
}

func (r *idempotencyKeyRepo) GetOrCreate(dbc dbctx.Context, rec *types.IdempotencyKey) (*types.IdempotencyKey, bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if rec == nil || rec.LabID == uuid.Nil || rec.Key == "" || rec.Operation == "" {
		return nil, false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lab_id"}, {Name: "operation"}, {Name: "key"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return rec, true, nil
	}
	var existing types.IdempotencyKey
	err := transaction.WithContext(dbc.Ctx).
		Where("lab_id = ? AND operation = ? AND key = ?", rec.LabID, rec.Operation, rec.Key).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}
