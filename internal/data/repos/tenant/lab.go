package tenant

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type LabRepo interface {
	Create(dbc dbctx.Context, labs []*types.Lab) ([]*types.Lab, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Lab, error)
	List(dbc dbctx.Context) ([]*types.Lab, error)
	// ActivateSchema swaps which schema version governs the lab, as one
	// transaction conditioned on the lab's row version: the previously
	// active version is deactivated and the target activated with no window
	// of two or zero active rows. Of two concurrent calls, exactly one wins;
	// the loser gets a ConflictError.
	ActivateSchema(dbc dbctx.Context, labID, schemaID uuid.UUID, expectedRowVersion int64) (*types.Lab, error)
	// ActivateConnection follows the same single-winner discipline for the
	// lab's graph connection, independent of schema activation.
	ActivateConnection(dbc dbctx.Context, labID, connectionID uuid.UUID, expectedRowVersion int64) (*types.Lab, error)
}

type labRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLabRepo(db *gorm.DB, baseLog *logger.Logger) LabRepo {
	return &labRepo{
		db:  db,
		log: baseLog.With("repo", "LabRepo"),
	}
}

func (r *labRepo) Create(dbc dbctx.Context, labs []*types.Lab) ([]*types.Lab, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(labs) == 0 {
		return []*types.Lab{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&labs).Error; err != nil {
		return nil, err
	}
	return labs, nil
}

func (r *labRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Lab, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var lab types.Lab
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&lab).Error
	if err != nil {
		return nil, err
	}
	if lab.ID == uuid.Nil {
		return nil, nil
	}
	return &lab, nil
}

func (r *labRepo) List(dbc dbctx.Context) ([]*types.Lab, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Lab
	if err := transaction.WithContext(dbc.Ctx).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *labRepo) ActivateSchema(dbc dbctx.Context, labID, schemaID uuid.UUID, expectedRowVersion int64) (*types.Lab, error) {
	return r.activate(dbc, labID, expectedRowVersion, func(txx *gorm.DB) (map[string]interface{}, error) {
		var schema types.KgSchema
		if err := txx.Where("id = ? AND lab_id = ?", schemaID, labID).Limit(1).Find(&schema).Error; err != nil {
			return nil, err
		}
		if schema.ID == uuid.Nil {
			return nil, apperr.NotFound("schema %s not found for lab %s", schemaID, labID)
		}
		if err := txx.Model(&types.KgSchema{}).
			Where("lab_id = ? AND is_active = ? AND id <> ?", labID, true, schemaID).
			Update("is_active", false).Error; err != nil {
			return nil, err
		}
		if err := txx.Model(&types.KgSchema{}).
			Where("id = ?", schemaID).
			Update("is_active", true).Error; err != nil {
			return nil, err
		}
		return map[string]interface{}{"active_schema_id": schemaID}, nil
	})
}

func (r *labRepo) ActivateConnection(dbc dbctx.Context, labID, connectionID uuid.UUID, expectedRowVersion int64) (*types.Lab, error) {
	return r.activate(dbc, labID, expectedRowVersion, func(txx *gorm.DB) (map[string]interface{}, error) {
		var conn types.GraphConnection
		if err := txx.Where("id = ? AND lab_id = ?", connectionID, labID).Limit(1).Find(&conn).Error; err != nil {
			return nil, err
		}
		if conn.ID == uuid.Nil {
			return nil, apperr.NotFound("connection %s not found for lab %s", connectionID, labID)
		}
		if err := txx.Model(&types.GraphConnection{}).
			Where("lab_id = ? AND is_active = ? AND id <> ?", labID, true, connectionID).
			Update("is_active", false).Error; err != nil {
			return nil, err
		}
		if err := txx.Model(&types.GraphConnection{}).
			Where("id = ?", connectionID).
			Update("is_active", true).Error; err != nil {
			return nil, err
		}
		return map[string]interface{}{"active_connection_id": connectionID}, nil
	})
}

// activate runs the shared activation skeleton: CAS on the lab row version
// first (this is the single-winner gate), then let the variant flip the
// is_active flags and report which lab pointer to swap.
func (r *labRepo) activate(dbc dbctx.Context, labID uuid.UUID, expectedRowVersion int64, flip func(txx *gorm.DB) (map[string]interface{}, error)) (*types.Lab, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out *types.Lab
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var lab types.Lab
		if err := txx.Where("id = ?", labID).Limit(1).Find(&lab).Error; err != nil {
			return err
		}
		if lab.ID == uuid.Nil {
			return apperr.NotFound("lab %s not found", labID)
		}
		rv := expectedRowVersion
		if rv <= 0 {
			rv = lab.RowVersion
		}
		res := txx.Model(&types.Lab{}).
			Where("id = ? AND row_version = ?", labID, rv).
			Updates(map[string]interface{}{
				"row_version": gorm.Expr("row_version + 1"),
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("lab %s version %d is stale", labID, rv)
		}
		updates, err := flip(txx)
		if err != nil {
			return err
		}
		if err := txx.Model(&types.Lab{}).Where("id = ?", labID).Updates(updates).Error; err != nil {
			return err
		}
		if err := txx.Where("id = ?", labID).Limit(1).Find(&lab).Error; err != nil {
			return err
		}
		out = &lab
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
