package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type JobStepRepo interface {
	CreateBatch(dbc dbctx.Context, steps []*types.JobStep) ([]*types.JobStep, error)
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobStep, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ResetForRetry(dbc dbctx.Context, jobID uuid.UUID) error
}

type jobStepRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobStepRepo(db *gorm.DB, baseLog *logger.Logger) JobStepRepo {
	return &jobStepRepo{
		db:  db,
		log: baseLog.With("repo", "JobStepRepo"),
	}
}

func (r *jobStepRepo) CreateBatch(dbc dbctx.Context, steps []*types.JobStep) ([]*types.JobStep, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(steps) == 0 {
		return []*types.JobStep{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&steps).Error; err != nil {
		return nil, err
	}
	return steps, nil
}

// ListByJob returns a job's steps in execution order.
func (r *jobStepRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobStep, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil, nil
	}
	var out []*types.JobStep
	err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("step_order ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *jobStepRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.JobStep{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ResetForRetry puts every non-completed step of a job back to pending so a
// retried job starts a fresh attempt sequence without repeating finished
// work.
func (r *jobStepRepo) ResetForRetry(dbc dbctx.Context, jobID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.JobStep{}).
		Where("job_id = ? AND status IN ?", jobID, []string{types.StepStatusRunning, types.StepStatusFailed}).
		Updates(map[string]interface{}{
			"status":        types.StepStatusPending,
			"error_message": "",
			"started_at":    nil,
			"completed_at":  nil,
			"updated_at":    now,
		}).Error
}
