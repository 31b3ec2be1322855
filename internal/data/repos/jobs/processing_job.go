package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

// ListFilter narrows ListByLab. Zero values mean "any".
type ListFilter struct {
	Status  string
	JobType string
	Page    int
	Limit   int
}

type ProcessingJobRepo interface {
	Create(dbc dbctx.Context, jobs []*types.ProcessingJob) ([]*types.ProcessingJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ProcessingJob, error)
	ListByLab(dbc dbctx.Context, labID uuid.UUID, f ListFilter) ([]*types.ProcessingJob, int64, error)
	ClaimNextRunnable(dbc dbctx.Context, workerID string, claimableTypes []string, staleRunning time.Duration) (*types.ProcessingJob, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, requiredStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasActive(dbc dbctx.Context, labID uuid.UUID, jobTypes []string, statuses []string) (bool, error)
}

type processingJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessingJobRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingJobRepo {
	return &processingJobRepo{
		db:  db,
		log: baseLog.With("repo", "ProcessingJobRepo"),
	}
}

func (r *processingJobRepo) Create(dbc dbctx.Context, jobs []*types.ProcessingJob) ([]*types.ProcessingJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.ProcessingJob{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *processingJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ProcessingJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.ProcessingJob
	err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *processingJobRepo) ListByLab(dbc dbctx.Context, labID uuid.UUID, f ListFilter) ([]*types.ProcessingJob, int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return nil, 0, nil
	}
	q := transaction.WithContext(dbc.Ctx).Model(&types.ProcessingJob{}).Where("lab_id = ?", labID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.JobType != "" {
		q = q.Where("job_type = ?", f.JobType)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var out []*types.ProcessingJob
	err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ClaimNextRunnable atomically transitions the highest-priority eligible job
// to running and assigns workerID. Eligible means: queued with retry_at
// elapsed (or unset), or running with a heartbeat older than staleRunning
// (crashed worker reclaim). Priority breaks ties among eligible jobs;
// retry_at only gates eligibility. SKIP LOCKED keeps concurrent claimers off
// the same row, so two workers can never both win one job.
func (r *processingJobRepo) ClaimNextRunnable(dbc dbctx.Context, workerID string, claimableTypes []string, staleRunning time.Duration) (*types.ProcessingJob, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.ProcessingJob
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job types.ProcessingJob
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          (status = ? AND (retry_at IS NULL OR retry_at <= ?))
          OR (status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?)
        )
      `, types.JobStatusQueued, now, types.JobStatusRunning, staleCutoff)
		if len(claimableTypes) > 0 {
			q = q.Where("job_type IN ?", claimableTypes)
		}
		qErr := q.Order("priority DESC, created_at ASC").First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		updates := map[string]interface{}{
			"status":       types.JobStatusRunning,
			"worker_id":    workerID,
			"retry_at":     nil,
			"heartbeat_at": now,
			"updated_at":   now,
		}
		if job.StartedAt == nil {
			updates["started_at"] = now
		}
		res := txx.Model(&types.ProcessingJob{}).
			Where("id = ? AND status = ?", job.ID, job.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the conditional transition; behave as no eligible job.
			return nil
		}
		job.Status = types.JobStatusRunning
		job.WorkerID = workerID
		job.RetryAt = nil
		job.HeartbeatAt = &now
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *processingJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ProcessingJob{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *processingJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
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
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := transaction.WithContext(dbc.Ctx).
		Model(&types.ProcessingJob{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *processingJobRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, requiredStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(requiredStatuses) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ProcessingJob{}).
		Where("id = ? AND status IN ?", id, requiredStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *processingJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(dbc.Ctx).
		Model(&types.ProcessingJob{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// HasActive reports whether the lab has any job of the given types in the
// given statuses. An empty status list means queued or running.
func (r *processingJobRepo) HasActive(dbc dbctx.Context, labID uuid.UUID, jobTypes []string, statuses []string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil || len(jobTypes) == 0 {
		return false, nil
	}
	if len(statuses) == 0 {
		statuses = []string{types.JobStatusQueued, types.JobStatusRunning}
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.ProcessingJob{}).
		Where("lab_id = ? AND job_type IN ? AND status IN ?",
			labID, jobTypes, statuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
