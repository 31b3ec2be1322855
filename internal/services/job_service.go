package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

// EnqueueInput is one job submission. IdempotencyKey is optional; when set,
// a repeated submission with the same key and payload returns the original
// job instead of creating a duplicate.
type EnqueueInput struct {
	LabID          uuid.UUID
	JobType        string
	Priority       int
	MaxAttempts    int
	InputConfig    map[string]any
	IdempotencyKey string
}

type JobService interface {
	Enqueue(ctx context.Context, in EnqueueInput) (*types.ProcessingJob, error)
	Get(ctx context.Context, labID, jobID uuid.UUID) (*types.ProcessingJob, error)
	List(ctx context.Context, labID uuid.UUID, f repos.ListFilter) ([]*types.ProcessingJob, int64, error)
	ListSteps(ctx context.Context, labID, jobID uuid.UUID) ([]*types.JobStep, error)
	// Retry resets a failed job for a fresh attempt cycle. Completed steps
	// keep their results; failed and running steps go back to pending.
	Retry(ctx context.Context, labID, jobID uuid.UUID) (*types.ProcessingJob, error)
	// Cancel transitions a queued job to cancelled immediately; a running job
	// gets cancel_requested and the orchestrator finalizes at the next step
	// boundary. Terminal jobs reject the request.
	Cancel(ctx context.Context, labID, jobID uuid.UUID) (*types.ProcessingJob, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	labs   repos.LabRepo
	jobs   repos.ProcessingJobRepo
	steps  repos.JobStepRepo
	keys   repos.IdempotencyKeyRepo
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, labs repos.LabRepo, jobs repos.ProcessingJobRepo, steps repos.JobStepRepo, keys repos.IdempotencyKeyRepo, notify JobNotifier) JobService {
	return &jobService{
		db:     db,
		log:    baseLog.With("service", "JobService"),
		labs:   labs,
		jobs:   jobs,
		steps:  steps,
		keys:   keys,
		notify: notify,
	}
}

func (s *jobService) Enqueue(ctx context.Context, in EnqueueInput) (*types.ProcessingJob, error) {
	dbc := dbctx.Context{Ctx: ctx}

	if !types.JobTypeValid(in.JobType) {
		return nil, apperr.Validation(fmt.Sprintf("unknown job_type %q", in.JobType))
	}
	lab, err := s.labs.GetByID(dbc, in.LabID)
	if err != nil {
		return nil, err
	}
	if lab == nil {
		return nil, apperr.NotFound("lab %s not found", in.LabID)
	}
	if err := validateJobInput(in.JobType, in.InputConfig); err != nil {
		return nil, err
	}

	if in.MaxAttempts < 1 {
		in.MaxAttempts = 3
	}
	cfg, err := json.Marshal(in.InputConfig)
	if err != nil {
		return nil, apperr.Validation("input_config is not serializable")
	}

	job := &types.ProcessingJob{
		ID:          uuid.New(),
		LabID:       in.LabID,
		JobType:     in.JobType,
		Status:      types.JobStatusQueued,
		Priority:    in.Priority,
		MaxAttempts: in.MaxAttempts,
		InputConfig: datatypes.JSON(cfg),
	}

	if in.IdempotencyKey == "" {
		if _, err := s.jobs.Create(dbc, []*types.ProcessingJob{job}); err != nil {
			return nil, err
		}
		s.notify.JobQueued(in.LabID, job)
		s.log.Info("Job enqueued", "job_id", job.ID, "job_type", job.JobType, "lab_id", in.LabID)
		return job, nil
	}

	hash := requestHash(in.JobType, in.InputConfig)
	var out *types.ProcessingJob
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: txx}
		rec, created, err := s.keys.GetOrCreate(txc, &types.IdempotencyKey{
			ID:          uuid.New(),
			LabID:       in.LabID,
			Operation:   "job_enqueue",
			Key:         in.IdempotencyKey,
			RequestHash: hash,
			ResourceID:  job.ID,
		})
		if err != nil {
			return err
		}
		if !created {
			if rec.RequestHash != hash {
				return apperr.Conflict("idempotency key %q was used with a different payload", in.IdempotencyKey)
			}
			existing, err := s.jobs.GetByID(txc, rec.ResourceID)
			if err != nil {
				return err
			}
			if existing == nil {
				return apperr.Conflict("idempotency key %q refers to a missing job", in.IdempotencyKey)
			}
			out = existing
			return nil
		}
		if _, err := s.jobs.Create(txc, []*types.ProcessingJob{job}); err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.ID == job.ID {
		s.notify.JobQueued(in.LabID, out)
		s.log.Info("Job enqueued", "job_id", out.ID, "job_type", out.JobType, "lab_id", in.LabID)
	}
	return out, nil
}

func (s *jobService) Get(ctx context.Context, labID, jobID uuid.UUID) (*types.ProcessingJob, error) {
	job, err := s.jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.LabID != labID {
		return nil, apperr.NotFound("job %s not found", jobID)
	}
	return job, nil
}

func (s *jobService) List(ctx context.Context, labID uuid.UUID, f repos.ListFilter) ([]*types.ProcessingJob, int64, error) {
	return s.jobs.ListByLab(dbctx.Context{Ctx: ctx}, labID, f)
}

func (s *jobService) ListSteps(ctx context.Context, labID, jobID uuid.UUID) ([]*types.JobStep, error) {
	if _, err := s.Get(ctx, labID, jobID); err != nil {
		return nil, err
	}
	return s.steps.ListByJob(dbctx.Context{Ctx: ctx}, jobID)
}

func (s *jobService) Retry(ctx context.Context, labID, jobID uuid.UUID) (*types.ProcessingJob, error) {
	job, err := s.Get(ctx, labID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.JobStatusFailed {
		return nil, apperr.Conflict("job %s is %s; only failed jobs can be retried", jobID, job.Status)
	}

	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: txx}
		ok, err := s.jobs.UpdateFieldsIfStatus(txc, jobID, []string{types.JobStatusFailed}, map[string]interface{}{
			"status":           types.JobStatusQueued,
			"attempts":         0,
			"retry_at":         nil,
			"error_details":    nil,
			"cancel_requested": false,
			"worker_id":        "",
			"completed_at":     nil,
			"progress_percent": 0,
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("job %s changed state during retry", jobID)
		}
		return s.steps.ResetForRetry(txc, jobID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Job reset for retry", "job_id", jobID, "lab_id", labID)
	return s.Get(ctx, labID, jobID)
}

func (s *jobService) Cancel(ctx context.Context, labID, jobID uuid.UUID) (*types.ProcessingJob, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.Get(ctx, labID, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case types.JobStatusQueued:
		ok, err := s.jobs.UpdateFieldsIfStatus(dbc, jobID, []string{types.JobStatusQueued}, map[string]interface{}{
			"status":           types.JobStatusCancelled,
			"cancel_requested": true,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Conflict("job %s changed state during cancel", jobID)
		}
		fresh, err := s.Get(ctx, labID, jobID)
		if err != nil {
			return nil, err
		}
		s.notify.JobCancelled(labID, fresh)
		return fresh, nil
	case types.JobStatusRunning:
		ok, err := s.jobs.UpdateFieldsIfStatus(dbc, jobID, []string{types.JobStatusRunning}, map[string]interface{}{
			"cancel_requested": true,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Conflict("job %s changed state during cancel", jobID)
		}
		s.log.Info("Cancel requested for running job", "job_id", jobID)
		return s.Get(ctx, labID, jobID)
	default:
		return nil, apperr.Conflict("job %s is already %s", jobID, job.Status)
	}
}

// requestHash fingerprints an enqueue payload. encoding/json sorts map keys,
// so the same logical payload always hashes identically.
func requestHash(jobType string, input map[string]any) string {
	raw, _ := json.Marshal(map[string]any{
		"job_type": jobType,
		"input":    input,
	})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// validateJobInput enforces the per-type payload contract before a job row
// exists, so malformed submissions fail synchronously instead of burning
// worker attempts.
func validateJobInput(jobType string, input map[string]any) error {
	get := func(key string) string {
		if input == nil {
			return ""
		}
		v, ok := input[key]
		if !ok || v == nil {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	switch jobType {
	case types.JobTypePaperCrawl:
		if get("search_query") == "" {
			return apperr.Validation("paper_crawl requires input_config.search_query")
		}
	case types.JobTypeSchemaMigrate:
		mode := get("mode")
		if mode != "dry_run" && mode != "commit" {
			return apperr.Validation("schema_migrate requires input_config.mode of dry_run or commit")
		}
		if _, err := uuid.Parse(get("schema_id")); err != nil {
			return apperr.Validation("schema_migrate requires a valid input_config.schema_id")
		}
	}
	return nil
}
