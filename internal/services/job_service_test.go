package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	"github.com/labgraph/labgraph-backend/internal/data/repos/testutil"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

func newJobService(t *testing.T) (JobService, *recordingNotifier, *gorm.DB, *types.Lab) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)

	lab := &types.Lab{ID: uuid.New(), Name: "neuro", RowVersion: 1}
	require.NoError(t, tx.Create(lab).Error)

	notify := &recordingNotifier{}
	svc := NewJobService(tx, log,
		repos.NewLabRepo(tx, log),
		repos.NewProcessingJobRepo(tx, log),
		repos.NewJobStepRepo(tx, log),
		repos.NewIdempotencyKeyRepo(tx, log),
		notify)
	return svc, notify, tx, lab
}

func TestEnqueueValidatesUpFront(t *testing.T) {
	svc, _, _, lab := newJobService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, EnqueueInput{LabID: lab.ID, JobType: "mystery_task"})
	require.Error(t, err)
	require.True(t, apperr.IsValidation(err))

	_, err = svc.Enqueue(ctx, EnqueueInput{LabID: uuid.New(), JobType: types.JobTypeDataExport})
	require.Error(t, err)
	require.True(t, apperr.IsNotFound(err))

	// paper_crawl without a search query never reaches the queue.
	_, err = svc.Enqueue(ctx, EnqueueInput{LabID: lab.ID, JobType: types.JobTypePaperCrawl})
	require.Error(t, err)
	require.True(t, apperr.IsValidation(err))

	job, err := svc.Enqueue(ctx, EnqueueInput{
		LabID:       lab.ID,
		JobType:     types.JobTypePaperCrawl,
		InputConfig: map[string]any{"search_query": "fusion confinement"},
	})
	require.NoError(t, err)
	require.Equal(t, types.JobStatusQueued, job.Status)
	require.Equal(t, 3, job.MaxAttempts)
}

func TestEnqueueIdempotencyKeyReturnsOriginal(t *testing.T) {
	svc, notify, _, lab := newJobService(t)
	ctx := context.Background()

	in := EnqueueInput{
		LabID:          lab.ID,
		JobType:        types.JobTypePaperCrawl,
		InputConfig:    map[string]any{"search_query": "dark matter"},
		IdempotencyKey: "crawl-dm-1",
	}
	first, err := svc.Enqueue(ctx, in)
	require.NoError(t, err)

	second, err := svc.Enqueue(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	// Only the creating call announced the job.
	require.Equal(t, []uuid.UUID{first.ID}, notify.queued)

	// Same key with a different payload is a conflict, not a silent dedupe.
	in.InputConfig = map[string]any{"search_query": "dark energy"}
	_, err = svc.Enqueue(ctx, in)
	require.Error(t, err)
	require.True(t, apperr.IsConflict(err))
}

func TestRetryOnlyFailedJobs(t *testing.T) {
	svc, _, tx, lab := newJobService(t)
	ctx := context.Background()

	job, err := svc.Enqueue(ctx, EnqueueInput{LabID: lab.ID, JobType: types.JobTypeDataExport})
	require.NoError(t, err)

	_, err = svc.Retry(ctx, lab.ID, job.ID)
	require.Error(t, err)
	require.True(t, apperr.IsConflict(err))

	// Simulate a failed run with a mixed step history.
	require.NoError(t, tx.Model(&types.ProcessingJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"status":   types.JobStatusFailed,
		"attempts": 3,
	}).Error)
	steps := []*types.JobStep{
		{ID: uuid.New(), JobID: job.ID, StepName: "export_graph", StepOrder: 1, Status: types.StepStatusFailed, ErrorMessage: "boom"},
	}
	require.NoError(t, tx.Create(&steps).Error)

	fresh, err := svc.Retry(ctx, lab.ID, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusQueued, fresh.Status)
	require.Equal(t, 0, fresh.Attempts)
	require.Nil(t, fresh.RetryAt)
	require.Empty(t, fresh.ErrorDetails)

	stepsRepo := repos.NewJobStepRepo(tx, testutil.Logger(t))
	rows, err := stepsRepo.ListByJob(dbctx.Context{Ctx: ctx}, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.StepStatusPending, rows[0].Status)
	require.Empty(t, rows[0].ErrorMessage)
}

func TestCancelQueuedAndRunning(t *testing.T) {
	svc, notify, tx, lab := newJobService(t)
	ctx := context.Background()

	queued, err := svc.Enqueue(ctx, EnqueueInput{LabID: lab.ID, JobType: types.JobTypeDataExport})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, lab.ID, queued.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusCancelled, cancelled.Status)
	require.Contains(t, notify.cancelled, queued.ID)

	// Running jobs only get the flag; the orchestrator finalizes later.
	running, err := svc.Enqueue(ctx, EnqueueInput{LabID: lab.ID, JobType: types.JobTypeDataExport})
	require.NoError(t, err)
	require.NoError(t, tx.Model(&types.ProcessingJob{}).Where("id = ?", running.ID).
		Update("status", types.JobStatusRunning).Error)

	flagged, err := svc.Cancel(ctx, lab.ID, running.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusRunning, flagged.Status)
	require.True(t, flagged.CancelRequested)

	// Terminal jobs reject another cancel.
	_, err = svc.Cancel(ctx, lab.ID, queued.ID)
	require.Error(t, err)
	require.True(t, apperr.IsConflict(err))
}

func TestGetScopedToLab(t *testing.T) {
	svc, _, tx, lab := newJobService(t)
	ctx := context.Background()

	otherLab := &types.Lab{ID: uuid.New(), Name: "other", RowVersion: 1}
	require.NoError(t, tx.Create(otherLab).Error)

	job, err := svc.Enqueue(ctx, EnqueueInput{LabID: lab.ID, JobType: types.JobTypeDataExport})
	require.NoError(t, err)

	_, err = svc.Get(ctx, otherLab.ID, job.ID)
	require.Error(t, err)
	require.True(t, apperr.IsNotFound(err))
}
