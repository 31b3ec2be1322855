package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos/testutil"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

func txc(tb testing.TB) (dbctx.Context, *gorm.DB) {
	tb.Helper()
	tx := testutil.Tx(tb, testutil.DB(tb))
	return dbctx.Context{Ctx: context.Background(), Tx: tx}, tx
}

func seedJob(t *testing.T, repo ProcessingJobRepo, dbc dbctx.Context, labID uuid.UUID, mutate func(j *types.ProcessingJob)) *types.ProcessingJob {
	t.Helper()
	job := &types.ProcessingJob{
		ID:          uuid.New(),
		LabID:       labID,
		JobType:     types.JobTypePaperCrawl,
		Status:      types.JobStatusQueued,
		MaxAttempts: 3,
	}
	if mutate != nil {
		mutate(job)
	}
	_, err := repo.Create(dbc, []*types.ProcessingJob{job})
	require.NoError(t, err)
	return job
}

func TestClaimNextRunnablePrefersPriorityThenAge(t *testing.T) {
	dbc, _ := txc(t)
	repo := NewProcessingJobRepo(testutil.DB(t), testutil.Logger(t))
	labID := uuid.New()

	low := seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) { j.Priority = 1 })
	oldHigh := seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) { j.Priority = 5 })
	time.Sleep(5 * time.Millisecond)
	newHigh := seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) { j.Priority = 5 })

	first, err := repo.ClaimNextRunnable(dbc, "w1", nil, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, oldHigh.ID, first.ID)
	require.Equal(t, types.JobStatusRunning, first.Status)
	require.Equal(t, "w1", first.WorkerID)
	require.NotNil(t, first.StartedAt)
	require.NotNil(t, first.HeartbeatAt)

	second, err := repo.ClaimNextRunnable(dbc, "w2", nil, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, newHigh.ID, second.ID)

	third, err := repo.ClaimNextRunnable(dbc, "w3", nil, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, third)
	require.Equal(t, low.ID, third.ID)

	none, err := repo.ClaimNextRunnable(dbc, "w4", nil, 10*time.Minute)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestClaimNextRunnableRespectsRetryAt(t *testing.T) {
	dbc, _ := txc(t)
	repo := NewProcessingJobRepo(testutil.DB(t), testutil.Logger(t))
	labID := uuid.New()

	future := time.Now().Add(time.Hour)
	seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) { j.RetryAt = &future })

	none, err := repo.ClaimNextRunnable(dbc, "w1", nil, 10*time.Minute)
	require.NoError(t, err)
	require.Nil(t, none)

	past := time.Now().Add(-time.Minute)
	ready := seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) { j.RetryAt = &past })

	claimed, err := repo.ClaimNextRunnable(dbc, "w1", nil, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, ready.ID, claimed.ID)
	require.Nil(t, claimed.RetryAt)
}

func TestClaimNextRunnableReclaimsStaleRunning(t *testing.T) {
	dbc, _ := txc(t)
	repo := NewProcessingJobRepo(testutil.DB(t), testutil.Logger(t))
	labID := uuid.New()

	staleBeat := time.Now().Add(-time.Hour)
	stale := seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) {
		j.Status = types.JobStatusRunning
		j.WorkerID = "dead-worker"
		j.HeartbeatAt = &staleBeat
	})

	freshBeat := time.Now()
	seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) {
		j.Status = types.JobStatusRunning
		j.WorkerID = "live-worker"
		j.HeartbeatAt = &freshBeat
	})

	claimed, err := repo.ClaimNextRunnable(dbc, "w1", nil, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, stale.ID, claimed.ID)
	require.Equal(t, "w1", claimed.WorkerID)

	none, err := repo.ClaimNextRunnable(dbc, "w2", nil, 10*time.Minute)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestClaimNextRunnableFiltersTypes(t *testing.T) {
	dbc, _ := txc(t)
	repo := NewProcessingJobRepo(testutil.DB(t), testutil.Logger(t))
	labID := uuid.New()

	seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) { j.JobType = types.JobTypeSchemaMigrate })

	none, err := repo.ClaimNextRunnable(dbc, "w1", []string{types.JobTypePaperCrawl}, 10*time.Minute)
	require.NoError(t, err)
	require.Nil(t, none)

	claimed, err := repo.ClaimNextRunnable(dbc, "w1", []string{types.JobTypeSchemaMigrate}, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func TestUpdateFieldsIfStatusGuards(t *testing.T) {
	dbc, _ := txc(t)
	repo := NewProcessingJobRepo(testutil.DB(t), testutil.Logger(t))
	labID := uuid.New()

	job := seedJob(t, repo, dbc, labID, nil)

	ok, err := repo.UpdateFieldsIfStatus(dbc, job.ID, []string{types.JobStatusRunning}, map[string]interface{}{
		"status": types.JobStatusCompleted,
	})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.UpdateFieldsIfStatus(dbc, job.ID, []string{types.JobStatusQueued}, map[string]interface{}{
		"status": types.JobStatusCancelled,
	})
	require.NoError(t, err)
	require.True(t, ok)

	// Cancelled is terminal; the unless-guard must reject a late failure write.
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, job.ID, []string{types.JobStatusCancelled}, map[string]interface{}{
		"status": types.JobStatusFailed,
	})
	require.NoError(t, err)
	require.False(t, ok)

	fresh, err := repo.GetByID(dbc, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusCancelled, fresh.Status)
}

func TestHasActive(t *testing.T) {
	dbc, _ := txc(t)
	repo := NewProcessingJobRepo(testutil.DB(t), testutil.Logger(t))
	labID := uuid.New()

	active, err := repo.HasActive(dbc, labID, []string{types.JobTypeSchemaMigrate}, nil)
	require.NoError(t, err)
	require.False(t, active)

	job := seedJob(t, repo, dbc, labID, func(j *types.ProcessingJob) { j.JobType = types.JobTypeSchemaMigrate })

	active, err = repo.HasActive(dbc, labID, []string{types.JobTypeSchemaMigrate}, nil)
	require.NoError(t, err)
	require.True(t, active)

	// Queued is not running; an explicit status filter narrows the check.
	running, err := repo.HasActive(dbc, labID, []string{types.JobTypeSchemaMigrate}, []string{types.JobStatusRunning})
	require.NoError(t, err)
	require.False(t, running)

	_, err = repo.UpdateFieldsIfStatus(dbc, job.ID, []string{types.JobStatusQueued}, map[string]interface{}{
		"status": types.JobStatusRunning,
	})
	require.NoError(t, err)

	running, err = repo.HasActive(dbc, labID, []string{types.JobTypeSchemaMigrate}, []string{types.JobStatusRunning})
	require.NoError(t, err)
	require.True(t, running)

	_, err = repo.UpdateFieldsIfStatus(dbc, job.ID, []string{types.JobStatusRunning}, map[string]interface{}{
		"status": types.JobStatusCompleted,
	})
	require.NoError(t, err)

	active, err = repo.HasActive(dbc, labID, []string{types.JobTypeSchemaMigrate}, nil)
	require.NoError(t, err)
	require.False(t, active)
}
