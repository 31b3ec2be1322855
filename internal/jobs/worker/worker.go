package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/services"
)

// Options tunes the worker pool. Zero values get sensible defaults.
type Options struct {
	Concurrency  int
	PollInterval time.Duration
	StaleRunning time.Duration
	AdminLockTTL time.Duration
	Heartbeat    time.Duration
}

func (o *Options) defaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.StaleRunning <= 0 {
		o.StaleRunning = 10 * time.Minute
	}
	if o.AdminLockTTL <= 0 {
		o.AdminLockTTL = 30 * time.Minute
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
}

/*
Worker claims runnable jobs and dispatches them to registered handlers.
Beyond the claim loop it enforces the per-lab isolation protocol:
	- schema_migrate and index_rebuild hold the lab's graph_admin lock for
	  their whole run; if the lock is taken the job goes back to queued
	  without burning an attempt.
	- kg_upsert is pushed back while the lab's graph_write window is open
	  (a migration commit in flight).
Each claimed job gets a heartbeat goroutine; a worker crash leaves a stale
heartbeat and another worker reclaims the row.
*/
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	jobs     repos.ProcessingJobRepo
	steps    repos.JobStepRepo
	locks    repos.TenantLockRepo
	registry *runtime.Registry
	notify   services.JobNotifier
	opts     Options
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, jobsRepo repos.ProcessingJobRepo, stepsRepo repos.JobStepRepo, locksRepo repos.TenantLockRepo, registry *runtime.Registry, notify services.JobNotifier, opts Options) *Worker {
	opts.defaults()
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		jobs:     jobsRepo,
		steps:    stepsRepo,
		locks:    locksRepo,
		registry: registry,
		notify:   notify,
		opts:     opts,
	}
}

// Start runs the pool until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.log.Info("Starting job worker pool", "concurrency", w.opts.Concurrency)
	g, ctx := errgroup.WithContext(ctx)
	hostname, _ := os.Hostname()
	for i := 0; i < w.opts.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-%d", hostname, i+1)
		g.Go(func() error {
			w.runLoop(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	claimable := w.registry.Types()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			job, err := w.jobs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, workerID, claimable, w.opts.StaleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.dispatch(ctx, workerID, job)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, workerID string, job *types.ProcessingJob) {
	jc := runtime.NewContext(ctx, w.db, job, w.jobs, w.steps, w.notify)

	if !w.admit(jc) {
		return
	}

	release := w.acquireAdminLock(jc)
	if release == nil && needsAdminLock(job.JobType) {
		return
	}
	if release != nil {
		defer release()
	}

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type",
			"worker_id", workerID, "job_type", job.JobType, "job_id", job.ID)
		jc.Fail(&missingHandlerError{JobType: job.JobType})
		return
	}

	stopHeartbeat := w.startHeartbeat(ctx, job)
	defer stopHeartbeat()

	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic",
					"worker_id", workerID, "job_id", job.ID, "job_type", job.JobType, "panic", r)
				jc.Fail(fmt.Errorf("panic: %v", r))
			}
		}()
		if runErr := h.Run(jc); runErr != nil {
			// Handlers settle their own state through the engine; this is a
			// safety net for infrastructure errors that escaped it.
			w.log.Error("Job handler returned error", "job_id", job.ID, "error", runErr)
			jc.Fail(runErr)
		}
	}()
}

// admit pushes a claimed kg_upsert back to queued while the lab's
// graph_write window is open. The short requeue does not count as an
// attempt; the job simply was not admissible yet.
func (w *Worker) admit(jc *runtime.Context) bool {
	if jc.Job.JobType != types.JobTypeKgUpsert {
		return true
	}
	held, err := w.locks.Held(dbctx.Context{Ctx: jc.Ctx}, jc.Job.LabID, types.LockScopeGraphWrite)
	if err != nil {
		w.log.Warn("graph_write lock check failed", "job_id", jc.Job.ID, "error", err)
		w.pushBack(jc, 5*time.Second)
		return false
	}
	if held {
		w.log.Info("kg_upsert deferred: graph_write window open",
			"job_id", jc.Job.ID, "lab_id", jc.Job.LabID)
		w.pushBack(jc, 15*time.Second)
		return false
	}
	return true
}

func needsAdminLock(jobType string) bool {
	return jobType == types.JobTypeSchemaMigrate || jobType == types.JobTypeIndexRebuild
}

// acquireAdminLock takes the lab's graph_admin lock for admin job types and
// returns the release func, nil when the lock is unavailable (the job is
// pushed back). Non-admin types get a no-op release.
func (w *Worker) acquireAdminLock(jc *runtime.Context) func() {
	if !needsAdminLock(jc.Job.JobType) {
		return func() {}
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}
	acquired, err := w.locks.Acquire(dbc, jc.Job.LabID, types.LockScopeGraphAdmin, jc.Job.ID, w.opts.AdminLockTTL)
	if err != nil {
		w.log.Warn("graph_admin lock acquire failed", "job_id", jc.Job.ID, "error", err)
		w.pushBack(jc, 10*time.Second)
		return nil
	}
	if !acquired {
		w.log.Info("Admin job deferred: graph_admin lock held",
			"job_id", jc.Job.ID, "lab_id", jc.Job.LabID)
		w.pushBack(jc, 30*time.Second)
		return nil
	}
	return func() {
		_ = w.locks.Release(dbctx.Context{Ctx: context.Background()}, jc.Job.LabID, types.LockScopeGraphAdmin, jc.Job.ID)
	}
}

// pushBack undoes a claim: running back to queued with a short retry_at and
// no attempt increment.
func (w *Worker) pushBack(jc *runtime.Context, delay time.Duration) {
	now := time.Now()
	retryAt := now.Add(delay)
	ok, err := w.jobs.UpdateFieldsIfStatus(dbctx.Context{Ctx: jc.Ctx}, jc.Job.ID,
		[]string{types.JobStatusRunning}, map[string]interface{}{
			"status":     types.JobStatusQueued,
			"worker_id":  "",
			"retry_at":   retryAt,
			"updated_at": now,
		})
	if err != nil || !ok {
		w.log.Warn("Failed to push back claimed job", "job_id", jc.Job.ID, "error", err)
	}
}

func (w *Worker) startHeartbeat(ctx context.Context, job *types.ProcessingJob) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.opts.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.jobs.Heartbeat(dbctx.Context{Ctx: hbCtx}, job.ID); err != nil {
					w.log.Warn("Heartbeat failed", "job_id", job.ID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }
