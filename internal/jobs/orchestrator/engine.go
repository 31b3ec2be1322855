package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

/*
The engine owns the job state machine. Handlers describe their work as an
ordered pipeline of named steps; the engine persists one job_step row per
step, executes them strictly in order, and decides every status transition:
	- step error classified fatal        -> job failed
	- step error classified retryable    -> attempts+1, requeue with backoff,
	                                        or failed when attempts exhaust
	- cancel requested between steps     -> job cancelled, rest skipped
	- all steps completed                -> job completed, successor enqueued
A requeued job re-enters through the same pipeline; steps already completed
are skipped, so each step only needs to be idempotent within itself.
*/

type StepFunc func(jc *runtime.Context, step *types.JobStep) (map[string]any, error)

type Step struct {
	Name    string
	Timeout time.Duration
	Run     StepFunc
}

// Pipeline is one job type's execution plan. Next, when set, builds the
// successor job enqueued after successful completion (the ingestion chain).
type Pipeline struct {
	JobType string
	Steps   []Step
	Next    func(jc *runtime.Context, result map[string]any) *types.ProcessingJob
}

type Engine struct {
	log         *logger.Logger
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewEngine(baseLog *logger.Logger, backoffBase, backoffCap time.Duration) *Engine {
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	if backoffCap <= 0 {
		backoffCap = time.Hour
	}
	return &Engine{
		log:         baseLog.With("component", "Orchestrator"),
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
	}
}

// Execute drives one claimed job through its pipeline. It always leaves the
// job row in a coherent state; the returned error only signals
// infrastructure trouble (the job itself was already failed or requeued).
func (e *Engine) Execute(jc *runtime.Context, p Pipeline) error {
	if jc == nil || jc.Job == nil {
		return fmt.Errorf("orchestrator: nil job context")
	}
	if len(p.Steps) == 0 {
		jc.Fail(apperr.Fatalf("pipeline %s has no steps", p.JobType))
		return nil
	}

	rows, err := e.ensureSteps(jc, p)
	if err != nil {
		jc.RequeueOrFail(e.Backoff(jc.Job.Attempts), fmt.Errorf("seed steps: %w", err))
		return nil
	}

	byName := make(map[string]Step, len(p.Steps))
	for _, s := range p.Steps {
		byName[s.Name] = s
	}

	var final map[string]any
	total := len(rows)
	for i, row := range rows {
		switch row.Status {
		case types.StepStatusCompleted:
			// Finished on a previous attempt; carry its output forward.
			if len(row.OutputData) > 0 {
				var prev map[string]any
				if json.Unmarshal(row.OutputData, &prev) == nil {
					final = prev
				}
			}
			continue
		case types.StepStatusSkipped:
			continue
		}

		if jc.CancelRequested() {
			jc.MarkCancelled()
			e.skipRemaining(jc, rows[i:])
			return nil
		}

		step, ok := byName[row.StepName]
		if !ok {
			jc.Fail(apperr.Fatalf("no step %q in pipeline %s", row.StepName, p.JobType))
			return nil
		}

		e.markStepRunning(jc, row)
		out, stepErr := e.runStep(jc, step, row)
		if stepErr != nil {
			e.markStepFailed(jc, row, stepErr)
			e.settleFailure(jc, stepErr)
			return nil
		}
		e.markStepCompleted(jc, row, out)
		if out != nil {
			final = out
		}
		jc.Progress((i+1)*100/total, jc.Job.ProcessedItems, jc.Job.TotalItems)
	}

	jc.Complete(final)
	if jc.Job.Status != types.JobStatusCompleted {
		// A concurrent cancel beat the completion write; nothing to chain.
		return nil
	}

	if p.Next != nil {
		if next := p.Next(jc, final); next != nil {
			e.enqueueNext(jc, next)
		}
	}
	return nil
}

// Backoff computes the retry delay for the given attempt count:
// base doubled per attempt, capped, with jitter so a burst of failures does
// not requeue in lockstep.
func (e *Engine) Backoff(attempts int) time.Duration {
	return backoffWithJitter(e.backoffBase, e.backoffCap, attempts)
}

func (e *Engine) ensureSteps(jc *runtime.Context, p Pipeline) ([]*types.JobStep, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}
	rows, err := jc.Steps.ListByJob(dbc, jc.Job.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}
	seed := make([]*types.JobStep, 0, len(p.Steps))
	for i, s := range p.Steps {
		seed = append(seed, &types.JobStep{
			ID:        uuid.New(),
			JobID:     jc.Job.ID,
			StepName:  s.Name,
			StepOrder: i + 1,
			Status:    types.StepStatusPending,
		})
	}
	return jc.Steps.CreateBatch(dbc, seed)
}

func (e *Engine) runStep(jc *runtime.Context, step Step, row *types.JobStep) (out map[string]any, err error) {
	ctx := jc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := step.Timeout
	// Callers can shorten or extend the per-step budget via input_config.
	if secs := jc.InputInt("step_timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	prev := jc.Ctx
	jc.Ctx = ctx
	defer func() { jc.Ctx = prev }()

	out, err = step.Run(jc, row)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = apperr.Retryablef("step %s timed out after %s", step.Name, timeout)
	}
	return out, err
}

// settleFailure applies the retry policy. Fatal, validation, not-found and
// divergence errors describe conditions a retry cannot cure, so they fail
// immediately; anything else is treated as transient. The incremented
// attempt count must stay under max_attempts for a requeue.
func (e *Engine) settleFailure(jc *runtime.Context, stepErr error) {
	if apperr.IsFatal(stepErr) || apperr.IsValidation(stepErr) || apperr.IsNotFound(stepErr) || apperr.IsMigrationDivergence(stepErr) {
		jc.Fail(stepErr)
		return
	}
	jc.RequeueOrFail(e.Backoff(jc.Job.Attempts), stepErr)
}

func (e *Engine) markStepRunning(jc *runtime.Context, row *types.JobStep) {
	now := time.Now()
	_ = jc.Steps.UpdateFields(dbctx.Context{Ctx: jc.Ctx}, row.ID, map[string]interface{}{
		"status":     types.StepStatusRunning,
		"started_at": now,
	})
	row.Status = types.StepStatusRunning
	row.StartedAt = &now
}

func (e *Engine) markStepCompleted(jc *runtime.Context, row *types.JobStep, out map[string]any) {
	now := time.Now()
	var data datatypes.JSON
	if out != nil {
		if b, err := json.Marshal(out); err == nil {
			data = datatypes.JSON(b)
		}
	}
	_ = jc.Steps.UpdateFields(dbctx.Context{Ctx: jc.Ctx}, row.ID, map[string]interface{}{
		"status":       types.StepStatusCompleted,
		"output_data":  data,
		"completed_at": now,
	})
	row.Status = types.StepStatusCompleted
	row.OutputData = data
	row.CompletedAt = &now
}

func (e *Engine) markStepFailed(jc *runtime.Context, row *types.JobStep, stepErr error) {
	now := time.Now()
	msg := ""
	if stepErr != nil {
		msg = stepErr.Error()
	}
	_ = jc.Steps.UpdateFields(dbctx.Context{Ctx: jc.Ctx}, row.ID, map[string]interface{}{
		"status":        types.StepStatusFailed,
		"error_message": msg,
		"completed_at":  now,
	})
	row.Status = types.StepStatusFailed
	row.ErrorMessage = msg
}

func (e *Engine) skipRemaining(jc *runtime.Context, rows []*types.JobStep) {
	for _, row := range rows {
		if row.Status != types.StepStatusPending {
			continue
		}
		_ = jc.Steps.UpdateFields(dbctx.Context{Ctx: jc.Ctx}, row.ID, map[string]interface{}{
			"status": types.StepStatusSkipped,
		})
		row.Status = types.StepStatusSkipped
	}
}

func (e *Engine) enqueueNext(jc *runtime.Context, next *types.ProcessingJob) {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}
	if next.Status == "" {
		next.Status = types.JobStatusQueued
	}
	if next.MaxAttempts == 0 {
		next.MaxAttempts = jc.Job.MaxAttempts
	}
	created, err := jc.Jobs.Create(dbctx.Context{Ctx: jc.Ctx}, []*types.ProcessingJob{next})
	if err != nil {
		e.log.Error("Failed to enqueue successor job",
			"job_id", jc.Job.ID, "next_type", next.JobType, "error", err)
		return
	}
	e.log.Info("Chained successor job",
		"job_id", jc.Job.ID, "next_job_id", created[0].ID, "next_type", next.JobType)
	if jc.Notify != nil {
		jc.Notify.JobQueued(next.LabID, created[0])
	}
}
