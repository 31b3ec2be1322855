package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/services"
)

/*
The execution contract between the job system and all business code.
runtime.Context is a capability-scoped execution handle for a single claimed
processing_job. It wraps:
	- The database handle,
	- The mutable processing_job row,
	- The notification side-effects,
	- And the only sanctioned ways to report progress or terminate execution.
Pipelines never touch processing_job rows directly. They go through this
object, so the cancelled guard and the state machine stay in one place.
*/

type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *types.ProcessingJob
	Jobs   repos.ProcessingJobRepo
	Steps  repos.JobStepRepo
	Notify services.JobNotifier
	input  map[string]any
}

/*
NewContext constructs a runtime.Context for a claimed job execution.
It eagerly decodes InputConfig JSON so handlers can access inputs via
Input()/InputUUID(). A decode failure is non-fatal here; handlers validate
the fields they require.
*/
func NewContext(ctx context.Context, db *gorm.DB, job *types.ProcessingJob, jobsRepo repos.ProcessingJobRepo, stepsRepo repos.JobStepRepo, notify services.JobNotifier) *Context {
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Jobs:   jobsRepo,
		Steps:  stepsRepo,
		Notify: notify,
	}
	_ = c.decodeInput()
	return c
}

func (c *Context) decodeInput() error {
	if c.Job == nil {
		return nil
	}
	if len(c.Job.InputConfig) == 0 {
		c.input = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.InputConfig, &m); err != nil {
		c.input = map[string]any{}
		return err
	}
	c.input = m
	return nil
}

// Input returns the decoded input_config map. Never nil.
func (c *Context) Input() map[string]any {
	if c.input == nil {
		c.input = map[string]any{}
	}
	return c.input
}

/*
InputUUID reads an input field by key and attempts to parse it as a UUID.
Returns (uuid, true) only when the key exists and parses cleanly. Keeps
UUID validation out of pipelines and makes input parsing uniform.
*/
func (c *Context) InputUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Input()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) InputString(key string) string {
	v, ok := c.Input()[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (c *Context) InputInt(key string, def int) int {
	v, ok := c.Input()[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return def
}

/*
Progress publishes a non-terminal progress update.
What it does:
	- Persists progress_percent/processed_items/total_items plus heartbeat,
	  guarded so cancelled jobs are not overwritten.
	- Updates the in-memory c.Job fields to match.
	- Emits a notifier event so clients see movement promptly.
*/
func (c *Context) Progress(pct int, processed int, total *int) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	now := time.Now()

	if c.Jobs != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		updates := map[string]interface{}{
			"progress_percent": pct,
			"processed_items":  processed,
			"heartbeat_at":     now,
			"updated_at":       now,
		}
		if total != nil {
			updates["total_items"] = *total
		}
		ok, _ := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID,
			[]string{types.JobStatusCancelled}, updates)
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.ProgressPercent = pct
		c.Job.ProcessedItems = processed
		if total != nil {
			c.Job.TotalItems = total
		}
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobProgress(c.Job.LabID, c.Job, pct, processed, total)
	}
}

/*
Fail marks this job as terminally failed.
What it does:
	- Sets status=failed, completed_at=now, serializes the error into
	  error_details, clears worker_id so the row is visibly unowned.
	- Updates the in-memory job object and emits a failed notification.
Guarding:
	- UpdateFieldsUnlessStatus(..., [cancelled]) so a cancelled job is not
	  overwritten. If the update is rejected, exits without notifying.
*/
func (c *Context) Fail(cause error) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	details, _ := json.Marshal(map[string]any{
		"message":  msg,
		"attempts": c.jobAttempts(),
	})

	if c.Jobs != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID,
			[]string{types.JobStatusCancelled}, map[string]interface{}{
				"status":        types.JobStatusFailed,
				"error_details": datatypes.JSON(details),
				"worker_id":     "",
				"completed_at":  now,
				"updated_at":    now,
			})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = types.JobStatusFailed
		c.Job.ErrorDetails = datatypes.JSON(details)
		c.Job.WorkerID = ""
		c.Job.CompletedAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobFailed(c.Job.LabID, c.Job, msg)
	}
}

/*
Complete marks this job as terminally completed and persists a result.
Sets status=completed, progress_percent=100, completed_at, stores the
serialized result in output_result and clears error_details. Guarded the
same way as Fail.
*/
func (c *Context) Complete(result any) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}

	if c.Jobs != nil && c.Job != nil && c.Job.ID != uuid.Nil {
		ok, _ := c.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Job.ID,
			[]string{types.JobStatusCancelled}, map[string]interface{}{
				"status":           types.JobStatusCompleted,
				"progress_percent": 100,
				"output_result":    res,
				"error_details":    nil,
				"worker_id":        "",
				"completed_at":     now,
				"heartbeat_at":     now,
				"updated_at":       now,
			})
		if !ok {
			return
		}
	}

	if c.Job != nil {
		c.Job.Status = types.JobStatusCompleted
		c.Job.ProgressPercent = 100
		c.Job.OutputResult = res
		c.Job.ErrorDetails = nil
		c.Job.WorkerID = ""
		c.Job.CompletedAt = &now
		c.Job.HeartbeatAt = &now
		c.Job.UpdatedAt = now
	}

	if c.Notify != nil && c.Job != nil {
		c.Notify.JobCompleted(c.Job.LabID, c.Job)
	}
}

/*
RequeueAfter schedules a retry: increments attempts, records the cause, and
puts the job back to queued with retry_at set. Only a running job can take
this transition; a concurrent cancel wins and the requeue becomes a no-op.
The attempt counter moves here, on the retryable failure, not at claim time,
so attempts always equals the number of failed runs.
*/
func (c *Context) RequeueAfter(delay time.Duration, cause error) {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	retryAt := now.Add(delay)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	details, _ := json.Marshal(map[string]any{
		"message":  msg,
		"attempts": c.jobAttempts() + 1,
		"retry_at": retryAt,
	})

	if c.Jobs != nil {
		ok, _ := c.Jobs.UpdateFieldsIfStatus(dbctx.Context{Ctx: ctx}, c.Job.ID,
			[]string{types.JobStatusRunning}, map[string]interface{}{
				"status":        types.JobStatusQueued,
				"attempts":      gorm.Expr("attempts + 1"),
				"retry_at":      retryAt,
				"error_details": datatypes.JSON(details),
				"worker_id":     "",
				"updated_at":    now,
			})
		if !ok {
			return
		}
	}

	c.Job.Status = types.JobStatusQueued
	c.Job.Attempts++
	c.Job.RetryAt = &retryAt
	c.Job.ErrorDetails = datatypes.JSON(details)
	c.Job.WorkerID = ""
	c.Job.UpdatedAt = now
}

/*
RequeueOrFail is the retry policy boundary: when another attempt remains it
requeues with the given delay, otherwise the job fails with the final cause.
*/
func (c *Context) RequeueOrFail(delay time.Duration, cause error) {
	if c == nil || c.Job == nil {
		return
	}
	if c.Job.Attempts+1 >= c.Job.MaxAttempts {
		c.Fail(cause)
		return
	}
	c.RequeueAfter(delay, cause)
}

/*
CancelRequested re-reads the job row and reports whether a cancel is
pending or already applied. The orchestrator polls this between steps;
within a step, work keeps running until the step boundary.
*/
func (c *Context) CancelRequested() bool {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil || c.Jobs == nil {
		return false
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	fresh, err := c.Jobs.GetByID(dbctx.Context{Ctx: ctx}, c.Job.ID)
	if err != nil || fresh == nil {
		return false
	}
	c.Job.CancelRequested = fresh.CancelRequested
	return fresh.CancelRequested || fresh.Status == types.JobStatusCancelled
}

/*
MarkCancelled finalizes a requested cancel: queued or running to cancelled,
with completed_at stamped. Terminal states are left alone.
*/
func (c *Context) MarkCancelled() {
	if c == nil || c.Job == nil || c.Job.ID == uuid.Nil || c.Jobs == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	ok, _ := c.Jobs.UpdateFieldsIfStatus(dbctx.Context{Ctx: ctx}, c.Job.ID,
		[]string{types.JobStatusQueued, types.JobStatusRunning}, map[string]interface{}{
			"status":       types.JobStatusCancelled,
			"worker_id":    "",
			"completed_at": now,
			"updated_at":   now,
		})
	if !ok {
		return
	}
	c.Job.Status = types.JobStatusCancelled
	c.Job.WorkerID = ""
	c.Job.CompletedAt = &now
	c.Job.UpdatedAt = now

	if c.Notify != nil {
		c.Notify.JobCancelled(c.Job.LabID, c.Job)
	}
}

func (c *Context) jobAttempts() int {
	if c.Job == nil {
		return 0
	}
	return c.Job.Attempts
}
