package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

// In-memory repo doubles so engine behavior can be exercised without
// postgres. They honor the same status guards the real repos enforce.

func dbc() dbctx.Context { return dbctx.Context{} }

func listFilter() repos.ListFilter { return repos.ListFilter{} }

type memJobRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.ProcessingJob
}

func newMemJobRepo(jobs ...*types.ProcessingJob) *memJobRepo {
	r := &memJobRepo{rows: make(map[uuid.UUID]*types.ProcessingJob)}
	for _, j := range jobs {
		cp := *j
		r.rows[j.ID] = &cp
	}
	return r
}

func (r *memJobRepo) get(id uuid.UUID) *types.ProcessingJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	cp := *row
	return &cp
}

func (r *memJobRepo) set(id uuid.UUID, mutate func(j *types.ProcessingJob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		mutate(row)
	}
}

func (r *memJobRepo) Create(dbc dbctx.Context, jobs []*types.ProcessingJob) ([]*types.ProcessingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		cp := *j
		r.rows[j.ID] = &cp
	}
	return jobs, nil
}

func (r *memJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ProcessingJob, error) {
	return r.get(id), nil
}

func (r *memJobRepo) ListByLab(dbc dbctx.Context, labID uuid.UUID, f repos.ListFilter) ([]*types.ProcessingJob, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ProcessingJob
	for _, row := range r.rows {
		if row.LabID == labID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, int64(len(out)), nil
}

func (r *memJobRepo) ClaimNextRunnable(dbc dbctx.Context, workerID string, claimableTypes []string, staleRunning time.Duration) (*types.ProcessingJob, error) {
	return nil, nil
}

func (r *memJobRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		applyJobUpdates(row, updates)
	}
	return nil
}

func (r *memJobRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	for _, s := range disallowed {
		if row.Status == s {
			return false, nil
		}
	}
	applyJobUpdates(row, updates)
	return true, nil
}

func (r *memJobRepo) UpdateFieldsIfStatus(dbc dbctx.Context, id uuid.UUID, required []string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	match := false
	for _, s := range required {
		if row.Status == s {
			match = true
			break
		}
	}
	if !match {
		return false, nil
	}
	applyJobUpdates(row, updates)
	return true, nil
}

func (r *memJobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error { return nil }

func (r *memJobRepo) HasActive(dbc dbctx.Context, labID uuid.UUID, jobTypes []string, statuses []string) (bool, error) {
	return false, nil
}

func applyJobUpdates(row *types.ProcessingJob, updates map[string]interface{}) {
	for key, val := range updates {
		switch key {
		case "status":
			row.Status = val.(string)
		case "attempts":
			// The real repo uses a SQL expression; the double just increments.
			if n, ok := val.(int); ok {
				row.Attempts = n
			} else {
				row.Attempts++
			}
		case "retry_at":
			if val == nil {
				row.RetryAt = nil
			} else if t, ok := val.(time.Time); ok {
				row.RetryAt = &t
			}
		case "error_details":
			if val == nil {
				row.ErrorDetails = nil
			} else if b, ok := val.(datatypes.JSON); ok {
				row.ErrorDetails = b
			}
		case "output_result":
			if b, ok := val.(datatypes.JSON); ok {
				row.OutputResult = b
			}
		case "worker_id":
			row.WorkerID = val.(string)
		case "completed_at":
			if t, ok := val.(time.Time); ok {
				row.CompletedAt = &t
			}
		case "heartbeat_at":
			if t, ok := val.(time.Time); ok {
				row.HeartbeatAt = &t
			}
		case "progress_percent":
			row.ProgressPercent = val.(int)
		case "processed_items":
			row.ProcessedItems = val.(int)
		case "total_items":
			if n, ok := val.(int); ok {
				row.TotalItems = &n
			}
		case "cancel_requested":
			row.CancelRequested = val.(bool)
		case "updated_at":
			if t, ok := val.(time.Time); ok {
				row.UpdatedAt = t
			}
		}
	}
}

type memStepRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.JobStep
}

func newMemStepRepo() *memStepRepo {
	return &memStepRepo{rows: make(map[uuid.UUID]*types.JobStep)}
}

func (r *memStepRepo) CreateBatch(dbc dbctx.Context, steps []*types.JobStep) ([]*types.JobStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range steps {
		cp := *s
		r.rows[s.ID] = &cp
	}
	return steps, nil
}

func (r *memStepRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*types.JobStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.JobStep
	for _, row := range r.rows {
		if row.JobID == jobID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (r *memStepRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	for key, val := range updates {
		switch key {
		case "status":
			row.Status = val.(string)
		case "output_data":
			if b, ok := val.(datatypes.JSON); ok {
				row.OutputData = b
			}
		case "error_message":
			row.ErrorMessage = val.(string)
		case "started_at":
			if t, ok := val.(time.Time); ok {
				row.StartedAt = &t
			}
		case "completed_at":
			if t, ok := val.(time.Time); ok {
				row.CompletedAt = &t
			}
		}
	}
	return nil
}

func (r *memStepRepo) ResetForRetry(dbc dbctx.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.JobID == jobID && row.Status != types.StepStatusCompleted {
			row.Status = types.StepStatusPending
			row.ErrorMessage = ""
			row.StartedAt = nil
			row.CompletedAt = nil
		}
	}
	return nil
}

type notifyEvent struct {
	Kind  string
	JobID uuid.UUID
}

type memNotifier struct {
	mu     sync.Mutex
	events []notifyEvent
}

func (n *memNotifier) record(kind string, jobID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifyEvent{Kind: kind, JobID: jobID})
}

func (n *memNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Kind
	}
	return out
}

func (n *memNotifier) JobQueued(labID uuid.UUID, job *types.ProcessingJob) {
	n.record("queued", job.ID)
}

func (n *memNotifier) JobProgress(labID uuid.UUID, job *types.ProcessingJob, pct int, processed int, total *int) {
	n.record("progress", job.ID)
}

func (n *memNotifier) JobFailed(labID uuid.UUID, job *types.ProcessingJob, errorMessage string) {
	n.record("failed", job.ID)
}

func (n *memNotifier) JobCompleted(labID uuid.UUID, job *types.ProcessingJob) {
	n.record("completed", job.ID)
}

func (n *memNotifier) JobCancelled(labID uuid.UUID, job *types.ProcessingJob) {
	n.record("cancelled", job.ID)
}

func (n *memNotifier) SchemaActivated(labID uuid.UUID, schemaID uuid.UUID, version int) {
	n.record("schema_activated", schemaID)
}
