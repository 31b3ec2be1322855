package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job types, fixed enumeration. Ingestion types chain on completion:
// paper_crawl -> paper_process -> entity_extract -> vector_embed -> kg_upsert.
const (
	JobTypePaperCrawl    = "paper_crawl"
	JobTypePaperProcess  = "paper_process"
	JobTypeEntityExtract = "entity_extract"
	JobTypeVectorEmbed   = "vector_embed"
	JobTypeKgUpsert      = "kg_upsert"
	JobTypeSchemaMigrate = "schema_migrate"
	JobTypeIndexRebuild  = "index_rebuild"
	JobTypeDataExport    = "data_export"
)

// Job statuses. queued is initial; completed, failed, cancelled are
// terminal. running goes back to queued on a scheduled retry.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ProcessingJob is the durable record of one unit of orchestrated work.
// Status transitions are owned exclusively by the orchestrator; API callers
// only create rows (enqueue) or request cancel/retry through the job
// service.
type ProcessingJob struct {
	ID              uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"lab_id"`
	JobType         string         `gorm:"column:job_type;not null;index" json:"job_type"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Priority        int            `gorm:"column:priority;not null;default:0;index" json:"priority"`
	Attempts        int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	MaxAttempts     int            `gorm:"column:max_attempts;not null;default:3" json:"max_attempts"`
	WorkerID        string         `gorm:"column:worker_id" json:"worker_id,omitempty"`
	InputConfig     datatypes.JSON `gorm:"column:input_config;type:jsonb" json:"input_config"`
	OutputResult    datatypes.JSON `gorm:"column:output_result;type:jsonb" json:"output_result"`
	ErrorDetails    datatypes.JSON `gorm:"column:error_details;type:jsonb" json:"error_details"`
	ProgressPercent int            `gorm:"column:progress_percent;not null;default:0" json:"progress_percent"`
	ProcessedItems  int            `gorm:"column:processed_items;not null;default:0" json:"processed_items"`
	TotalItems      *int           `gorm:"column:total_items" json:"total_items,omitempty"`
	RetryAt         *time.Time     `gorm:"column:retry_at;index" json:"retry_at,omitempty"`
	CancelRequested bool           `gorm:"column:cancel_requested;not null;default:false" json:"cancel_requested"`
	RowVersion      int64          `gorm:"column:row_version;not null;default:1" json:"row_version"`
	HeartbeatAt     *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	StartedAt       *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ProcessingJob) TableName() string { return "processing_job" }

// JobTypeValid reports whether t is one of the fixed job types.
func JobTypeValid(t string) bool {
	switch t {
	case JobTypePaperCrawl, JobTypePaperProcess, JobTypeEntityExtract,
		JobTypeVectorEmbed, JobTypeKgUpsert, JobTypeSchemaMigrate,
		JobTypeIndexRebuild, JobTypeDataExport:
		return true
	}
	return false
}

// JobStatusTerminal reports whether s admits no further transitions.
func JobStatusTerminal(s string) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}
