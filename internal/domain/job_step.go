package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StepStatusPending   = "pending"
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// JobStep is an ordered sub-unit of a ProcessingJob. StepOrder is unique per
// job and strictly positive; a step never starts before its predecessor
// completes.
type JobStep struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID        uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:uq_job_step_job_order" json:"job_id"`
	StepName     string         `gorm:"column:step_name;not null" json:"step_name"`
	StepOrder    int            `gorm:"column:step_order;not null;uniqueIndex:uq_job_step_job_order;check:step_order > 0" json:"step_order"`
	Status       string         `gorm:"column:status;not null;default:pending" json:"status"`
	InputData    datatypes.JSON `gorm:"column:input_data;type:jsonb" json:"input_data"`
	OutputData   datatypes.JSON `gorm:"column:output_data;type:jsonb" json:"output_data"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (JobStep) TableName() string { return "job_step" }
