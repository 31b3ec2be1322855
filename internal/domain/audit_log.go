package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AuditLog is an append-only trail of control-plane actions (activations,
// secret rotations, migration commits).
type AuditLog struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"lab_id"`
	Action     string         `gorm:"column:action;not null;index" json:"action"`
	EntityType string         `gorm:"column:entity_type;not null" json:"entity_type"`
	EntityID   *uuid.UUID     `gorm:"type:uuid;column:entity_id" json:"entity_id,omitempty"`
	Detail     datatypes.JSON `gorm:"column:detail;type:jsonb" json:"detail"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_log" }
