package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// KgSchema is an immutable, per-lab numbered definition of the graph shape.
// Versions start at 1 and increase monotonically; evolution always creates a
// new row. At most one row per lab carries is_active = true.
type KgSchema struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID       uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:uq_kg_schema_lab_version" json:"lab_id"`
	Version     int            `gorm:"column:version;not null;uniqueIndex:uq_kg_schema_lab_version;check:version > 0" json:"version"`
	Definition  datatypes.JSON `gorm:"column:definition;type:jsonb;not null" json:"definition"`
	Description string         `gorm:"column:description" json:"description,omitempty"`
	IsActive    bool           `gorm:"column:is_active;not null;default:false;index" json:"is_active"`
	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (KgSchema) TableName() string { return "kg_schema" }
