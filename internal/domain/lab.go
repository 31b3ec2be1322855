package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lab is the tenant boundary: one graph database, one active schema
// version, one active connection. The Active* pointers are swapped by the
// activation protocol, never written ad hoc. RowVersion backs optimistic
// concurrency for caller-supplied expected-version tokens.
type Lab struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name               string         `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Description        string         `gorm:"column:description" json:"description,omitempty"`
	ActiveSchemaID     *uuid.UUID     `gorm:"type:uuid;column:active_schema_id;index" json:"active_schema_id,omitempty"`
	ActiveConnectionID *uuid.UUID     `gorm:"type:uuid;column:active_connection_id;index" json:"active_connection_id,omitempty"`
	RowVersion         int64          `gorm:"column:row_version;not null;default:1" json:"row_version"`
	CreatedAt          time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Lab) TableName() string { return "lab" }
