package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GraphConnection holds the target-database identity and credential
// reference for a lab's graph. Passwords live in the secret store; only the
// opaque SecretID is persisted, and rotation replaces that id in place.
// At most one connection per lab is active.
type GraphConnection struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID        uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:uq_graph_connection_lab_name" json:"lab_id"`
	Name         string         `gorm:"column:name;not null;uniqueIndex:uq_graph_connection_lab_name" json:"name"`
	URI          string         `gorm:"column:uri;not null" json:"uri"`
	DatabaseName string         `gorm:"column:database_name;not null" json:"database_name"`
	Username     string         `gorm:"column:username;not null" json:"username"`
	SecretID     string         `gorm:"column:secret_id;not null" json:"secret_id"`
	IsActive     bool           `gorm:"column:is_active;not null;default:false;index" json:"is_active"`
	RowVersion   int64          `gorm:"column:row_version;not null;default:1" json:"row_version"`
	LastTestedAt *time.Time     `gorm:"column:last_tested_at" json:"last_tested_at,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (GraphConnection) TableName() string { return "graph_connection" }
