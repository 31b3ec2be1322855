package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MigrationPlan records one schema migration dry-run: the graph-store
// operations a commit would perform and a structural fingerprint of the
// graph at plan time. Commit consumes the latest unconsumed plan for its
// (schema, connection) pair and refuses to run when the live fingerprint no
// longer matches.
type MigrationPlan struct {
	ID                 uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID              uuid.UUID      `gorm:"type:uuid;not null;index" json:"lab_id"`
	SchemaID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"schema_id"`
	ConnectionID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"connection_id"`
	Operations         datatypes.JSON `gorm:"column:operations;type:jsonb;not null" json:"operations"`
	EstimatedNodes     int64          `gorm:"column:estimated_nodes;not null;default:0" json:"estimated_nodes"`
	EstimatedRelations int64          `gorm:"column:estimated_relations;not null;default:0" json:"estimated_relations"`
	GraphFingerprint   string         `gorm:"column:graph_fingerprint;not null" json:"graph_fingerprint"`
	ConsumedAt         *time.Time     `gorm:"column:consumed_at" json:"consumed_at,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (MigrationPlan) TableName() string { return "migration_plan" }
