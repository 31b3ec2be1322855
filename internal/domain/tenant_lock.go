package domain

import (
	"time"

	"github.com/google/uuid"
)

// Lock scopes. graph_admin serializes schema_migrate/index_rebuild per lab;
// graph_write is held only while a migration commit is in flight and blocks
// kg_upsert claims for the same lab.
const (
	LockScopeGraphAdmin = "graph_admin"
	LockScopeGraphWrite = "graph_write"
)

// TenantLock is a per-lab advisory lock expressed as a durable row, so the
// isolation protocol works across worker processes. Expiry guards against a
// crashed holder pinning the scope forever.
type TenantLock struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_tenant_lock_lab_scope" json:"lab_id"`
	Scope       string    `gorm:"column:scope;not null;uniqueIndex:uq_tenant_lock_lab_scope" json:"scope"`
	HolderJobID uuid.UUID `gorm:"type:uuid;column:holder_job_id;not null" json:"holder_job_id"`
	ExpiresAt   time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (TenantLock) TableName() string { return "tenant_lock" }
