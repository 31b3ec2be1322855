package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyKey maps a caller-supplied key to the resource its first use
// produced, scoped per lab and operation. A retried request with the same
// key observes the original resource; the RequestHash detects key reuse
// with a different payload.
type IdempotencyKey struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uq_idempotency_lab_op_key" json:"lab_id"`
	Operation   string    `gorm:"column:operation;not null;uniqueIndex:uq_idempotency_lab_op_key" json:"operation"`
	Key         string    `gorm:"column:key;not null;uniqueIndex:uq_idempotency_lab_op_key" json:"key"`
	RequestHash string    `gorm:"column:request_hash;not null" json:"request_hash"`
	ResourceID  uuid.UUID `gorm:"type:uuid;column:resource_id;not null" json:"resource_id"`
	CreatedAt   time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (IdempotencyKey) TableName() string { return "idempotency_key" }
