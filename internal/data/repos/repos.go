package repos

import (
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos/jobs"
	"github.com/labgraph/labgraph-backend/internal/data/repos/kg"
	"github.com/labgraph/labgraph-backend/internal/data/repos/papers"
	"github.com/labgraph/labgraph-backend/internal/data/repos/tenant"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type LabRepo = tenant.LabRepo
type AuditLogRepo = tenant.AuditLogRepo

type KgSchemaRepo = kg.KgSchemaRepo
type GraphConnectionRepo = kg.GraphConnectionRepo
type MigrationPlanRepo = kg.MigrationPlanRepo

type ProcessingJobRepo = jobs.ProcessingJobRepo
type JobStepRepo = jobs.JobStepRepo
type IdempotencyKeyRepo = jobs.IdempotencyKeyRepo
type TenantLockRepo = jobs.TenantLockRepo

type ResearchPaperRepo = papers.ResearchPaperRepo

type ListFilter = jobs.ListFilter

func NewLabRepo(db *gorm.DB, baseLog *logger.Logger) LabRepo { return tenant.NewLabRepo(db, baseLog) }
func NewAuditLogRepo(db *gorm.DB, baseLog *logger.Logger) AuditLogRepo {
	return tenant.NewAuditLogRepo(db, baseLog)
}

func NewKgSchemaRepo(db *gorm.DB, baseLog *logger.Logger) KgSchemaRepo {
	return kg.NewKgSchemaRepo(db, baseLog)
}
func NewGraphConnectionRepo(db *gorm.DB, baseLog *logger.Logger) GraphConnectionRepo {
	return kg.NewGraphConnectionRepo(db, baseLog)
}
func NewMigrationPlanRepo(db *gorm.DB, baseLog *logger.Logger) MigrationPlanRepo {
	return kg.NewMigrationPlanRepo(db, baseLog)
}

func NewProcessingJobRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingJobRepo {
	return jobs.NewProcessingJobRepo(db, baseLog)
}
func NewJobStepRepo(db *gorm.DB, baseLog *logger.Logger) JobStepRepo {
	return jobs.NewJobStepRepo(db, baseLog)
}
func NewIdempotencyKeyRepo(db *gorm.DB, baseLog *logger.Logger) IdempotencyKeyRepo {
	return jobs.NewIdempotencyKeyRepo(db, baseLog)
}
func NewTenantLockRepo(db *gorm.DB, baseLog *logger.Logger) TenantLockRepo {
	return jobs.NewTenantLockRepo(db, baseLog)
}

func NewResearchPaperRepo(db *gorm.DB, baseLog *logger.Logger) ResearchPaperRepo {
	return papers.NewResearchPaperRepo(db, baseLog)
}
