package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaperStatusCrawled   = "crawled"
	PaperStatusProcessed = "processed"
	PaperStatusExtracted = "extracted"
	PaperStatusEmbedded  = "embedded"
	PaperStatusUpserted  = "upserted"
)

// ResearchPaper is one crawled paper. (lab_id, arxiv_id) is unique so that
// re-running a crawl step never duplicates records; the pipeline status
// advances as chained jobs process the paper.
type ResearchPaper struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	LabID     uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:uq_research_paper_lab_arxiv" json:"lab_id"`
	ArxivID   string         `gorm:"column:arxiv_id;not null;uniqueIndex:uq_research_paper_lab_arxiv" json:"arxiv_id"`
	Title     string         `gorm:"column:title;not null" json:"title"`
	Abstract  string         `gorm:"column:abstract;type:text" json:"abstract,omitempty"`
	Authors   datatypes.JSON `gorm:"column:authors;type:jsonb" json:"authors"`
	Status    string         `gorm:"column:status;not null;default:crawled;index" json:"status"`
	Entities  datatypes.JSON `gorm:"column:entities;type:jsonb" json:"entities"`
	Embedding datatypes.JSON `gorm:"column:embedding;type:jsonb" json:"embedding"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (ResearchPaper) TableName() string { return "research_paper" }
