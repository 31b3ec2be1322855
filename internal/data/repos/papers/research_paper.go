package papers

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

type ResearchPaperRepo interface {
	// UpsertByArxivID inserts papers, updating title and abstract for any
	// arXiv ID the lab has already crawled. Re-running a crawl is a no-op
	// beyond refreshing metadata.
	UpsertByArxivID(dbc dbctx.Context, papers []*types.ResearchPaper) error
	ListByLabAndStatus(dbc dbctx.Context, labID uuid.UUID, status string, limit int) ([]*types.ResearchPaper, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ResearchPaper, error)
	UpdateStatusByIDs(dbc dbctx.Context, ids []uuid.UUID, status string) error
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	CountByLab(dbc dbctx.Context, labID uuid.UUID) (int64, error)
}

type researchPaperRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResearchPaperRepo(db *gorm.DB, baseLog *logger.Logger) ResearchPaperRepo {
	return &researchPaperRepo{
		db:  db,
		log: baseLog.With("repo", "ResearchPaperRepo"),
	}
}

func (r *researchPaperRepo) UpsertByArxivID(dbc dbctx.Context, papers []*types.ResearchPaper) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(papers) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lab_id"}, {Name: "arxiv_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "abstract", "authors", "updated_at"}),
	}).Create(&papers).Error
}

func (r *researchPaperRepo) ListByLabAndStatus(dbc dbctx.Context, labID uuid.UUID, status string, limit int) ([]*types.ResearchPaper, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if labID == uuid.Nil {
		return nil, nil
	}
	if limit < 1 || limit > 1000 {
		limit = 200
	}
	q := transaction.WithContext(dbc.Ctx).Where("lab_id = ?", labID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*types.ResearchPaper
	err := q.Order("created_at ASC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *researchPaperRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.ResearchPaper, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return []*types.ResearchPaper{}, nil
	}
	var out []*types.ResearchPaper
	err := transaction.WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *researchPaperRepo) UpdateStatusByIDs(dbc dbctx.Context, ids []uuid.UUID, status string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.ResearchPaper{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *researchPaperRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.ResearchPaper{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *researchPaperRepo) CountByLab(dbc dbctx.Context, labID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.ResearchPaper{}).
		Where("lab_id = ?", labID).
		Count(&count).Error
	return count, err
}
