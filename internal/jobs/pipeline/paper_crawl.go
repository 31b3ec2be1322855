package pipeline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

// PaperCrawl is the first ingestion stage: query arXiv and upsert the
// results as crawled research_paper rows. Re-running only refreshes
// metadata because papers are keyed by (lab, arxiv_id).
type PaperCrawl struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewPaperCrawl(deps *Deps, engine *orchestrator.Engine) *PaperCrawl {
	return &PaperCrawl{deps: deps, engine: engine}
}

func (h *PaperCrawl) Type() string { return types.JobTypePaperCrawl }

func (h *PaperCrawl) Run(jc *runtime.Context) error {
	return h.engine.Execute(jc, orchestrator.Pipeline{
		JobType: h.Type(),
		Steps: []orchestrator.Step{
			{Name: "fetch_papers", Timeout: 5 * time.Minute, Run: h.fetchPapers},
		},
		Next: func(jc *runtime.Context, result map[string]any) *types.ProcessingJob {
			return chainJob(jc, types.JobTypePaperProcess, result)
		},
	})
}

func (h *PaperCrawl) fetchPapers(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	query := jc.InputString("search_query")
	if query == "" {
		return nil, apperr.Validation("paper_crawl requires search_query")
	}
	maxResults := jc.InputInt("max_results", 100)

	results, err := h.deps.Arxiv.Search(jc.Ctx, query, maxResults)
	if err != nil {
		return nil, err
	}

	rows := make([]*types.ResearchPaper, 0, len(results))
	arxivIDs := make([]string, 0, len(results))
	for _, p := range results {
		if p.ArxivID == "" {
			continue
		}
		arxivIDs = append(arxivIDs, p.ArxivID)
		authors, _ := json.Marshal(p.Authors)
		rows = append(rows, &types.ResearchPaper{
			ID:       uuid.New(),
			LabID:    jc.Job.LabID,
			ArxivID:  p.ArxivID,
			Title:    p.Title,
			Abstract: p.Abstract,
			Authors:  datatypes.JSON(authors),
			Status:   types.PaperStatusCrawled,
		})
	}
	if err := h.deps.Papers.UpsertByArxivID(dbctx.Context{Ctx: jc.Ctx}, rows); err != nil {
		return nil, apperr.Retryable(err)
	}

	total := len(rows)
	jc.Progress(90, total, &total)
	return map[string]any{"paper_count": total, "query": query, "arxiv_ids": arxivIDs}, nil
}
