package pipeline

import (
	"strings"
	"time"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

// PaperProcess normalizes crawled paper text so downstream extraction and
// embedding see clean input.
type PaperProcess struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewPaperProcess(deps *Deps, engine *orchestrator.Engine) *PaperProcess {
	return &PaperProcess{deps: deps, engine: engine}
}

func (h *PaperProcess) Type() string { return types.JobTypePaperProcess }

func (h *PaperProcess) Run(jc *runtime.Context) error {
	return h.engine.Execute(jc, orchestrator.Pipeline{
		JobType: h.Type(),
		Steps: []orchestrator.Step{
			{Name: "normalize_text", Timeout: 10 * time.Minute, Run: h.normalizeText},
		},
		Next: func(jc *runtime.Context, result map[string]any) *types.ProcessingJob {
			return chainJob(jc, types.JobTypeEntityExtract, result)
		},
	})
}

func (h *PaperProcess) normalizeText(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}
	papers, err := h.deps.Papers.ListByLabAndStatus(dbc, jc.Job.LabID, types.PaperStatusCrawled, 0)
	if err != nil {
		return nil, apperr.Retryable(err)
	}

	total := len(papers)
	for i, p := range papers {
		updates := map[string]interface{}{
			"title":    normalizeWhitespace(p.Title),
			"abstract": normalizeWhitespace(p.Abstract),
			"status":   types.PaperStatusProcessed,
		}
		if err := h.deps.Papers.UpdateFields(dbc, p.ID, updates); err != nil {
			return nil, apperr.Retryable(err)
		}
		if (i+1)%25 == 0 {
			jc.Progress((i+1)*90/maxInt(total, 1), i+1, &total)
		}
	}
	return map[string]any{"processed_count": total, "paper_ids": paperIDStrings(papers)}, nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
