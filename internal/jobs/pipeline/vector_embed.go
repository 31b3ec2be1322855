package pipeline

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

const embedBatchSize = 16

// VectorEmbed computes abstract embeddings in batches and stores them on the
// paper rows for the upsert stage to push into the graph's vector indexes.
type VectorEmbed struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewVectorEmbed(deps *Deps, engine *orchestrator.Engine) *VectorEmbed {
	return &VectorEmbed{deps: deps, engine: engine}
}

func (h *VectorEmbed) Type() string { return types.JobTypeVectorEmbed }

func (h *VectorEmbed) Run(jc *runtime.Context) error {
	return h.engine.Execute(jc, orchestrator.Pipeline{
		JobType: h.Type(),
		Steps: []orchestrator.Step{
			{Name: "embed_abstracts", Timeout: 30 * time.Minute, Run: h.embedAbstracts},
		},
		Next: func(jc *runtime.Context, result map[string]any) *types.ProcessingJob {
			return chainJob(jc, types.JobTypeKgUpsert, result)
		},
	})
}

func (h *VectorEmbed) embedAbstracts(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}
	papers, err := h.deps.Papers.ListByLabAndStatus(dbc, jc.Job.LabID, types.PaperStatusExtracted, 0)
	if err != nil {
		return nil, apperr.Retryable(err)
	}

	total := len(papers)
	done := 0
	for start := 0; start < len(papers); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(papers) {
			end = len(papers)
		}
		batch := papers[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Title + "\n\n" + p.Abstract
		}
		vectors, err := h.deps.AI.Embed(jc.Ctx, texts)
		if err != nil {
			return nil, err
		}
		for i, p := range batch {
			raw, _ := json.Marshal(vectors[i])
			if err := h.deps.Papers.UpdateFields(dbc, p.ID, map[string]interface{}{
				"embedding": datatypes.JSON(raw),
				"status":    types.PaperStatusEmbedded,
			}); err != nil {
				return nil, apperr.Retryable(err)
			}
			done++
		}
		jc.Progress(done*90/maxInt(total, 1), done, &total)
	}
	return map[string]any{"embedded_count": total, "paper_ids": paperIDStrings(papers)}, nil
}
