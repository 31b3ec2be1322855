package pipeline

import (
	"time"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
)

// IndexRebuild drops and recreates every vector index the active schema
// declares. Runs under the lab's graph_admin lock, held by the worker for
// the whole job.
type IndexRebuild struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewIndexRebuild(deps *Deps, engine *orchestrator.Engine) *IndexRebuild {
	return &IndexRebuild{deps: deps, engine: engine}
}

func (h *IndexRebuild) Type() string { return types.JobTypeIndexRebuild }

func (h *IndexRebuild) Run(jc *runtime.Context) error {
	return h.engine.Execute(jc, orchestrator.Pipeline{
		JobType: h.Type(),
		Steps: []orchestrator.Step{
			{Name: "rebuild_indexes", Timeout: 60 * time.Minute, Run: h.rebuildIndexes},
		},
	})
}

func (h *IndexRebuild) rebuildIndexes(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	_, def, err := h.deps.activeSchemaDef(jc)
	if err != nil {
		return nil, err
	}
	sess, _, err := h.deps.resolveGraph(jc)
	if err != nil {
		return nil, err
	}
	defer sess.Close(jc.Ctx)

	total := len(def.VectorIndexes)
	for i, idx := range def.VectorIndexes {
		if err := sess.DropVectorIndex(jc.Ctx, idx.Name); err != nil {
			return nil, apperr.Retryable(err)
		}
		if err := sess.CreateVectorIndex(jc.Ctx, idx); err != nil {
			return nil, apperr.Retryable(err)
		}
		jc.Progress((i+1)*90/maxInt(total, 1), i+1, &total)
	}
	return map[string]any{"rebuilt_count": total}, nil
}
