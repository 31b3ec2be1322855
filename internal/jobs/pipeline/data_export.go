package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
)

// DataExport dumps the lab's full graph to a JSON file. The export
// directory comes from job input or EXPORT_DIR, defaulting to the system
// temp dir.
type DataExport struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewDataExport(deps *Deps, engine *orchestrator.Engine) *DataExport {
	return &DataExport{deps: deps, engine: engine}
}

func (h *DataExport) Type() string { return types.JobTypeDataExport }

func (h *DataExport) Run(jc *runtime.Context) error {
	return h.engine.Execute(jc, orchestrator.Pipeline{
		JobType: h.Type(),
		Steps: []orchestrator.Step{
			{Name: "export_graph", Timeout: 60 * time.Minute, Run: h.exportGraph},
		},
	})
}

func (h *DataExport) exportGraph(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	sess, conn, err := h.deps.resolveGraph(jc)
	if err != nil {
		return nil, err
	}
	defer sess.Close(jc.Ctx)

	batchSize := jc.InputInt("batch_size", 1000)
	graph, err := sess.Export(jc.Ctx, batchSize)
	if err != nil {
		return nil, apperr.Retryable(err)
	}

	dir := jc.InputString("export_dir")
	if dir == "" {
		dir = os.Getenv("EXPORT_DIR")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Fatalf("create export dir: %v", err)
	}

	name := fmt.Sprintf("labgraph-export-%s-%s.json", jc.Job.LabID, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return nil, apperr.Fatalf("create export file: %v", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(map[string]any{
		"lab_id":        jc.Job.LabID,
		"connection":    conn.Name,
		"database":      conn.DatabaseName,
		"exported_at":   time.Now().UTC(),
		"nodes":         graph.Nodes,
		"relationships": graph.Relationships,
	}); err != nil {
		return nil, apperr.Fatalf("write export: %v", err)
	}

	nodeCount := len(graph.Nodes)
	relCount := len(graph.Relationships)
	jc.Progress(95, nodeCount+relCount, nil)
	return map[string]any{
		"path":       path,
		"node_count": nodeCount,
		"rel_count":  relCount,
	}, nil
}
