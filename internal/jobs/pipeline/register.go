package pipeline

import (
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
)

// RegisterAll wires every job type's handler into the registry.
func RegisterAll(registry *runtime.Registry, deps *Deps, engine *orchestrator.Engine) error {
	handlers := []runtime.Handler{
		NewPaperCrawl(deps, engine),
		NewPaperProcess(deps, engine),
		NewEntityExtract(deps, engine),
		NewVectorEmbed(deps, engine),
		NewKgUpsert(deps, engine),
		NewSchemaMigrate(deps, engine),
		NewIndexRebuild(deps, engine),
		NewDataExport(deps, engine),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}
