package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/kg/schemadef"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

// EntityExtract pulls typed entities and relationships out of processed
// papers with a schema-constrained model call. The allowed entity types come
// from the lab's active knowledge graph schema, so extraction can never
// produce a label the graph will not accept.
type EntityExtract struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewEntityExtract(deps *Deps, engine *orchestrator.Engine) *EntityExtract {
	return &EntityExtract{deps: deps, engine: engine}
}

func (h *EntityExtract) Type() string { return types.JobTypeEntityExtract }

func (h *EntityExtract) Run(jc *runtime.Context) error {
	return h.engine.Execute(jc, orchestrator.Pipeline{
		JobType: h.Type(),
		Steps: []orchestrator.Step{
			{Name: "extract_entities", Timeout: 30 * time.Minute, Run: h.extractEntities},
		},
		Next: func(jc *runtime.Context, result map[string]any) *types.ProcessingJob {
			return chainJob(jc, types.JobTypeVectorEmbed, result)
		},
	})
}

func (h *EntityExtract) extractEntities(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	_, def, err := h.deps.activeSchemaDef(jc)
	if err != nil {
		return nil, err
	}

	papers, err := h.deps.Papers.ListByLabAndStatus(dbc, jc.Job.LabID, types.PaperStatusProcessed, 0)
	if err != nil {
		return nil, apperr.Retryable(err)
	}

	schema := extractionSchema(def)
	system := "You extract research entities from paper abstracts. " +
		"Only use the entity types and relationship types you are given."

	total := len(papers)
	for i, p := range papers {
		user := fmt.Sprintf("Title: %s\n\nAbstract: %s", p.Title, p.Abstract)
		out, err := h.deps.AI.GenerateJSON(jc.Ctx, system, user, "paper_entities", schema)
		if err != nil {
			return nil, err
		}
		raw, _ := json.Marshal(out)
		if err := h.deps.Papers.UpdateFields(dbc, p.ID, map[string]interface{}{
			"entities": datatypes.JSON(raw),
			"status":   types.PaperStatusExtracted,
		}); err != nil {
			return nil, apperr.Retryable(err)
		}
		jc.Progress((i+1)*90/maxInt(total, 1), i+1, &total)
	}
	return map[string]any{"extracted_count": total, "paper_ids": paperIDStrings(papers)}, nil
}

// extractionSchema builds the JSON schema for structured model output from
// the active graph schema's type vocabulary.
func extractionSchema(def *schemadef.Definition) map[string]any {
	entityTypes := make([]string, 0, len(def.NodeTypes))
	for _, nt := range def.NodeTypes {
		entityTypes = append(entityTypes, nt.Name)
	}
	relTypes := make([]string, 0, len(def.RelationshipTypes))
	for _, rt := range def.RelationshipTypes {
		relTypes = append(relTypes, rt.Name)
	}
	if len(relTypes) == 0 {
		relTypes = []string{"RELATED_TO"}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"entities", "relationships"},
		"properties": map[string]any{
			"entities": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "type"},
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
						"type": map[string]any{"type": "string", "enum": entityTypes},
					},
				},
			},
			"relationships": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"source", "target", "type"},
					"properties": map[string]any{
						"source": map[string]any{"type": "string"},
						"target": map[string]any{"type": "string"},
						"type":   map[string]any{"type": "string", "enum": relTypes},
					},
				},
			},
		},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
