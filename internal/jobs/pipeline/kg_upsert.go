package pipeline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/kg/schemadef"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/platform/neo4jdb"
)

const upsertBatchSize = 50

// KgUpsert pushes embedded papers and their extracted entities into the
// lab's graph database. Every write is a MERGE keyed by a stable property,
// so a retried batch lands on the same nodes. The worker refuses to claim
// this job type while a schema migration holds the lab's write window.
type KgUpsert struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewKgUpsert(deps *Deps, engine *orchestrator.Engine) *KgUpsert {
	return &KgUpsert{deps: deps, engine: engine}
}

func (h *KgUpsert) Type() string { return types.JobTypeKgUpsert }

func (h *KgUpsert) Run(jc *runtime.Context) error {
	return h.engine.Execute(jc, orchestrator.Pipeline{
		JobType: h.Type(),
		Steps: []orchestrator.Step{
			{Name: "upsert_graph", Timeout: 30 * time.Minute, Run: h.upsertGraph},
		},
	})
}

type extractedEntities struct {
	Entities []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"entities"`
	Relationships []struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Type   string `json:"type"`
	} `json:"relationships"`
}

func (h *KgUpsert) upsertGraph(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	_, def, err := h.deps.activeSchemaDef(jc)
	if err != nil {
		return nil, err
	}
	sess, _, err := h.deps.resolveGraph(jc)
	if err != nil {
		return nil, err
	}
	defer sess.Close(jc.Ctx)

	papers, err := h.deps.Papers.ListByLabAndStatus(dbc, jc.Job.LabID, types.PaperStatusEmbedded, 0)
	if err != nil {
		return nil, apperr.Retryable(err)
	}

	total := len(papers)
	done := 0
	nodeCount := 0
	relCount := 0
	for start := 0; start < len(papers); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(papers) {
			end = len(papers)
		}
		batch := papers[start:end]

		nodes, rels := buildGraphBatch(def, batch)
		if err := sess.UpsertEntities(jc.Ctx, nodes, rels); err != nil {
			return nil, apperr.Retryable(err)
		}
		nodeCount += len(nodes)
		relCount += len(rels)

		ids := make([]uuid.UUID, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		if err := h.deps.Papers.UpdateStatusByIDs(dbc, ids, types.PaperStatusUpserted); err != nil {
			return nil, apperr.Retryable(err)
		}
		done += len(batch)
		jc.Progress(done*90/maxInt(total, 1), done, &total)
	}

	return map[string]any{
		"paper_count": total,
		"node_count":  nodeCount,
		"rel_count":   relCount,
	}, nil
}

// buildGraphBatch translates paper rows into MERGE inputs, dropping any
// extracted entity or relationship whose type the active schema does not
// declare.
func buildGraphBatch(def *schemadef.Definition, batch []*types.ResearchPaper) ([]neo4jdb.EntityNode, []neo4jdb.EntityRel) {
	declared := make(map[string]bool, len(def.NodeTypes))
	for _, nt := range def.NodeTypes {
		declared[nt.Name] = true
	}
	declaredRel := make(map[string]schemadef.RelationshipType, len(def.RelationshipTypes))
	for _, rt := range def.RelationshipTypes {
		declaredRel[rt.Name] = rt
	}

	var nodes []neo4jdb.EntityNode
	var rels []neo4jdb.EntityRel
	for _, p := range batch {
		props := map[string]any{
			"title":    p.Title,
			"abstract": p.Abstract,
		}
		if len(p.Embedding) > 0 {
			var vec []float64
			if json.Unmarshal(p.Embedding, &vec) == nil {
				props["embedding"] = vec
			}
		}
		if declared["Paper"] {
			nodes = append(nodes, neo4jdb.EntityNode{
				Label:      "Paper",
				KeyProp:    "arxiv_id",
				KeyValue:   p.ArxivID,
				Properties: props,
			})
		}

		var extracted extractedEntities
		if len(p.Entities) > 0 {
			_ = json.Unmarshal(p.Entities, &extracted)
		}
		typeOf := make(map[string]string, len(extracted.Entities))
		for _, e := range extracted.Entities {
			if e.Name == "" || !declared[e.Type] || e.Type == "Paper" {
				continue
			}
			typeOf[e.Name] = e.Type
			nodes = append(nodes, neo4jdb.EntityNode{
				Label:      e.Type,
				KeyProp:    "name",
				KeyValue:   e.Name,
				Properties: map[string]any{"name": e.Name},
			})
			if rt, ok := declaredRel["MENTIONS"]; ok && rt.StartNode == "Paper" && rt.EndNode == e.Type && declared["Paper"] {
				rels = append(rels, neo4jdb.EntityRel{
					Type:         "MENTIONS",
					StartLabel:   "Paper",
					StartKeyProp: "arxiv_id",
					StartKey:     p.ArxivID,
					EndLabel:     e.Type,
					EndKeyProp:   "name",
					EndKey:       e.Name,
				})
			}
		}
		for _, r := range extracted.Relationships {
			rt, ok := declaredRel[r.Type]
			if !ok {
				continue
			}
			srcType, srcOK := typeOf[r.Source]
			dstType, dstOK := typeOf[r.Target]
			if !srcOK || !dstOK || srcType != rt.StartNode || dstType != rt.EndNode {
				continue
			}
			rels = append(rels, neo4jdb.EntityRel{
				Type:         r.Type,
				StartLabel:   srcType,
				StartKeyProp: "name",
				StartKey:     r.Source,
				EndLabel:     dstType,
				EndKeyProp:   "name",
				EndKey:       r.Target,
			})
		}
	}
	return nodes, rels
}
