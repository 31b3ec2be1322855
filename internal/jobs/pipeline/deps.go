package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/clients/openai"
	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/kg/schemadef"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/platform/arxiv"
	"github.com/labgraph/labgraph-backend/internal/platform/neo4jdb"
	"github.com/labgraph/labgraph-backend/internal/platform/secrets"
)

// GraphSession is the slice of the neo4j client the pipelines use. Tests
// substitute an in-memory implementation.
type GraphSession interface {
	ApplyOperations(ctx context.Context, ops []schemadef.Operation) error
	Fingerprint(ctx context.Context) (string, error)
	Counts(ctx context.Context) (int64, int64, error)
	UpsertEntities(ctx context.Context, nodes []neo4jdb.EntityNode, rels []neo4jdb.EntityRel) error
	DropVectorIndex(ctx context.Context, name string) error
	CreateVectorIndex(ctx context.Context, idx schemadef.VectorIndex) error
	Export(ctx context.Context, batchSize int) (*neo4jdb.ExportedGraph, error)
	Close(ctx context.Context) error
}

// GraphDialer opens a session against one lab's graph database.
type GraphDialer func(ctx context.Context, p neo4jdb.ConnectParams) (GraphSession, error)

// NewGraphDialer adapts the real neo4j client to the GraphSession interface.
func NewGraphDialer(baseLog *logger.Logger) GraphDialer {
	return func(ctx context.Context, p neo4jdb.ConnectParams) (GraphSession, error) {
		return neo4jdb.Connect(ctx, p, baseLog)
	}
}

// Deps bundles everything the job handlers share. One instance is built at
// startup and every handler borrows from it.
type Deps struct {
	Log     *logger.Logger
	DB      *gorm.DB
	Labs    repos.LabRepo
	Schemas repos.KgSchemaRepo
	Conns   repos.GraphConnectionRepo
	Plans   repos.MigrationPlanRepo
	Papers  repos.ResearchPaperRepo
	Locks   repos.TenantLockRepo
	Audit   repos.AuditLogRepo
	Arxiv   *arxiv.Client
	AI      openai.Client
	Secrets secrets.Store
	Graphs  GraphDialer
}

// resolveGraph loads the lab's active connection, resolves its password from
// the secret store, and dials the graph database. An explicit connection_id
// in the job input overrides the active pointer.
func (d *Deps) resolveGraph(jc *runtime.Context) (GraphSession, *types.GraphConnection, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	var conn *types.GraphConnection
	var err error
	if connID, ok := jc.InputUUID("connection_id"); ok {
		conn, err = d.Conns.GetByID(dbc, connID)
	} else {
		conn, err = d.Conns.GetActiveByLab(dbc, jc.Job.LabID)
	}
	if err != nil {
		return nil, nil, apperr.Retryable(err)
	}
	if conn == nil {
		return nil, nil, apperr.Fatalf("lab %s has no usable graph connection", jc.Job.LabID)
	}

	password, err := d.Secrets.Get(jc.Ctx, conn.SecretID)
	if err != nil {
		return nil, nil, apperr.Retryable(err)
	}

	sess, err := d.Graphs(jc.Ctx, neo4jdb.ConnectParams{
		URI:      conn.URI,
		Username: conn.Username,
		Password: password,
		Database: conn.DatabaseName,
	})
	if err != nil {
		return nil, nil, apperr.Retryable(err)
	}
	return sess, conn, nil
}

// activeSchemaDef returns the lab's active schema row and its parsed
// definition. A schema_id in the job input overrides the active pointer.
func (d *Deps) activeSchemaDef(jc *runtime.Context) (*types.KgSchema, *schemadef.Definition, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	var row *types.KgSchema
	var err error
	if schemaID, ok := jc.InputUUID("schema_id"); ok {
		row, err = d.Schemas.GetByID(dbc, schemaID)
	} else {
		row, err = d.Schemas.GetActiveByLab(dbc, jc.Job.LabID)
	}
	if err != nil {
		return nil, nil, apperr.Retryable(err)
	}
	if row == nil {
		return nil, nil, apperr.Fatalf("lab %s has no usable schema", jc.Job.LabID)
	}
	def, err := schemadef.Parse(row.Definition)
	if err != nil {
		return nil, nil, apperr.Fatalf("schema %s: %v", row.ID, err)
	}
	return row, def, nil
}

// chainJob builds the successor of an ingestion stage, inheriting lab and
// priority from the finished job. The identifiers the stage reported in its
// result are copied into the successor's input, so each job in the chain
// records which papers its predecessor handed over.
func chainJob(jc *runtime.Context, jobType string, result map[string]any) *types.ProcessingJob {
	input := make(map[string]any, len(jc.Input())+2)
	for k, v := range jc.Input() {
		input[k] = v
	}
	for _, key := range []string{"paper_ids", "arxiv_ids"} {
		if v, ok := result[key]; ok {
			input[key] = v
		}
	}
	raw, err := json.Marshal(input)
	if err != nil {
		raw = jc.Job.InputConfig
	}
	return &types.ProcessingJob{
		ID:          uuid.New(),
		LabID:       jc.Job.LabID,
		JobType:     jobType,
		Status:      types.JobStatusQueued,
		Priority:    jc.Job.Priority,
		MaxAttempts: jc.Job.MaxAttempts,
		InputConfig: datatypes.JSON(raw),
	}
}

func paperIDStrings(papers []*types.ResearchPaper) []string {
	ids := make([]string, len(papers))
	for i, p := range papers {
		ids[i] = p.ID.String()
	}
	return ids
}
