package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	"github.com/labgraph/labgraph-backend/internal/data/repos/testutil"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/kg/schemadef"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/platform/neo4jdb"
)

// fakeGraphSession stands in for a live neo4j database. The fingerprint is
// fixed per instance, so divergence scenarios are just two instances with
// different values.
type fakeGraphSession struct {
	mu          sync.Mutex
	fingerprint string
	applied     [][]schemadef.Operation
}

func (s *fakeGraphSession) ApplyOperations(ctx context.Context, ops []schemadef.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, ops)
	return nil
}

func (s *fakeGraphSession) Fingerprint(ctx context.Context) (string, error) {
	return s.fingerprint, nil
}

func (s *fakeGraphSession) Counts(ctx context.Context) (int64, int64, error) { return 120, 340, nil }

func (s *fakeGraphSession) UpsertEntities(ctx context.Context, nodes []neo4jdb.EntityNode, rels []neo4jdb.EntityRel) error {
	return nil
}

func (s *fakeGraphSession) DropVectorIndex(ctx context.Context, name string) error { return nil }

func (s *fakeGraphSession) CreateVectorIndex(ctx context.Context, idx schemadef.VectorIndex) error {
	return nil
}

func (s *fakeGraphSession) Export(ctx context.Context, batchSize int) (*neo4jdb.ExportedGraph, error) {
	return &neo4jdb.ExportedGraph{}, nil
}

func (s *fakeGraphSession) Close(ctx context.Context) error { return nil }

func (s *fakeGraphSession) appliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

type fakeSecretStore struct{}

func (fakeSecretStore) Put(ctx context.Context, secret string) (string, error) {
	return "labgraph:secret:" + uuid.NewString(), nil
}
func (fakeSecretStore) Get(ctx context.Context, secretID string) (string, error) {
	return "graph-password", nil
}
func (fakeSecretStore) Delete(ctx context.Context, secretID string) error { return nil }

type nopNotifier struct{}

func (nopNotifier) JobQueued(labID uuid.UUID, job *types.ProcessingJob) {}
func (nopNotifier) JobProgress(labID uuid.UUID, job *types.ProcessingJob, pct int, processed int, total *int) {
}
func (nopNotifier) JobFailed(labID uuid.UUID, job *types.ProcessingJob, errorMessage string) {}
func (nopNotifier) JobCompleted(labID uuid.UUID, job *types.ProcessingJob)                   {}
func (nopNotifier) JobCancelled(labID uuid.UUID, job *types.ProcessingJob)                   {}
func (nopNotifier) SchemaActivated(labID uuid.UUID, schemaID uuid.UUID, version int)         {}

type migrateFixture struct {
	tx      *gorm.DB
	dbc     dbctx.Context
	deps    *Deps
	engine  *orchestrator.Engine
	session *fakeGraphSession
	lab     *types.Lab
	target  *types.KgSchema
	conn    *types.GraphConnection
}

func newMigrateFixture(t *testing.T) *migrateFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	lab := &types.Lab{ID: uuid.New(), Name: "plasma-physics", RowVersion: 1}
	require.NoError(t, tx.Create(lab).Error)

	activeDef, err := json.Marshal(map[string]any{
		"node_types": []map[string]any{
			{"name": "Paper", "properties": []map[string]any{
				{"name": "arxiv_id", "type": "string", "required": true},
			}},
		},
	})
	require.NoError(t, err)
	active := &types.KgSchema{
		ID:         uuid.New(),
		LabID:      lab.ID,
		Version:    1,
		Definition: datatypes.JSON(activeDef),
		IsActive:   true,
	}
	require.NoError(t, tx.Create(active).Error)

	targetDef, err := json.Marshal(map[string]any{
		"node_types": []map[string]any{
			{"name": "Paper", "properties": []map[string]any{
				{"name": "arxiv_id", "type": "string", "required": true},
				{"name": "title", "type": "string"},
			}},
			{"name": "Author", "properties": []map[string]any{
				{"name": "name", "type": "string"},
			}},
		},
		"relationship_types": []map[string]any{
			{"name": "AUTHORED_BY", "start_node": "Paper", "end_node": "Author"},
		},
		"constraints": []map[string]any{
			{"name": "paper_arxiv_unique", "kind": "unique", "node_type": "Paper", "property": "arxiv_id"},
		},
	})
	require.NoError(t, err)
	target := &types.KgSchema{
		ID:         uuid.New(),
		LabID:      lab.ID,
		Version:    2,
		Definition: datatypes.JSON(targetDef),
	}
	require.NoError(t, tx.Create(target).Error)

	conn := &types.GraphConnection{
		ID:           uuid.New(),
		LabID:        lab.ID,
		Name:         "primary",
		URI:          "neo4j://graph.internal:7687",
		DatabaseName: "neo4j",
		Username:     "svc",
		SecretID:     "labgraph:secret:" + uuid.NewString(),
		IsActive:     true,
	}
	require.NoError(t, tx.Create(conn).Error)

	session := &fakeGraphSession{fingerprint: "fp-at-plan-time"}
	deps := &Deps{
		Log:     log,
		DB:      tx,
		Labs:    repos.NewLabRepo(tx, log),
		Schemas: repos.NewKgSchemaRepo(tx, log),
		Conns:   repos.NewGraphConnectionRepo(tx, log),
		Plans:   repos.NewMigrationPlanRepo(tx, log),
		Papers:  repos.NewResearchPaperRepo(tx, log),
		Locks:   repos.NewTenantLockRepo(tx, log),
		Audit:   repos.NewAuditLogRepo(tx, log),
		Secrets: fakeSecretStore{},
		Graphs: func(ctx context.Context, p neo4jdb.ConnectParams) (GraphSession, error) {
			return session, nil
		},
	}
	return &migrateFixture{
		tx:      tx,
		dbc:     dbc,
		deps:    deps,
		engine:  orchestrator.NewEngine(log, 10*time.Millisecond, time.Second),
		session: session,
		lab:     lab,
		target:  target,
		conn:    conn,
	}
}

func (f *migrateFixture) runJob(t *testing.T, input map[string]any) *types.ProcessingJob {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	job := &types.ProcessingJob{
		ID:          uuid.New(),
		LabID:       f.lab.ID,
		JobType:     types.JobTypeSchemaMigrate,
		Status:      types.JobStatusRunning,
		MaxAttempts: 3,
		InputConfig: datatypes.JSON(raw),
	}
	require.NoError(t, f.tx.Create(job).Error)

	jobsRepo := repos.NewProcessingJobRepo(f.tx, testutil.Logger(t))
	stepsRepo := repos.NewJobStepRepo(f.tx, testutil.Logger(t))
	jc := runtime.NewContext(context.Background(), f.tx, job, jobsRepo, stepsRepo, nopNotifier{})

	handler := NewSchemaMigrate(f.deps, f.engine)
	require.NoError(t, handler.Run(jc))

	fresh, err := jobsRepo.GetByID(f.dbc, job.ID)
	require.NoError(t, err)
	return fresh
}

func TestSchemaMigrateDryRunStoresPlan(t *testing.T) {
	f := newMigrateFixture(t)

	job := f.runJob(t, map[string]any{
		"mode":      MigrateModeDryRun,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusCompleted, job.Status)

	plan, err := f.deps.Plans.LatestUnconsumed(f.dbc, f.target.ID, f.conn.ID)
	require.NoError(t, err)
	require.NotNil(t, plan)
	require.Equal(t, "fp-at-plan-time", plan.GraphFingerprint)
	require.EqualValues(t, 120, plan.EstimatedNodes)
	require.Nil(t, plan.ConsumedAt)

	var ops []schemadef.Operation
	require.NoError(t, json.Unmarshal(plan.Operations, &ops))
	require.NotEmpty(t, ops)

	// Dry-run never touches the graph.
	require.Zero(t, f.session.appliedCount())
}

func TestSchemaMigrateCommitAppliesAndConsumesPlan(t *testing.T) {
	f := newMigrateFixture(t)

	dry := f.runJob(t, map[string]any{
		"mode":      MigrateModeDryRun,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusCompleted, dry.Status)

	commit := f.runJob(t, map[string]any{
		"mode":      MigrateModeCommit,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusCompleted, commit.Status)
	require.Equal(t, 1, f.session.appliedCount())

	// The plan is spent; a second commit has nothing to consume.
	plan, err := f.deps.Plans.LatestUnconsumed(f.dbc, f.target.ID, f.conn.ID)
	require.NoError(t, err)
	require.Nil(t, plan)

	second := f.runJob(t, map[string]any{
		"mode":      MigrateModeCommit,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusFailed, second.Status)
	require.Contains(t, string(second.ErrorDetails), "no unconsumed dry-run plan")

	// The write lock was released on the way out.
	held, err := f.deps.Locks.Held(f.dbc, f.lab.ID, types.LockScopeGraphWrite)
	require.NoError(t, err)
	require.False(t, held)
}

func TestSchemaMigrateCommitWaitsForRunningUpsert(t *testing.T) {
	f := newMigrateFixture(t)

	dry := f.runJob(t, map[string]any{
		"mode":      MigrateModeDryRun,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusCompleted, dry.Status)

	// An upsert claimed before the commit started is still writing batches.
	upsert := &types.ProcessingJob{
		ID:          uuid.New(),
		LabID:       f.lab.ID,
		JobType:     types.JobTypeKgUpsert,
		Status:      types.JobStatusRunning,
		MaxAttempts: 3,
	}
	require.NoError(t, f.tx.Create(upsert).Error)

	commit := f.runJob(t, map[string]any{
		"mode":      MigrateModeCommit,
		"schema_id": f.target.ID.String(),
	})

	// The commit backs off instead of running DDL under the upsert's writes.
	require.Equal(t, types.JobStatusQueued, commit.Status)
	require.Equal(t, 1, commit.Attempts)
	require.Zero(t, f.session.appliedCount())

	plan, err := f.deps.Plans.LatestUnconsumed(f.dbc, f.target.ID, f.conn.ID)
	require.NoError(t, err)
	require.NotNil(t, plan)

	held, err := f.deps.Locks.Held(f.dbc, f.lab.ID, types.LockScopeGraphWrite)
	require.NoError(t, err)
	require.False(t, held)

	// Once the upsert drains the retried commit goes through.
	require.NoError(t, f.tx.Model(&types.ProcessingJob{}).
		Where("id = ?", upsert.ID).
		Update("status", types.JobStatusCompleted).Error)

	retried := f.runJob(t, map[string]any{
		"mode":      MigrateModeCommit,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusCompleted, retried.Status)
	require.Equal(t, 1, f.session.appliedCount())
}

func TestSchemaMigrateCommitRefusesDivergedGraph(t *testing.T) {
	f := newMigrateFixture(t)

	dry := f.runJob(t, map[string]any{
		"mode":      MigrateModeDryRun,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusCompleted, dry.Status)

	// Someone reshaped the graph between dry-run and commit.
	f.session.fingerprint = "fp-after-manual-edit"

	commit := f.runJob(t, map[string]any{
		"mode":      MigrateModeCommit,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusFailed, commit.Status)
	require.Contains(t, string(commit.ErrorDetails), "graph structure changed since dry-run")
	require.Zero(t, f.session.appliedCount())

	// The plan survives untouched for inspection.
	plan, err := f.deps.Plans.LatestUnconsumed(f.dbc, f.target.ID, f.conn.ID)
	require.NoError(t, err)
	require.NotNil(t, plan)
}

func TestSchemaMigrateCommitRequiresAllowUnsafe(t *testing.T) {
	f := newMigrateFixture(t)

	dry := f.runJob(t, map[string]any{
		"mode":      MigrateModeDryRun,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusCompleted, dry.Status)

	// Hand-craft an unsafe operation into the stored plan.
	plan, err := f.deps.Plans.LatestUnconsumed(f.dbc, f.target.ID, f.conn.ID)
	require.NoError(t, err)
	var ops []schemadef.Operation
	require.NoError(t, json.Unmarshal(plan.Operations, &ops))
	ops = append(ops, schemadef.Operation{
		Kind:   schemadef.OpRemoveProperty,
		Target: "Paper.legacy_field",
		Cypher: "MATCH (n:Paper) REMOVE n.legacy_field",
		Unsafe: true,
	})
	raw, err := json.Marshal(ops)
	require.NoError(t, err)
	require.NoError(t, f.tx.Model(&types.MigrationPlan{}).
		Where("id = ?", plan.ID).
		Update("operations", datatypes.JSON(raw)).Error)

	blocked := f.runJob(t, map[string]any{
		"mode":      MigrateModeCommit,
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusFailed, blocked.Status)
	require.Contains(t, string(blocked.ErrorDetails), "destructive operations")
	require.Zero(t, f.session.appliedCount())

	allowed := f.runJob(t, map[string]any{
		"mode":         MigrateModeCommit,
		"schema_id":    f.target.ID.String(),
		"allow_unsafe": true,
	})
	require.Equal(t, types.JobStatusCompleted, allowed.Status)
	require.Equal(t, 1, f.session.appliedCount())
}

func TestSchemaMigrateInvalidModeFailsValidation(t *testing.T) {
	f := newMigrateFixture(t)

	job := f.runJob(t, map[string]any{
		"mode":      "sideways",
		"schema_id": f.target.ID.String(),
	})
	require.Equal(t, types.JobStatusFailed, job.Status)
}
