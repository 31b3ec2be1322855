package pipeline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/kg/schemadef"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

const (
	MigrateModeDryRun = "dry_run"
	MigrateModeCommit = "commit"

	writeLockTTL = 10 * time.Minute
)

/*
SchemaMigrate runs the two-phase migration protocol.

Dry-run diffs the target schema version against the lab's active one, builds
the ordered operation plan, and stores it together with a structural
fingerprint of the live graph. Nothing in the graph changes.

Commit consumes the latest unconsumed plan for the (schema, connection)
pair. It re-fingerprints the graph first and refuses to apply a plan whose
snapshot no longer matches reality. The actual DDL runs inside the lab's
graph_write window, which blocks kg_upsert claims until it closes; an upsert
already running when the window opens is waited out before anything applies.

The worker holds the lab's graph_admin lock for the whole job either way.
*/
type SchemaMigrate struct {
	deps   *Deps
	engine *orchestrator.Engine
}

func NewSchemaMigrate(deps *Deps, engine *orchestrator.Engine) *SchemaMigrate {
	return &SchemaMigrate{deps: deps, engine: engine}
}

func (h *SchemaMigrate) Type() string { return types.JobTypeSchemaMigrate }

func (h *SchemaMigrate) Run(jc *runtime.Context) error {
	mode := jc.InputString("mode")
	switch mode {
	case MigrateModeDryRun:
		return h.engine.Execute(jc, orchestrator.Pipeline{
			JobType: h.Type(),
			Steps: []orchestrator.Step{
				{Name: "validate_schema", Timeout: time.Minute, Run: h.validateSchema},
				{Name: "plan_migration", Timeout: 10 * time.Minute, Run: h.planMigration},
			},
		})
	case MigrateModeCommit:
		return h.engine.Execute(jc, orchestrator.Pipeline{
			JobType: h.Type(),
			Steps: []orchestrator.Step{
				{Name: "validate_schema", Timeout: time.Minute, Run: h.validateSchema},
				{Name: "apply_migration", Timeout: 30 * time.Minute, Run: h.applyMigration},
			},
		})
	default:
		jc.Fail(apperr.Validation("schema_migrate requires mode dry_run or commit"))
		return nil
	}
}

// loadTarget fetches the target schema version named by the job input.
func (h *SchemaMigrate) loadTarget(jc *runtime.Context) (*types.KgSchema, *schemadef.Definition, error) {
	schemaID, ok := jc.InputUUID("schema_id")
	if !ok {
		return nil, nil, apperr.Validation("schema_migrate requires schema_id")
	}
	row, err := h.deps.Schemas.GetByID(dbctx.Context{Ctx: jc.Ctx}, schemaID)
	if err != nil {
		return nil, nil, apperr.Retryable(err)
	}
	if row == nil || row.LabID != jc.Job.LabID {
		return nil, nil, apperr.NotFound("schema %s not found for lab %s", schemaID, jc.Job.LabID)
	}
	def, err := schemadef.Parse(row.Definition)
	if err != nil {
		return nil, nil, apperr.Fatalf("schema %s: %v", row.ID, err)
	}
	return row, def, nil
}

// activeDefinition returns the currently active schema's definition, or an
// empty definition for a lab migrating for the first time.
func (h *SchemaMigrate) activeDefinition(jc *runtime.Context) (*schemadef.Definition, error) {
	active, err := h.deps.Schemas.GetActiveByLab(dbctx.Context{Ctx: jc.Ctx}, jc.Job.LabID)
	if err != nil {
		return nil, apperr.Retryable(err)
	}
	if active == nil {
		return &schemadef.Definition{}, nil
	}
	def, err := schemadef.Parse(active.Definition)
	if err != nil {
		return nil, apperr.Fatalf("active schema %s: %v", active.ID, err)
	}
	return def, nil
}

func (h *SchemaMigrate) validateSchema(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	_, def, err := h.loadTarget(jc)
	if err != nil {
		return nil, err
	}
	if violations := def.Validate(); len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.Field + ": " + v.Msg
		}
		return nil, apperr.Validation("target schema is invalid", msgs...)
	}
	return map[string]any{"valid": true}, nil
}

func (h *SchemaMigrate) planMigration(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	target, targetDef, err := h.loadTarget(jc)
	if err != nil {
		return nil, err
	}
	activeDef, err := h.activeDefinition(jc)
	if err != nil {
		return nil, err
	}

	changes := schemadef.Diff(activeDef, targetDef)
	ops := schemadef.BuildPlan(targetDef, changes)

	sess, conn, err := h.deps.resolveGraph(jc)
	if err != nil {
		return nil, err
	}
	defer sess.Close(jc.Ctx)

	fingerprint, err := sess.Fingerprint(jc.Ctx)
	if err != nil {
		return nil, apperr.Retryable(err)
	}
	nodes, rels, err := sess.Counts(jc.Ctx)
	if err != nil {
		return nil, apperr.Retryable(err)
	}

	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, apperr.Fatalf("marshal plan: %v", err)
	}
	plan := &types.MigrationPlan{
		ID:                 uuid.New(),
		LabID:              jc.Job.LabID,
		SchemaID:           target.ID,
		ConnectionID:       conn.ID,
		Operations:         datatypes.JSON(opsJSON),
		EstimatedNodes:     nodes,
		EstimatedRelations: rels,
		GraphFingerprint:   fingerprint,
	}
	if _, err := h.deps.Plans.Create(dbctx.Context{Ctx: jc.Ctx}, []*types.MigrationPlan{plan}); err != nil {
		return nil, apperr.Retryable(err)
	}

	unsafe := schemadef.HasUnsafe(changes)
	return map[string]any{
		"plan_id":             plan.ID,
		"operation_count":     len(ops),
		"unsafe":              unsafe,
		"estimated_nodes":     nodes,
		"estimated_relations": rels,
		"fingerprint":         fingerprint,
	}, nil
}

func (h *SchemaMigrate) applyMigration(jc *runtime.Context, _ *types.JobStep) (map[string]any, error) {
	target, _, err := h.loadTarget(jc)
	if err != nil {
		return nil, err
	}
	sess, conn, err := h.deps.resolveGraph(jc)
	if err != nil {
		return nil, err
	}
	defer sess.Close(jc.Ctx)

	dbc := dbctx.Context{Ctx: jc.Ctx}
	plan, err := h.deps.Plans.LatestUnconsumed(dbc, target.ID, conn.ID)
	if err != nil {
		return nil, apperr.Retryable(err)
	}
	if plan == nil {
		return nil, apperr.Fatalf("no unconsumed dry-run plan for schema %s on connection %s", target.ID, conn.ID)
	}

	var ops []schemadef.Operation
	if err := json.Unmarshal(plan.Operations, &ops); err != nil {
		return nil, apperr.Fatalf("decode plan %s: %v", plan.ID, err)
	}
	if hasUnsafeOps(ops) && !inputBool(jc, "allow_unsafe") {
		return nil, apperr.Validation("plan contains destructive operations; set allow_unsafe to commit")
	}

	// Divergence gate: the graph must look exactly as it did at plan time.
	fingerprint, err := sess.Fingerprint(jc.Ctx)
	if err != nil {
		return nil, apperr.Retryable(err)
	}
	if fingerprint != plan.GraphFingerprint {
		return nil, apperr.MigrationDivergence(
			"graph structure changed since dry-run: plan %s expected %s, found %s",
			plan.ID, plan.GraphFingerprint, fingerprint)
	}

	// The write window: kg_upsert claims are blocked while this lock is held.
	acquired, err := h.deps.Locks.Acquire(dbc, jc.Job.LabID, types.LockScopeGraphWrite, jc.Job.ID, writeLockTTL)
	if err != nil {
		return nil, apperr.Retryable(err)
	}
	if !acquired {
		return nil, apperr.Retryablef("graph_write lock for lab %s is held", jc.Job.LabID)
	}
	defer func() {
		_ = h.deps.Locks.Release(dbc, jc.Job.LabID, types.LockScopeGraphWrite, jc.Job.ID)
	}()

	// An upsert admitted before the window opened is still writing; its MERGE
	// batches must drain before any DDL runs.
	busy, err := jc.Jobs.HasActive(dbc, jc.Job.LabID,
		[]string{types.JobTypeKgUpsert}, []string{types.JobStatusRunning})
	if err != nil {
		return nil, apperr.Retryable(err)
	}
	if busy {
		return nil, apperr.Retryablef("kg_upsert still running for lab %s", jc.Job.LabID)
	}

	if err := sess.ApplyOperations(jc.Ctx, ops); err != nil {
		return nil, apperr.Retryable(err)
	}

	consumed, err := h.deps.Plans.MarkConsumed(dbc, plan.ID)
	if err != nil {
		return nil, apperr.Retryable(err)
	}
	if !consumed {
		// A concurrent commit won the plan; ops were idempotent DDL, so the
		// graph is still coherent.
		return nil, apperr.Fatalf("plan %s was consumed by another commit", plan.ID)
	}

	_ = h.deps.Audit.Append(dbc, []*types.AuditLog{{
		ID:         uuid.New(),
		LabID:      jc.Job.LabID,
		Action:     "schema_migrate_commit",
		EntityType: "kg_schema",
		EntityID:   &target.ID,
	}})

	return map[string]any{
		"plan_id":         plan.ID,
		"operation_count": len(ops),
		"schema_version":  target.Version,
	}, nil
}

func hasUnsafeOps(ops []schemadef.Operation) bool {
	for _, op := range ops {
		if op.Unsafe {
			return true
		}
	}
	return false
}

func inputBool(jc *runtime.Context, key string) bool {
	v, ok := jc.Input()[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
