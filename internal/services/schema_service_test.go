package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	"github.com/labgraph/labgraph-backend/internal/data/repos/testutil"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
)

type recordingNotifier struct {
	activated []uuid.UUID
	queued    []uuid.UUID
	cancelled []uuid.UUID
}

func (n *recordingNotifier) JobQueued(labID uuid.UUID, job *types.ProcessingJob) {
	n.queued = append(n.queued, job.ID)
}
func (n *recordingNotifier) JobProgress(labID uuid.UUID, job *types.ProcessingJob, pct int, processed int, total *int) {
}
func (n *recordingNotifier) JobFailed(labID uuid.UUID, job *types.ProcessingJob, errorMessage string) {
}
func (n *recordingNotifier) JobCompleted(labID uuid.UUID, job *types.ProcessingJob) {}
func (n *recordingNotifier) JobCancelled(labID uuid.UUID, job *types.ProcessingJob) {
	n.cancelled = append(n.cancelled, job.ID)
}
func (n *recordingNotifier) SchemaActivated(labID uuid.UUID, schemaID uuid.UUID, version int) {
	n.activated = append(n.activated, schemaID)
}

func newSchemaService(t *testing.T) (SchemaService, *recordingNotifier, *gorm.DB, *types.Lab) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)

	lab := &types.Lab{ID: uuid.New(), Name: "astro", RowVersion: 1}
	require.NoError(t, tx.Create(lab).Error)

	notify := &recordingNotifier{}
	svc := NewSchemaService(tx, log,
		repos.NewLabRepo(tx, log),
		repos.NewKgSchemaRepo(tx, log),
		repos.NewAuditLogRepo(tx, log),
		notify)
	return svc, notify, tx, lab
}

func minimalDefinition(nodeNames ...string) map[string]any {
	nodes := make([]map[string]any, 0, len(nodeNames))
	for _, name := range nodeNames {
		nodes = append(nodes, map[string]any{
			"name": name,
			"properties": []map[string]any{
				{"name": "title", "type": "string"},
			},
		})
	}
	return map[string]any{"node_types": nodes}
}

func TestCreateDraftAssignsMonotonicVersions(t *testing.T) {
	svc, _, _, lab := newSchemaService(t)
	ctx := context.Background()

	first, err := svc.CreateDraft(ctx, lab.ID, minimalDefinition("Paper"), "initial")
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)
	require.False(t, first.IsActive)

	second, err := svc.CreateDraft(ctx, lab.ID, minimalDefinition("Paper", "Author"), "add authors")
	require.NoError(t, err)
	require.Equal(t, 2, second.Version)
}

func TestCreateDraftRejectsInvalidDefinition(t *testing.T) {
	svc, _, _, lab := newSchemaService(t)
	ctx := context.Background()

	// A relationship referencing an undeclared node type fails validation.
	_, err := svc.CreateDraft(ctx, lab.ID, map[string]any{
		"node_types": []map[string]any{{"name": "Paper"}},
		"relationship_types": []map[string]any{
			{"name": "CITES", "start_node": "Paper", "end_node": "Ghost"},
		},
	}, "")
	require.Error(t, err)
	require.True(t, apperr.IsValidation(err))

	_, err = svc.CreateDraft(ctx, uuid.New(), minimalDefinition("Paper"), "")
	require.Error(t, err)
	require.True(t, apperr.IsNotFound(err))
}

func TestSchemaDiffBetweenVersions(t *testing.T) {
	svc, _, _, lab := newSchemaService(t)
	ctx := context.Background()

	_, err := svc.CreateDraft(ctx, lab.ID, minimalDefinition("Paper"), "")
	require.NoError(t, err)
	_, err = svc.CreateDraft(ctx, lab.ID, minimalDefinition("Paper", "Author"), "")
	require.NoError(t, err)

	diff, err := svc.Diff(ctx, lab.ID, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 1, diff.FromVersion)
	require.Equal(t, 2, diff.ToVersion)
	require.False(t, diff.Unsafe)
	require.NotEmpty(t, diff.Changes)

	// The reverse direction drops a label, which is destructive.
	reverse, err := svc.Diff(ctx, lab.ID, 2, 1)
	require.NoError(t, err)
	require.True(t, reverse.Unsafe)

	_, err = svc.Diff(ctx, lab.ID, 1, 9)
	require.Error(t, err)
	require.True(t, apperr.IsNotFound(err))
}

func TestActivateNotifiesAndFlipsPointer(t *testing.T) {
	svc, notify, tx, lab := newSchemaService(t)
	ctx := context.Background()

	draft, err := svc.CreateDraft(ctx, lab.ID, minimalDefinition("Paper"), "")
	require.NoError(t, err)

	updated, err := svc.Activate(ctx, lab.ID, draft.ID, 0)
	require.NoError(t, err)
	require.Equal(t, draft.ID, *updated.ActiveSchemaID)
	require.Equal(t, []uuid.UUID{draft.ID}, notify.activated)

	var audits []types.AuditLog
	require.NoError(t, tx.Where("lab_id = ? AND action = ?", lab.ID, "schema_activate").Find(&audits).Error)
	require.Len(t, audits, 1)
}

func TestValidateStoredSchema(t *testing.T) {
	svc, _, _, lab := newSchemaService(t)
	ctx := context.Background()

	draft, err := svc.CreateDraft(ctx, lab.ID, minimalDefinition("Paper"), "")
	require.NoError(t, err)

	violations, err := svc.Validate(ctx, lab.ID, draft.ID)
	require.NoError(t, err)
	require.Empty(t, violations)
}
