package kg

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/labgraph/labgraph-backend/internal/data/repos/testutil"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
)

func TestMigrationPlanLatestUnconsumed(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewMigrationPlanRepo(db, testutil.Logger(t))

	labID := uuid.New()
	schemaID := uuid.New()
	connID := uuid.New()

	older := &types.MigrationPlan{
		ID:               uuid.New(),
		LabID:            labID,
		SchemaID:         schemaID,
		ConnectionID:     connID,
		Operations:       datatypes.JSON(`[]`),
		GraphFingerprint: "fp-old",
		CreatedAt:        time.Now().Add(-time.Minute),
	}
	newer := &types.MigrationPlan{
		ID:               uuid.New(),
		LabID:            labID,
		SchemaID:         schemaID,
		ConnectionID:     connID,
		Operations:       datatypes.JSON(`[]`),
		GraphFingerprint: "fp-new",
		CreatedAt:        time.Now(),
	}
	_, err := repo.Create(dbc, []*types.MigrationPlan{older, newer})
	require.NoError(t, err)

	got, err := repo.LatestUnconsumed(dbc, schemaID, connID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, newer.ID, got.ID)

	// Plans are bound to their (schema, connection) pair.
	got, err = repo.LatestUnconsumed(dbc, schemaID, uuid.New())
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMigrationPlanMarkConsumedIsSingleWinner(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewMigrationPlanRepo(db, testutil.Logger(t))

	plan := &types.MigrationPlan{
		ID:               uuid.New(),
		LabID:            uuid.New(),
		SchemaID:         uuid.New(),
		ConnectionID:     uuid.New(),
		Operations:       datatypes.JSON(`[]`),
		GraphFingerprint: "fp",
	}
	_, err := repo.Create(dbc, []*types.MigrationPlan{plan})
	require.NoError(t, err)

	ok, err := repo.MarkConsumed(dbc, plan.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// The second consumer loses the race.
	ok, err = repo.MarkConsumed(dbc, plan.ID)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.LatestUnconsumed(dbc, plan.SchemaID, plan.ConnectionID)
	require.NoError(t, err)
	require.Nil(t, got)
}
