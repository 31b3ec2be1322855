package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	"github.com/labgraph/labgraph-backend/internal/data/repos/testutil"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/platform/neo4jdb"
)

// memSecretStore keeps secrets in a map so rotation can be asserted end to
// end: the old secret must be gone, the new one resolvable.
type memSecretStore struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemSecretStore() *memSecretStore {
	return &memSecretStore{secrets: make(map[string]string)}
}

func (s *memSecretStore) Put(ctx context.Context, secret string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "labgraph:secret:" + uuid.NewString()
	s.secrets[id] = secret
	return id, nil
}

func (s *memSecretStore) Get(ctx context.Context, secretID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[secretID]
	if !ok {
		return "", fmt.Errorf("secret %s not found", secretID)
	}
	return secret, nil
}

func (s *memSecretStore) Delete(ctx context.Context, secretID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, secretID)
	return nil
}

func (s *memSecretStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.secrets)
}

func newConnectionService(t *testing.T, verify GraphVerifier) (ConnectionService, *memSecretStore, *gorm.DB, *types.Lab) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	tx := testutil.Tx(t, db)

	lab := &types.Lab{ID: uuid.New(), Name: "quantum", RowVersion: 1}
	require.NoError(t, tx.Create(lab).Error)

	store := newMemSecretStore()
	svc := NewConnectionService(tx, log,
		repos.NewLabRepo(tx, log),
		repos.NewGraphConnectionRepo(tx, log),
		repos.NewAuditLogRepo(tx, log),
		store, verify)
	return svc, store, tx, lab
}

func acceptAll(ctx context.Context, p neo4jdb.ConnectParams) error { return nil }

func TestConnectionCreateStoresSecretNotPassword(t *testing.T) {
	var dialed []neo4jdb.ConnectParams
	verify := func(ctx context.Context, p neo4jdb.ConnectParams) error {
		dialed = append(dialed, p)
		return nil
	}
	svc, store, _, lab := newConnectionService(t, verify)
	ctx := context.Background()

	conn, err := svc.Create(ctx, CreateConnectionInput{
		LabID:        lab.ID,
		Name:         "primary",
		URI:          "neo4j://graph.internal:7687",
		DatabaseName: "neo4j",
		Username:     "svc",
		Password:     "hunter2",
	})
	require.NoError(t, err)
	require.NotEmpty(t, conn.SecretID)
	require.NotNil(t, conn.LastTestedAt)

	// The credentials were proven before anything persisted.
	require.Len(t, dialed, 1)
	require.Equal(t, "hunter2", dialed[0].Password)

	// The row carries only the opaque id; the store resolves it.
	secret, err := store.Get(ctx, conn.SecretID)
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret)
}

func TestConnectionCreateRejectsBadCredentials(t *testing.T) {
	verify := func(ctx context.Context, p neo4jdb.ConnectParams) error {
		return fmt.Errorf("authentication failure")
	}
	svc, store, _, lab := newConnectionService(t, verify)

	_, err := svc.Create(context.Background(), CreateConnectionInput{
		LabID:        lab.ID,
		Name:         "primary",
		URI:          "neo4j://graph.internal:7687",
		DatabaseName: "neo4j",
		Username:     "svc",
		Password:     "wrong",
	})
	require.Error(t, err)
	require.True(t, apperr.IsValidation(err))
	require.Zero(t, store.count())
}

func TestConnectionRotateSecretSwapsAndCleansUp(t *testing.T) {
	svc, store, _, lab := newConnectionService(t, acceptAll)
	ctx := context.Background()

	conn, err := svc.Create(ctx, CreateConnectionInput{
		LabID:        lab.ID,
		Name:         "primary",
		URI:          "neo4j://graph.internal:7687",
		DatabaseName: "neo4j",
		Username:     "svc",
		Password:     "old-password",
	})
	require.NoError(t, err)
	oldSecretID := conn.SecretID

	rotated, err := svc.RotateSecret(ctx, lab.ID, conn.ID, "new-password", conn.RowVersion)
	require.NoError(t, err)
	require.NotEqual(t, oldSecretID, rotated.SecretID)
	require.Greater(t, rotated.RowVersion, conn.RowVersion)

	secret, err := store.Get(ctx, rotated.SecretID)
	require.NoError(t, err)
	require.Equal(t, "new-password", secret)

	_, err = store.Get(ctx, oldSecretID)
	require.Error(t, err)
	require.Equal(t, 1, store.count())
}

func TestConnectionRotateSecretStaleVersionConflicts(t *testing.T) {
	svc, store, _, lab := newConnectionService(t, acceptAll)
	ctx := context.Background()

	conn, err := svc.Create(ctx, CreateConnectionInput{
		LabID:        lab.ID,
		Name:         "primary",
		URI:          "neo4j://graph.internal:7687",
		DatabaseName: "neo4j",
		Username:     "svc",
		Password:     "old-password",
	})
	require.NoError(t, err)

	_, err = svc.RotateSecret(ctx, lab.ID, conn.ID, "second", conn.RowVersion)
	require.NoError(t, err)

	// A rotation against the already-bumped version must lose, and its
	// provisional secret must not linger.
	_, err = svc.RotateSecret(ctx, lab.ID, conn.ID, "third", conn.RowVersion)
	require.Error(t, err)
	require.True(t, apperr.IsConflict(err))
	require.Equal(t, 1, store.count())

	current, err := svc.Get(ctx, lab.ID, conn.ID)
	require.NoError(t, err)
	secret, err := store.Get(ctx, current.SecretID)
	require.NoError(t, err)
	require.Equal(t, "second", secret)
}

func TestConnectionActivateAndDeactivate(t *testing.T) {
	svc, _, tx, lab := newConnectionService(t, acceptAll)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateConnectionInput{
		LabID: lab.ID, Name: "a", URI: "neo4j://a:7687", DatabaseName: "neo4j", Username: "svc", Password: "pw",
	})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateConnectionInput{
		LabID: lab.ID, Name: "b", URI: "neo4j://b:7687", DatabaseName: "neo4j", Username: "svc", Password: "pw",
	})
	require.NoError(t, err)

	updated, err := svc.Activate(ctx, lab.ID, first.ID, 0)
	require.NoError(t, err)
	require.Equal(t, first.ID, *updated.ActiveConnectionID)

	updated, err = svc.Activate(ctx, lab.ID, second.ID, updated.RowVersion)
	require.NoError(t, err)
	require.Equal(t, second.ID, *updated.ActiveConnectionID)

	var activeCount int64
	require.NoError(t, tx.Model(&types.GraphConnection{}).
		Where("lab_id = ? AND is_active = ?", lab.ID, true).
		Count(&activeCount).Error)
	require.EqualValues(t, 1, activeCount)

	current, err := svc.Get(ctx, lab.ID, second.ID)
	require.NoError(t, err)
	_, err = svc.Deactivate(ctx, lab.ID, second.ID, current.RowVersion)
	require.NoError(t, err)

	var labRow types.Lab
	require.NoError(t, tx.Where("id = ?", lab.ID).First(&labRow).Error)
	require.Nil(t, labRow.ActiveConnectionID)
}
