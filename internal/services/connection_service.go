package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/platform/neo4jdb"
	"github.com/labgraph/labgraph-backend/internal/platform/secrets"
)

// CreateConnectionInput carries the plaintext password exactly once; the
// service exchanges it for a secret id before anything touches postgres.
type CreateConnectionInput struct {
	LabID        uuid.UUID
	Name         string
	URI          string
	DatabaseName string
	Username     string
	Password     string
}

// GraphVerifier dials a graph endpoint just long enough to prove the
// credentials work. The default implementation uses the real driver; tests
// substitute their own.
type GraphVerifier func(ctx context.Context, p neo4jdb.ConnectParams) error

func DefaultGraphVerifier(baseLog *logger.Logger) GraphVerifier {
	return func(ctx context.Context, p neo4jdb.ConnectParams) error {
		client, err := neo4jdb.Connect(ctx, p, baseLog)
		if err != nil {
			return err
		}
		return client.Close(ctx)
	}
}

type ConnectionService interface {
	Create(ctx context.Context, in CreateConnectionInput) (*types.GraphConnection, error)
	Get(ctx context.Context, labID, connID uuid.UUID) (*types.GraphConnection, error)
	List(ctx context.Context, labID uuid.UUID) ([]*types.GraphConnection, error)
	// Test verifies connectivity with the stored credentials and stamps
	// last_tested_at on success.
	Test(ctx context.Context, labID, connID uuid.UUID) error
	// RotateSecret swaps the stored password under optimistic concurrency.
	// The previous secret is deleted only after the row points at the new one.
	RotateSecret(ctx context.Context, labID, connID uuid.UUID, newPassword string, expectedRowVersion int64) (*types.GraphConnection, error)
	// Activate swaps the lab's active connection through the single-winner
	// activation protocol.
	Activate(ctx context.Context, labID, connID uuid.UUID, expectedRowVersion int64) (*types.Lab, error)
	// Deactivate clears the active flag; the lab keeps no active connection
	// until another Activate.
	Deactivate(ctx context.Context, labID, connID uuid.UUID, expectedRowVersion int64) (*types.GraphConnection, error)
}

type connectionService struct {
	db      *gorm.DB
	log     *logger.Logger
	labs    repos.LabRepo
	conns   repos.GraphConnectionRepo
	audit   repos.AuditLogRepo
	secrets secrets.Store
	verify  GraphVerifier
}

func NewConnectionService(db *gorm.DB, baseLog *logger.Logger, labs repos.LabRepo, conns repos.GraphConnectionRepo, audit repos.AuditLogRepo, secretStore secrets.Store, verify GraphVerifier) ConnectionService {
	return &connectionService{
		db:      db,
		log:     baseLog.With("service", "ConnectionService"),
		labs:    labs,
		conns:   conns,
		audit:   audit,
		secrets: secretStore,
		verify:  verify,
	}
}

func (s *connectionService) Create(ctx context.Context, in CreateConnectionInput) (*types.GraphConnection, error) {
	dbc := dbctx.Context{Ctx: ctx}

	lab, err := s.labs.GetByID(dbc, in.LabID)
	if err != nil {
		return nil, err
	}
	if lab == nil {
		return nil, apperr.NotFound("lab %s not found", in.LabID)
	}

	var violations []string
	if strings.TrimSpace(in.Name) == "" {
		violations = append(violations, "name is required")
	}
	if strings.TrimSpace(in.URI) == "" {
		violations = append(violations, "uri is required")
	}
	if strings.TrimSpace(in.DatabaseName) == "" {
		violations = append(violations, "database_name is required")
	}
	if strings.TrimSpace(in.Username) == "" {
		violations = append(violations, "username is required")
	}
	if in.Password == "" {
		violations = append(violations, "password is required")
	}
	if len(violations) > 0 {
		return nil, apperr.Validation("invalid connection", violations...)
	}

	// Prove the credentials before persisting anything.
	if err := s.verify(ctx, neo4jdb.ConnectParams{
		URI:      in.URI,
		Username: in.Username,
		Password: in.Password,
		Database: in.DatabaseName,
	}); err != nil {
		return nil, apperr.Validation("connection verification failed: " + err.Error())
	}

	secretID, err := s.secrets.Put(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conn := &types.GraphConnection{
		ID:           uuid.New(),
		LabID:        in.LabID,
		Name:         strings.TrimSpace(in.Name),
		URI:          strings.TrimSpace(in.URI),
		DatabaseName: strings.TrimSpace(in.DatabaseName),
		Username:     strings.TrimSpace(in.Username),
		SecretID:     secretID,
		LastTestedAt: &now,
	}
	if _, err := s.conns.Create(dbc, []*types.GraphConnection{conn}); err != nil {
		_ = s.secrets.Delete(ctx, secretID)
		return nil, err
	}
	s.log.Info("Graph connection created", "lab_id", in.LabID, "connection_id", conn.ID, "name", conn.Name)
	return conn, nil
}

func (s *connectionService) Get(ctx context.Context, labID, connID uuid.UUID) (*types.GraphConnection, error) {
	conn, err := s.conns.GetByID(dbctx.Context{Ctx: ctx}, connID)
	if err != nil {
		return nil, err
	}
	if conn == nil || conn.LabID != labID {
		return nil, apperr.NotFound("connection %s not found", connID)
	}
	return conn, nil
}

func (s *connectionService) List(ctx context.Context, labID uuid.UUID) ([]*types.GraphConnection, error) {
	return s.conns.ListByLab(dbctx.Context{Ctx: ctx}, labID)
}

func (s *connectionService) Test(ctx context.Context, labID, connID uuid.UUID) error {
	conn, err := s.Get(ctx, labID, connID)
	if err != nil {
		return err
	}
	password, err := s.secrets.Get(ctx, conn.SecretID)
	if err != nil {
		return err
	}
	if err := s.verify(ctx, neo4jdb.ConnectParams{
		URI:      conn.URI,
		Username: conn.Username,
		Password: password,
		Database: conn.DatabaseName,
	}); err != nil {
		return apperr.Validation("connection test failed: " + err.Error())
	}
	return s.conns.UpdateFields(dbctx.Context{Ctx: ctx}, connID, map[string]interface{}{
		"last_tested_at": time.Now(),
	})
}

func (s *connectionService) RotateSecret(ctx context.Context, labID, connID uuid.UUID, newPassword string, expectedRowVersion int64) (*types.GraphConnection, error) {
	if newPassword == "" {
		return nil, apperr.Validation("new password is required")
	}
	conn, err := s.Get(ctx, labID, connID)
	if err != nil {
		return nil, err
	}
	if expectedRowVersion <= 0 {
		expectedRowVersion = conn.RowVersion
	}

	if err := s.verify(ctx, neo4jdb.ConnectParams{
		URI:      conn.URI,
		Username: conn.Username,
		Password: newPassword,
		Database: conn.DatabaseName,
	}); err != nil {
		return nil, apperr.Validation("rotation verification failed: " + err.Error())
	}

	newSecretID, err := s.secrets.Put(ctx, newPassword)
	if err != nil {
		return nil, err
	}
	ok, err := s.conns.UpdateFieldsWithVersion(dbctx.Context{Ctx: ctx}, connID, expectedRowVersion, map[string]interface{}{
		"secret_id": newSecretID,
	})
	if err != nil {
		_ = s.secrets.Delete(ctx, newSecretID)
		return nil, err
	}
	if !ok {
		_ = s.secrets.Delete(ctx, newSecretID)
		return nil, apperr.Conflict("connection %s version %d is stale", connID, expectedRowVersion)
	}
	_ = s.secrets.Delete(ctx, conn.SecretID)

	_ = s.audit.Append(dbctx.Context{Ctx: ctx}, []*types.AuditLog{{
		ID:         uuid.New(),
		LabID:      labID,
		Action:     "connection_rotate_secret",
		EntityType: "graph_connection",
		EntityID:   &connID,
	}})
	s.log.Info("Connection secret rotated", "lab_id", labID, "connection_id", connID)
	return s.Get(ctx, labID, connID)
}

func (s *connectionService) Activate(ctx context.Context, labID, connID uuid.UUID, expectedRowVersion int64) (*types.Lab, error) {
	dbc := dbctx.Context{Ctx: ctx}
	lab, err := s.labs.ActivateConnection(dbc, labID, connID, expectedRowVersion)
	if err != nil {
		return nil, err
	}
	_ = s.audit.Append(dbc, []*types.AuditLog{{
		ID:         uuid.New(),
		LabID:      labID,
		Action:     "connection_activate",
		EntityType: "graph_connection",
		EntityID:   &connID,
	}})
	s.log.Info("Connection activated", "lab_id", labID, "connection_id", connID)
	return lab, nil
}

func (s *connectionService) Deactivate(ctx context.Context, labID, connID uuid.UUID, expectedRowVersion int64) (*types.GraphConnection, error) {
	conn, err := s.Get(ctx, labID, connID)
	if err != nil {
		return nil, err
	}
	if expectedRowVersion <= 0 {
		expectedRowVersion = conn.RowVersion
	}

	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: txx}
		ok, err := s.conns.UpdateFieldsWithVersion(txc, connID, expectedRowVersion, map[string]interface{}{
			"is_active": false,
		})
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Conflict("connection %s version %d is stale", connID, expectedRowVersion)
		}
		return txx.Model(&types.Lab{}).
			Where("id = ? AND active_connection_id = ?", labID, connID).
			Updates(map[string]interface{}{
				"active_connection_id": nil,
				"row_version":          gorm.Expr("row_version + 1"),
				"updated_at":           time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Connection deactivated", "lab_id", labID, "connection_id", connID)
	return s.Get(ctx, labID, connID)
}
