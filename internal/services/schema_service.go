package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/labgraph/labgraph-backend/internal/data/repos"
	types "github.com/labgraph/labgraph-backend/internal/domain"
	"github.com/labgraph/labgraph-backend/internal/kg/schemadef"
	"github.com/labgraph/labgraph-backend/internal/pkg/apperr"
	"github.com/labgraph/labgraph-backend/internal/pkg/dbctx"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
)

// SchemaDiff is the API-facing shape of a version comparison.
type SchemaDiff struct {
	FromVersion int               `json:"from_version"`
	ToVersion   int               `json:"to_version"`
	Changes     []schemadef.Change `json:"changes"`
	Unsafe      bool              `json:"unsafe"`
}

type SchemaService interface {
	// CreateDraft registers the next schema version for a lab. The definition
	// must validate; versions are assigned max+1 and never reused, including
	// across deletes.
	CreateDraft(ctx context.Context, labID uuid.UUID, definition map[string]any, description string) (*types.KgSchema, error)
	Get(ctx context.Context, labID, schemaID uuid.UUID) (*types.KgSchema, error)
	List(ctx context.Context, labID uuid.UUID) ([]*types.KgSchema, error)
	// Validate re-checks a stored version and returns all violations.
	Validate(ctx context.Context, labID, schemaID uuid.UUID) ([]schemadef.Violation, error)
	// Diff compares two stored versions of the same lab.
	Diff(ctx context.Context, labID uuid.UUID, fromVersion, toVersion int) (*SchemaDiff, error)
	// Activate swaps the lab's active schema version through the
	// single-winner activation protocol.
	Activate(ctx context.Context, labID, schemaID uuid.UUID, expectedRowVersion int64) (*types.Lab, error)
}

type schemaService struct {
	db      *gorm.DB
	log     *logger.Logger
	labs    repos.LabRepo
	schemas repos.KgSchemaRepo
	audit   repos.AuditLogRepo
	notify  JobNotifier
}

func NewSchemaService(db *gorm.DB, baseLog *logger.Logger, labs repos.LabRepo, schemas repos.KgSchemaRepo, audit repos.AuditLogRepo, notify JobNotifier) SchemaService {
	return &schemaService{
		db:      db,
		log:     baseLog.With("service", "SchemaService"),
		labs:    labs,
		schemas: schemas,
		audit:   audit,
		notify:  notify,
	}
}

func (s *schemaService) CreateDraft(ctx context.Context, labID uuid.UUID, definition map[string]any, description string) (*types.KgSchema, error) {
	dbc := dbctx.Context{Ctx: ctx}

	lab, err := s.labs.GetByID(dbc, labID)
	if err != nil {
		return nil, err
	}
	if lab == nil {
		return nil, apperr.NotFound("lab %s not found", labID)
	}

	raw, err := json.Marshal(definition)
	if err != nil {
		return nil, apperr.Validation("definition is not serializable")
	}
	def, err := schemadef.Parse(raw)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if violations := def.Validate(); len(violations) > 0 {
		msgs := make([]string, len(violations))
		for i, v := range violations {
			msgs[i] = v.Field + ": " + v.Msg
		}
		return nil, apperr.Validation("schema definition is invalid", msgs...)
	}

	// Version assignment races resolve at the unique (lab, version) index;
	// the loser simply retries against the bumped max.
	var created *types.KgSchema
	err = s.db.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		txc := dbctx.Context{Ctx: ctx, Tx: txx}
		maxVersion, err := s.schemas.MaxVersion(txc, labID)
		if err != nil {
			return err
		}
		row := &types.KgSchema{
			ID:          uuid.New(),
			LabID:       labID,
			Version:     maxVersion + 1,
			Definition:  datatypes.JSON(raw),
			Description: description,
		}
		if _, err := s.schemas.Create(txc, []*types.KgSchema{row}); err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Schema draft created", "lab_id", labID, "schema_id", created.ID, "version", created.Version)
	return created, nil
}

func (s *schemaService) Get(ctx context.Context, labID, schemaID uuid.UUID) (*types.KgSchema, error) {
	row, err := s.schemas.GetByID(dbctx.Context{Ctx: ctx}, schemaID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.LabID != labID {
		return nil, apperr.NotFound("schema %s not found", schemaID)
	}
	return row, nil
}

func (s *schemaService) List(ctx context.Context, labID uuid.UUID) ([]*types.KgSchema, error) {
	return s.schemas.ListByLab(dbctx.Context{Ctx: ctx}, labID)
}

func (s *schemaService) Validate(ctx context.Context, labID, schemaID uuid.UUID) ([]schemadef.Violation, error) {
	row, err := s.Get(ctx, labID, schemaID)
	if err != nil {
		return nil, err
	}
	def, err := schemadef.Parse(row.Definition)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	return def.Validate(), nil
}

func (s *schemaService) Diff(ctx context.Context, labID uuid.UUID, fromVersion, toVersion int) (*SchemaDiff, error) {
	dbc := dbctx.Context{Ctx: ctx}
	fromRow, err := s.schemas.GetByLabAndVersion(dbc, labID, fromVersion)
	if err != nil {
		return nil, err
	}
	if fromRow == nil {
		return nil, apperr.NotFound("schema version %d not found for lab %s", fromVersion, labID)
	}
	toRow, err := s.schemas.GetByLabAndVersion(dbc, labID, toVersion)
	if err != nil {
		return nil, err
	}
	if toRow == nil {
		return nil, apperr.NotFound("schema version %d not found for lab %s", toVersion, labID)
	}

	fromDef, err := schemadef.Parse(fromRow.Definition)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	toDef, err := schemadef.Parse(toRow.Definition)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	changes := schemadef.Diff(fromDef, toDef)
	return &SchemaDiff{
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Changes:     changes,
		Unsafe:      schemadef.HasUnsafe(changes),
	}, nil
}

func (s *schemaService) Activate(ctx context.Context, labID, schemaID uuid.UUID, expectedRowVersion int64) (*types.Lab, error) {
	dbc := dbctx.Context{Ctx: ctx}
	lab, err := s.labs.ActivateSchema(dbc, labID, schemaID, expectedRowVersion)
	if err != nil {
		return nil, err
	}
	row, err := s.schemas.GetByID(dbc, schemaID)
	if err == nil && row != nil {
		s.notify.SchemaActivated(labID, schemaID, row.Version)
		_ = s.audit.Append(dbc, []*types.AuditLog{{
			ID:         uuid.New(),
			LabID:      labID,
			Action:     "schema_activate",
			EntityType: "kg_schema",
			EntityID:   &schemaID,
		}})
	}
	s.log.Info("Schema activated", "lab_id", labID, "schema_id", schemaID)
	return lab, nil
}
