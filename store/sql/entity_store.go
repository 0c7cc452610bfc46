package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/trianglegrrl/dhyana/core"
)

// EntityStore persists synchronized platform records. All writes go
// through InTx so the synchronizer can apply a task atomically; the
// (kind, external_id) pair is unique at the schema level.
type EntityStore struct {
	db   *bun.DB
	repo repository.Repository[*entityRecord]
}

func NewEntityStore(db *bun.DB) (*EntityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*entityRecord](db, entityHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid entity repository wiring: %w", err)
		}
	}
	return &EntityStore{db: db, repo: repo}, nil
}

func (s *EntityStore) Get(ctx context.Context, kind core.EntityKind, externalID string) (core.EntityRecord, error) {
	if s == nil || s.db == nil {
		return core.EntityRecord{}, fmt.Errorf("sqlstore: entity store is not configured")
	}
	return getEntity(ctx, s.db, kind, externalID)
}

func (s *EntityStore) List(ctx context.Context, kind core.EntityKind, activeOnly bool, limit int) ([]core.EntityRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: entity store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	var records []entityRecord
	query := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.kind = ?", string(kind)).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(limit)
	if activeOnly {
		query = query.Where("?TableAlias.active = ?", true)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.EntityRecord, 0, len(records))
	for i := range records {
		out = append(out, entityToDomain(&records[i]))
	}
	return out, nil
}

func (s *EntityStore) InTx(ctx context.Context, fn func(ctx context.Context, tx core.EntityTx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: entity store is not configured")
	}
	if fn == nil {
		return fmt.Errorf("sqlstore: transaction function is required")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &entityTx{tx: tx})
	})
}

type entityTx struct {
	tx bun.Tx
}

func (t *entityTx) Get(ctx context.Context, kind core.EntityKind, externalID string) (core.EntityRecord, error) {
	return getEntity(ctx, t.tx, kind, externalID)
}

func (t *entityTx) Create(ctx context.Context, record core.EntityRecord) (core.EntityRecord, error) {
	if err := record.Validate(); err != nil {
		return core.EntityRecord{}, err
	}
	row := entityFromDomain(record)
	if strings.TrimSpace(row.ID) == "" {
		row.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	if _, err := t.tx.NewInsert().Model(row).Exec(ctx); err != nil {
		return core.EntityRecord{}, err
	}
	return entityToDomain(row), nil
}

func (t *entityTx) Update(ctx context.Context, record core.EntityRecord) (core.EntityRecord, error) {
	if err := record.Validate(); err != nil {
		return core.EntityRecord{}, err
	}
	if strings.TrimSpace(record.ID) == "" {
		return core.EntityRecord{}, fmt.Errorf("sqlstore: entity id is required for update")
	}
	row := entityFromDomain(record)
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	result, err := t.tx.NewUpdate().
		Model(row).
		Where("id = ?", row.ID).
		Exec(ctx)
	if err != nil {
		return core.EntityRecord{}, err
	}
	if affected, raErr := result.RowsAffected(); raErr == nil && affected == 0 {
		return core.EntityRecord{}, core.ErrEntityNotFound
	}
	return entityToDomain(row), nil
}

func getEntity(ctx context.Context, db bun.IDB, kind core.EntityKind, externalID string) (core.EntityRecord, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return core.EntityRecord{}, fmt.Errorf("sqlstore: external id is required")
	}
	record := &entityRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.kind = ?", string(kind)).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.EntityRecord{}, core.ErrEntityNotFound
		}
		return core.EntityRecord{}, err
	}
	return entityToDomain(record), nil
}

func entityToDomain(record *entityRecord) core.EntityRecord {
	if record == nil {
		return core.EntityRecord{}
	}
	return core.EntityRecord{
		ID:          record.ID,
		Kind:        core.EntityKind(record.Kind),
		ExternalID:  record.ExternalID,
		Fields:      copyAnyMap(record.Fields),
		Active:      record.Active,
		Provisional: record.Provisional,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func entityFromDomain(record core.EntityRecord) *entityRecord {
	return &entityRecord{
		ID:          strings.TrimSpace(record.ID),
		Kind:        string(record.Kind),
		ExternalID:  strings.TrimSpace(record.ExternalID),
		Fields:      copyAnyMap(record.Fields),
		Active:      record.Active,
		Provisional: record.Provisional,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

var _ core.EntityStore = (*EntityStore)(nil)
var _ core.EntityTx = (*entityTx)(nil)
