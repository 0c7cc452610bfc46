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

	"github.com/trianglegrrl/dhyana/notify"
)

// DispatchStore backs the notification forwarder's idempotency ledger.
// dispatch_key is unique; a sent row blocks every later claim for the
// same change, pending and released rows stay claimable so retried
// tasks can finish an interrupted send.
type DispatchStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationDispatchRecord]
}

func NewDispatchStore(db *bun.DB) (*DispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*notificationDispatchRecord](db, notificationDispatchHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid notification dispatch repository wiring: %w", err)
		}
	}
	return &DispatchStore{db: db, repo: repo}, nil
}

func (s *DispatchStore) Claim(ctx context.Context, key string) (notify.DispatchRecord, bool, error) {
	if s == nil || s.db == nil {
		return notify.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return notify.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch key is required")
	}

	now := time.Now().UTC()
	record := &notificationDispatchRecord{
		ID:          uuid.NewString(),
		DispatchKey: key,
		Status:      notify.DispatchStatusPending,
		Attempts:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.reclaim(ctx, key)
		}
		return notify.DispatchRecord{}, false, err
	}
	return dispatchToDomain(record), true, nil
}

func (s *DispatchStore) reclaim(ctx context.Context, key string) (notify.DispatchRecord, bool, error) {
	record := &notificationDispatchRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.dispatch_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notify.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch %q vanished during claim", key)
		}
		return notify.DispatchRecord{}, false, err
	}
	if record.Status == notify.DispatchStatusSent {
		return dispatchToDomain(record), false, nil
	}

	now := time.Now().UTC()
	_, err = s.db.NewUpdate().
		Model((*notificationDispatchRecord)(nil)).
		Set("status = ?", notify.DispatchStatusPending).
		Set("attempts = attempts + 1").
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Exec(ctx)
	if err != nil {
		return notify.DispatchRecord{}, false, err
	}
	record.Status = notify.DispatchStatusPending
	record.Attempts++
	record.UpdatedAt = now
	return dispatchToDomain(record), true, nil
}

func (s *DispatchStore) Complete(ctx context.Context, id string, messageTS string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dispatch id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*notificationDispatchRecord)(nil)).
		Set("status = ?", notify.DispatchStatusSent).
		Set("message_ts = ?", strings.TrimSpace(messageTS)).
		Set("last_error = ?", "").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, raErr := result.RowsAffected(); raErr == nil && affected == 0 {
		return fmt.Errorf("sqlstore: dispatch %q not found", id)
	}
	return nil
}

func (s *DispatchStore) Release(ctx context.Context, id string, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: dispatch id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*notificationDispatchRecord)(nil)).
		Set("status = ?", notify.DispatchStatusReleased).
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status = ?", notify.DispatchStatusPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, raErr := result.RowsAffected(); raErr == nil && affected == 0 {
		return fmt.Errorf("sqlstore: dispatch %q not found or not pending", id)
	}
	return nil
}

func dispatchToDomain(record *notificationDispatchRecord) notify.DispatchRecord {
	if record == nil {
		return notify.DispatchRecord{}
	}
	return notify.DispatchRecord{
		ID:        record.ID,
		Key:       record.DispatchKey,
		Status:    record.Status,
		MessageTS: record.MessageTS,
		Attempts:  record.Attempts,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

var _ notify.DispatchLedger = (*DispatchStore)(nil)
