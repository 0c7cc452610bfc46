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
	"github.com/trianglegrrl/dhyana/webhooks"
)

// DeliveryStore is the webhook dedupe ledger. The (platform,
// delivery_id) pair is unique; only the payload sha256 digest is
// stored, never the payload itself.
type DeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookDeliveryRecord]
	now  func() time.Time
}

func NewDeliveryStore(db *bun.DB) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookDeliveryRecord](db, webhookDeliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook delivery repository wiring: %w", err)
		}
	}
	return &DeliveryStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the ledger clock; lease expiry tests use it.
func (s *DeliveryStore) WithClock(now func() time.Time) *DeliveryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *DeliveryStore) Claim(
	ctx context.Context,
	platform core.Platform,
	deliveryID string,
	payloadDigest string,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: delivery id is required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	now := s.now()
	leaseExpiry := now.Add(lease)
	record := &webhookDeliveryRecord{
		ID:             uuid.NewString(),
		Platform:       string(platform),
		DeliveryID:     deliveryID,
		PayloadDigest:  payloadDigest,
		ClaimID:        uuid.NewString(),
		Status:         webhooks.DeliveryStatusProcessing,
		Attempts:       1,
		LeaseExpiresAt: &leaseExpiry,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.reclaim(ctx, platform, deliveryID, lease)
		}
		return webhooks.DeliveryRecord{}, false, err
	}
	return deliveryToDomain(record), true, nil
}

// reclaim decides what to do with a delivery id the ledger has already
// seen: processed and dead rows stay settled, live claims within their
// lease dedupe, and retry-ready or expired claims are taken over with a
// fresh claim id.
func (s *DeliveryStore) reclaim(
	ctx context.Context,
	platform core.Platform,
	deliveryID string,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	record, err := s.get(ctx, platform, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}

	now := s.now()
	switch record.Status {
	case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
		return deliveryToDomain(record), false, nil
	case webhooks.DeliveryStatusProcessing:
		if record.LeaseExpiresAt != nil && now.Before(*record.LeaseExpiresAt) {
			return deliveryToDomain(record), false, nil
		}
	case webhooks.DeliveryStatusRetryReady:
		if record.NextAttemptAt != nil && now.Before(*record.NextAttemptAt) {
			return deliveryToDomain(record), false, nil
		}
	}

	claimID := uuid.NewString()
	leaseExpiry := now.Add(lease)
	result, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = attempts + 1").
		Set("lease_expires_at = ?", leaseExpiry).
		Set("updated_at = ?", now).
		Where("id = ?", record.ID).
		Where("claim_id = ?", record.ClaimID).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}
	if affected, raErr := result.RowsAffected(); raErr == nil && affected == 0 {
		// Another worker took the claim between our read and write.
		fresh, getErr := s.get(ctx, platform, deliveryID)
		if getErr != nil {
			return webhooks.DeliveryRecord{}, false, getErr
		}
		return deliveryToDomain(fresh), false, nil
	}

	record.ClaimID = claimID
	record.Status = webhooks.DeliveryStatusProcessing
	record.Attempts++
	record.LeaseExpiresAt = &leaseExpiry
	record.UpdatedAt = now
	return deliveryToDomain(record), true, nil
}

func (s *DeliveryStore) Get(ctx context.Context, platform core.Platform, deliveryID string) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record, err := s.get(ctx, platform, deliveryID)
	if err != nil {
		return webhooks.DeliveryRecord{}, err
	}
	return deliveryToDomain(record), nil
}

func (s *DeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("next_attempt_at = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Exec(ctx)
	return err
}

func (s *DeliveryStore) Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return fmt.Errorf("sqlstore: claim id is required")
	}
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.claim_id = ?", claimID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("sqlstore: delivery claim %q not found", claimID)
		}
		return err
	}

	now := s.now()
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		_, err = s.db.NewUpdate().
			Model((*webhookDeliveryRecord)(nil)).
			Set("status = ?", webhooks.DeliveryStatusDead).
			Set("next_attempt_at = NULL").
			Set("lease_expires_at = NULL").
			Set("updated_at = ?", now).
			Where("claim_id = ?", claimID).
			Exec(ctx)
		return err
	}
	_, err = s.db.NewUpdate().
		Model((*webhookDeliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusRetryReady).
		Set("next_attempt_at = ?", nextAttemptAt.UTC()).
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", now).
		Where("claim_id = ?", claimID).
		Exec(ctx)
	return err
}

// PurgeCompletedBefore deletes processed ledger rows last touched
// before cutoff. In-flight and retry-ready rows are kept so the dedupe
// gate and backoff state stay intact.
func (s *DeliveryStore) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*webhookDeliveryRecord)(nil)).
		Where("status = ?", webhooks.DeliveryStatusProcessed).
		Where("updated_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

func (s *DeliveryStore) get(ctx context.Context, platform core.Platform, deliveryID string) (*webhookDeliveryRecord, error) {
	record := &webhookDeliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.platform = ?", string(platform)).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf(
				"sqlstore: webhook delivery not found for platform %q delivery %q",
				platform,
				deliveryID,
			)
		}
		return nil, err
	}
	return record, nil
}

func deliveryToDomain(record *webhookDeliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	return webhooks.DeliveryRecord{
		ID:            record.ID,
		ClaimID:       record.ClaimID,
		Platform:      core.Platform(record.Platform),
		DeliveryID:    record.DeliveryID,
		Status:        record.Status,
		Attempts:      record.Attempts,
		NextAttemptAt: copyTimePointer(record.NextAttemptAt),
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

var _ webhooks.DeliveryLedger = (*DeliveryStore)(nil)
