package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/trianglegrrl/dhyana/core"
)

// TaskStore is the durable sync queue. ClaimDue flips pending rows to
// running inside one statement so concurrent dispatchers never claim
// the same task twice.
type TaskStore struct {
	db   *bun.DB
	repo repository.Repository[*syncTaskRecord]
}

func NewTaskStore(db *bun.DB) (*TaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncTaskRecord](db, syncTaskHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync task repository wiring: %w", err)
		}
	}
	return &TaskStore{db: db, repo: repo}, nil
}

func (s *TaskStore) Enqueue(ctx context.Context, task core.SyncTask) (core.SyncTask, error) {
	if s == nil || s.db == nil {
		return core.SyncTask{}, fmt.Errorf("sqlstore: task store is not configured")
	}
	if err := task.Validate(); err != nil {
		return core.SyncTask{}, err
	}
	now := time.Now().UTC()
	record := taskFromDomain(task)
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = string(core.TaskStatusPending)
	}
	if record.NextAttemptAt.IsZero() {
		record.NextAttemptAt = now
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.SyncTask{}, err
	}
	return taskToDomain(record), nil
}

func (s *TaskStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.SyncTask, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: task store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	var records []syncTaskRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM sync_tasks
	WHERE status = ?
	  AND next_attempt_at <= ?
	ORDER BY created_at ASC, id ASC
	LIMIT ?
)
UPDATE sync_tasks
SET status = ?, claimed_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	kind,
	external_id,
	op,
	transition,
	fields,
	parent_refs,
	attempts,
	next_attempt_at,
	status,
	last_error,
	claimed_at,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			string(core.TaskStatusPending),
			now,
			limit,
			string(core.TaskStatusRunning),
			now,
			now,
			string(core.TaskStatusPending),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]core.SyncTask, 0, len(records))
	for i := range records {
		tasks = append(tasks, taskToDomain(&records[i]))
	}
	return tasks, nil
}

func (s *TaskStore) MarkSucceeded(ctx context.Context, id string, now time.Time) error {
	return s.markTerminal(ctx, id, core.TaskStatusSucceeded, "", now)
}

func (s *TaskStore) MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, reason string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*syncTaskRecord)(nil)).
		Set("status = ?", string(core.TaskStatusPending)).
		Set("attempts = attempts + 1").
		Set("next_attempt_at = ?", nextAttemptAt.UTC()).
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("claimed_at = NULL").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		Where("status = ?", string(core.TaskStatusRunning)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

func (s *TaskStore) MarkDeadLettered(ctx context.Context, id string, reason string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*syncTaskRecord)(nil)).
		Set("status = ?", string(core.TaskStatusDeadLettered)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("claimed_at = NULL").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		Where("status IN (?, ?)", string(core.TaskStatusRunning), string(core.TaskStatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

// Requeue puts a dead-lettered task back on the queue with a fresh
// attempt budget.
func (s *TaskStore) Requeue(ctx context.Context, id string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*syncTaskRecord)(nil)).
		Set("status = ?", string(core.TaskStatusPending)).
		Set("attempts = 0").
		Set("next_attempt_at = ?", now.UTC()).
		Set("last_error = ?", "").
		Set("claimed_at = NULL").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		Where("status = ?", string(core.TaskStatusDeadLettered)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

// ReclaimStale returns running tasks whose claim predates olderThan to
// pending. Covers dispatchers that died mid-task.
func (s *TaskStore) ReclaimStale(ctx context.Context, olderThan time.Time, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: task store is not configured")
	}
	result, err := s.db.NewUpdate().
		Model((*syncTaskRecord)(nil)).
		Set("status = ?", string(core.TaskStatusPending)).
		Set("claimed_at = NULL").
		Set("next_attempt_at = ?", now.UTC()).
		Set("updated_at = ?", now.UTC()).
		Where("status = ?", string(core.TaskStatusRunning)).
		Where("claimed_at IS NOT NULL").
		Where("claimed_at < ?", olderThan.UTC()).
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

func (s *TaskStore) ListDeadLettered(ctx context.Context, limit int) ([]core.SyncTask, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: task store is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	var records []syncTaskRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.TaskStatusDeadLettered)).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]core.SyncTask, 0, len(records))
	for i := range records {
		tasks = append(tasks, taskToDomain(&records[i]))
	}
	return tasks, nil
}

func (s *TaskStore) markTerminal(ctx context.Context, id string, status core.TaskStatus, reason string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	result, err := s.db.NewUpdate().
		Model((*syncTaskRecord)(nil)).
		Set("status = ?", string(status)).
		Set("last_error = ?", strings.TrimSpace(reason)).
		Set("claimed_at = NULL").
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		Where("status = ?", string(core.TaskStatusRunning)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return fmt.Errorf("sqlstore: %w: %s", core.ErrTaskNotFound, id)
	}
	return nil
}

func taskFromDomain(task core.SyncTask) *syncTaskRecord {
	refs := make([]parentRef, 0, len(task.ParentRefs))
	for _, ref := range task.ParentRefs {
		refs = append(refs, parentRef{Kind: string(ref.Kind), ExternalID: ref.ExternalID, Field: ref.Field})
	}
	return &syncTaskRecord{
		ID:            strings.TrimSpace(task.ID),
		Kind:          string(task.Kind),
		ExternalID:    strings.TrimSpace(task.ExternalID),
		Op:            string(task.Op),
		Transition:    task.Transition,
		Fields:        copyAnyMap(task.Fields),
		ParentRefs:    refs,
		Attempts:      task.Attempts,
		NextAttemptAt: task.NextAttemptAt.UTC(),
		Status:        string(task.Status),
		LastError:     task.LastError,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}
}

func taskToDomain(record *syncTaskRecord) core.SyncTask {
	if record == nil {
		return core.SyncTask{}
	}
	refs := make([]core.ParentRef, 0, len(record.ParentRefs))
	for _, ref := range record.ParentRefs {
		refs = append(refs, core.ParentRef{Kind: core.EntityKind(ref.Kind), ExternalID: ref.ExternalID, Field: ref.Field})
	}
	return core.SyncTask{
		ID:            record.ID,
		Kind:          core.EntityKind(record.Kind),
		ExternalID:    record.ExternalID,
		Op:            core.TaskOp(record.Op),
		Transition:    record.Transition,
		Fields:        copyAnyMap(record.Fields),
		ParentRefs:    refs,
		Attempts:      record.Attempts,
		NextAttemptAt: record.NextAttemptAt,
		Status:        core.TaskStatus(record.Status),
		LastError:     record.LastError,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

var _ core.TaskStore = (*TaskStore)(nil)
