// Package sync applies sync tasks to the entity store. Every apply is
// one transaction: parent placeholders, the entity write, nothing
// partially visible. Re-applying any task is safe, which is what makes
// the queue's at-least-once delivery acceptable.
package sync

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/trianglegrrl/dhyana/core"
)

type Applier struct {
	entities core.EntityStore
	notifier core.ChangeNotifier
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
	newID    func() string
}

type ApplierOption func(*Applier)

func WithNotifier(notifier core.ChangeNotifier) ApplierOption {
	return func(a *Applier) { a.notifier = notifier }
}

func WithApplierLogger(logger core.Logger) ApplierOption {
	return func(a *Applier) { a.logger = logger }
}

func WithApplierMetrics(metrics core.MetricsRecorder) ApplierOption {
	return func(a *Applier) { a.metrics = metrics }
}

func WithApplierClock(now func() time.Time) ApplierOption {
	return func(a *Applier) { a.now = now }
}

func NewApplier(entities core.EntityStore, options ...ApplierOption) (*Applier, error) {
	if entities == nil {
		return nil, goerrors.New("sync: entity store is required", goerrors.CategoryBadInput)
	}
	applier := &Applier{
		entities: entities,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(applier)
		}
	}
	return applier, nil
}

// Apply runs one task inside a single entity-store transaction and
// reports what happened. Validation failures are permanent: the
// dispatcher dead-letters them instead of burning retries.
func (a *Applier) Apply(ctx context.Context, task core.SyncTask) (core.SyncOutcome, error) {
	if err := task.Validate(); err != nil {
		return core.SyncOutcome{Kind: core.SyncOutcomeRejected, Reason: err.Error()},
			goerrors.Wrap(err, goerrors.CategoryValidation, "sync: task failed validation").
				WithCode(http.StatusUnprocessableEntity).
				WithTextCode(core.PipelineErrorBadInput)
	}

	var (
		outcome  core.SyncOutcome
		snapshot map[string]any
	)
	err := a.entities.InTx(ctx, func(ctx context.Context, tx core.EntityTx) error {
		var txErr error
		switch task.Op {
		case core.TaskOpDelete:
			outcome, snapshot, txErr = a.applyDelete(ctx, tx, task)
		default:
			outcome, snapshot, txErr = a.applyUpsert(ctx, tx, task)
		}
		return txErr
	})
	if err != nil {
		return core.SyncOutcome{}, err
	}

	core.RecordCounter(ctx, a.metrics, "sync.outcome", 1, map[string]string{
		"entity_kind": string(task.Kind),
		"outcome":     string(outcome.Kind),
	})
	core.LogInfo(ctx, a.logger, "sync task applied", map[string]any{
		"entity_kind": string(task.Kind),
		"external_id": task.ExternalID,
		"op":          string(task.Op),
		"outcome":     string(outcome.Kind),
	})

	// The notification step runs after the transaction commits. A NoOp
	// still announces: a retried task whose first run committed but
	// whose notification failed would otherwise never announce at all.
	// The forwarder's dispatch ledger keeps duplicates from sending.
	if a.notifier != nil && task.Transition != "" && outcome.Kind != core.SyncOutcomeRejected {
		change := core.EntityChange{
			Kind:       task.Kind,
			ExternalID: task.ExternalID,
			Outcome:    outcome.Kind,
			Transition: task.Transition,
			Fields:     snapshot,
			OccurredAt: a.now(),
		}
		if err := a.notifier.Notify(ctx, change); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

func (a *Applier) applyUpsert(ctx context.Context, tx core.EntityTx, task core.SyncTask) (core.SyncOutcome, map[string]any, error) {
	now := a.now()
	for _, ref := range task.ParentRefs {
		if err := a.ensureParent(ctx, tx, ref, now); err != nil {
			return core.SyncOutcome{}, nil, err
		}
	}

	existing, err := tx.Get(ctx, task.Kind, task.ExternalID)
	if errors.Is(err, core.ErrEntityNotFound) {
		record := core.EntityRecord{
			ID:         a.newID(),
			Kind:       task.Kind,
			ExternalID: task.ExternalID,
			Fields:     core.CloneFields(task.Fields),
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if record.Fields == nil {
			record.Fields = map[string]any{}
		}
		created, err := tx.Create(ctx, record)
		if err != nil {
			return core.SyncOutcome{}, nil, err
		}
		return core.SyncOutcome{Kind: core.SyncOutcomeCreated}, created.Fields, nil
	}
	if err != nil {
		return core.SyncOutcome{}, nil, err
	}

	merged := mergeFields(existing.Fields, task.Fields)
	unchanged := reflect.DeepEqual(merged, existing.Fields) &&
		!existing.Provisional &&
		existing.Active
	if unchanged {
		return core.SyncOutcome{Kind: core.SyncOutcomeNoOp}, existing.Fields, nil
	}

	updated := existing.Clone()
	updated.Fields = merged
	updated.Active = true
	updated.Provisional = false
	updated.UpdatedAt = now
	persisted, err := tx.Update(ctx, updated)
	if err != nil {
		return core.SyncOutcome{}, nil, err
	}
	return core.SyncOutcome{Kind: core.SyncOutcomeUpdated}, persisted.Fields, nil
}

func (a *Applier) applyDelete(ctx context.Context, tx core.EntityTx, task core.SyncTask) (core.SyncOutcome, map[string]any, error) {
	now := a.now()
	existing, err := tx.Get(ctx, task.Kind, task.ExternalID)
	if errors.Is(err, core.ErrEntityNotFound) {
		// A delete for an entity never seen still claims the external
		// id, so replays and late child refs stay addressable.
		record := core.EntityRecord{
			ID:          a.newID(),
			Kind:        task.Kind,
			ExternalID:  task.ExternalID,
			Fields:      map[string]any{},
			Active:      false,
			Provisional: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		created, err := tx.Create(ctx, record)
		if err != nil {
			return core.SyncOutcome{}, nil, err
		}
		return core.SyncOutcome{Kind: core.SyncOutcomeUpdated, Reason: "soft_deleted"}, created.Fields, nil
	}
	if err != nil {
		return core.SyncOutcome{}, nil, err
	}
	if !existing.Active {
		return core.SyncOutcome{Kind: core.SyncOutcomeNoOp}, existing.Fields, nil
	}

	updated := existing.Clone()
	updated.Active = false
	updated.UpdatedAt = now
	persisted, err := tx.Update(ctx, updated)
	if err != nil {
		return core.SyncOutcome{}, nil, err
	}
	return core.SyncOutcome{Kind: core.SyncOutcomeUpdated, Reason: "soft_deleted"}, persisted.Fields, nil
}

func (a *Applier) ensureParent(ctx context.Context, tx core.EntityTx, ref core.ParentRef, now time.Time) error {
	_, err := tx.Get(ctx, ref.Kind, ref.ExternalID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, core.ErrEntityNotFound) {
		return err
	}
	placeholder := core.EntityRecord{
		ID:          a.newID(),
		Kind:        ref.Kind,
		ExternalID:  ref.ExternalID,
		Fields:      map[string]any{},
		Active:      true,
		Provisional: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.Create(ctx, placeholder); err != nil {
		return err
	}
	core.RecordCounter(ctx, a.metrics, "sync.provisional_parent", 1, map[string]string{
		"entity_kind": string(ref.Kind),
	})
	return nil
}

// mergeFields lays incoming values over existing ones. Nil incoming
// values and absent keys leave the existing value alone, so a partial
// payload never blanks unrelated fields.
func mergeFields(existing, incoming map[string]any) map[string]any {
	merged := core.CloneFields(existing)
	if merged == nil {
		merged = map[string]any{}
	}
	for key, value := range incoming {
		if value == nil {
			continue
		}
		merged[key] = value
	}
	return merged
}
