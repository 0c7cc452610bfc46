package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPlatform             = errors.New("core: invalid platform")
	ErrInvalidEntityKind           = errors.New("core: invalid entity kind")
	ErrInvalidTaskOp               = errors.New("core: invalid task operation")
	ErrInvalidTaskStatusTransition = errors.New("core: invalid task status transition")
	ErrEntityNotFound              = errors.New("core: entity not found")
	ErrTaskNotFound                = errors.New("core: task not found")
)

type Platform string

const (
	PlatformSlack  Platform = "slack"
	PlatformJobber Platform = "jobber"
)

func ParsePlatform(raw string) (Platform, error) {
	switch Platform(strings.TrimSpace(strings.ToLower(raw))) {
	case PlatformSlack:
		return PlatformSlack, nil
	case PlatformJobber:
		return PlatformJobber, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, raw)
	}
}

type EntityKind string

const (
	EntityKindTeam    EntityKind = "team"
	EntityKindUser    EntityKind = "user"
	EntityKindChannel EntityKind = "channel"
	EntityKindMessage EntityKind = "message"
	EntityKindClient  EntityKind = "client"
	EntityKindJob     EntityKind = "job"
	EntityKindInvoice EntityKind = "invoice"
)

func ParseEntityKind(raw string) (EntityKind, error) {
	kind := EntityKind(strings.TrimSpace(strings.ToLower(raw)))
	switch kind {
	case EntityKindTeam, EntityKindUser, EntityKindChannel, EntityKindMessage,
		EntityKindClient, EntityKindJob, EntityKindInvoice:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityKind, raw)
	}
}

func (k EntityKind) Platform() Platform {
	switch k {
	case EntityKindClient, EntityKindJob, EntityKindInvoice:
		return PlatformJobber
	default:
		return PlatformSlack
	}
}

// ParentKinds reports which kinds a record of this kind references by
// external id. Child payloads carry thin pointers to these parents; the
// synchronizer materializes placeholders when a parent has not arrived.
func (k EntityKind) ParentKinds() []EntityKind {
	switch k {
	case EntityKindUser, EntityKindChannel:
		return []EntityKind{EntityKindTeam}
	case EntityKindMessage:
		return []EntityKind{EntityKindChannel, EntityKindUser}
	case EntityKindJob:
		return []EntityKind{EntityKindClient}
	case EntityKindInvoice:
		return []EntityKind{EntityKindClient, EntityKindJob}
	default:
		return nil
	}
}

type EntityRecord struct {
	ID          string
	Kind        EntityKind
	ExternalID  string
	Fields      map[string]any
	Active      bool
	Provisional bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r EntityRecord) Validate() error {
	if _, err := ParseEntityKind(string(r.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("%w: empty external id", ErrInvalidEntityKind)
	}
	return nil
}

// Clone returns a copy whose field map callers can mutate without
// aliasing store-owned state.
func (r EntityRecord) Clone() EntityRecord {
	cloned := r
	cloned.Fields = CloneFields(r.Fields)
	return cloned
}

func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		out[key] = value
	}
	return out
}

type TaskOp string

const (
	TaskOpUpsert TaskOp = "upsert"
	TaskOpDelete TaskOp = "delete"
)

func ParseTaskOp(raw string) (TaskOp, error) {
	switch TaskOp(strings.TrimSpace(strings.ToLower(raw))) {
	case TaskOpUpsert:
		return TaskOpUpsert, nil
	case TaskOpDelete:
		return TaskOpDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTaskOp, raw)
	}
}

type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusRunning      TaskStatus = "running"
	TaskStatusSucceeded    TaskStatus = "succeeded"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusDeadLettered TaskStatus = "dead_lettered"
)

// ParentRef is a thin pointer from a child payload to a parent entity.
// Field names the child field that carries the parent's external id.
type ParentRef struct {
	Kind       EntityKind
	ExternalID string
	Field      string
}

type SyncTask struct {
	ID            string
	Kind          EntityKind
	ExternalID    string
	Op            TaskOp
	Transition    string
	Fields        map[string]any
	ParentRefs    []ParentRef
	Attempts      int
	NextAttemptAt time.Time
	Status        TaskStatus
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PartitionKey identifies the serialization unit: tasks sharing it are
// processed in order, tasks with different keys may run concurrently.
func (t SyncTask) PartitionKey() string {
	return string(t.Kind) + ":" + t.ExternalID
}

func (t SyncTask) Validate() error {
	if _, err := ParseEntityKind(string(t.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(t.ExternalID) == "" {
		return fmt.Errorf("%w: empty external id", ErrInvalidEntityKind)
	}
	if _, err := ParseTaskOp(string(t.Op)); err != nil {
		return err
	}
	for _, ref := range t.ParentRefs {
		if _, err := ParseEntityKind(string(ref.Kind)); err != nil {
			return err
		}
		if strings.TrimSpace(ref.ExternalID) == "" {
			return fmt.Errorf("%w: parent ref %s has empty external id", ErrInvalidEntityKind, ref.Kind)
		}
	}
	return nil
}

func (t *SyncTask) TransitionTo(status TaskStatus, reason string, now time.Time) error {
	if t == nil {
		return nil
	}
	if t.Status == status {
		t.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			t.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !taskTransitionAllowed(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTaskStatusTransition, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		t.LastError = strings.TrimSpace(reason)
	}
	if status == TaskStatusSucceeded {
		t.LastError = ""
	}
	return nil
}

func taskTransitionAllowed(current, next TaskStatus) bool {
	allowed := map[TaskStatus]map[TaskStatus]struct{}{
		TaskStatusPending: {
			TaskStatusRunning: {},
		},
		TaskStatusRunning: {
			TaskStatusSucceeded:    {},
			TaskStatusFailed:       {},
			TaskStatusPending:      {},
			TaskStatusDeadLettered: {},
		},
		TaskStatusFailed: {
			TaskStatusPending:      {},
			TaskStatusDeadLettered: {},
		},
		TaskStatusDeadLettered: {
			TaskStatusPending: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

type SyncOutcomeKind string

const (
	SyncOutcomeCreated  SyncOutcomeKind = "created"
	SyncOutcomeUpdated  SyncOutcomeKind = "updated"
	SyncOutcomeNoOp     SyncOutcomeKind = "noop"
	SyncOutcomeRejected SyncOutcomeKind = "rejected"
)

type SyncOutcome struct {
	Kind   SyncOutcomeKind
	Reason string
}

// EntityChange describes a state change the synchronizer produced. It is
// the feed for the notification forwarder.
type EntityChange struct {
	Kind       EntityKind
	ExternalID string
	Outcome    SyncOutcomeKind
	Transition string
	Fields     map[string]any
	OccurredAt time.Time
}
