package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, delta int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// InboundRequest is the boundary between the hosting HTTP layer and the
// pipeline: headers and the raw, unmodified body of one webhook delivery.
type InboundRequest struct {
	Platform Platform
	Surface  string
	Headers  map[string]string
	Body     []byte
	Metadata map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Body       []byte
	Metadata   map[string]any
}

type InboundHandler interface {
	Handle(ctx context.Context, req InboundRequest) (InboundResult, error)
}

// EntityTx is the slice of entity operations available inside one
// synchronizer transaction.
type EntityTx interface {
	Get(ctx context.Context, kind EntityKind, externalID string) (EntityRecord, error)
	Create(ctx context.Context, record EntityRecord) (EntityRecord, error)
	Update(ctx context.Context, record EntityRecord) (EntityRecord, error)
}

type EntityStore interface {
	Get(ctx context.Context, kind EntityKind, externalID string) (EntityRecord, error)
	List(ctx context.Context, kind EntityKind, activeOnly bool, limit int) ([]EntityRecord, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx EntityTx) error) error
}

type TaskStore interface {
	Enqueue(ctx context.Context, task SyncTask) (SyncTask, error)
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]SyncTask, error)
	MarkSucceeded(ctx context.Context, id string, now time.Time) error
	MarkRetry(ctx context.Context, id string, nextAttemptAt time.Time, reason string, now time.Time) error
	MarkDeadLettered(ctx context.Context, id string, reason string, now time.Time) error
	Requeue(ctx context.Context, id string, now time.Time) error
	ReclaimStale(ctx context.Context, olderThan time.Time, now time.Time) (int, error)
	ListDeadLettered(ctx context.Context, limit int) ([]SyncTask, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	Metadata             map[string]any
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type RateLimitKey struct {
	ProviderID string
	ScopeType  string
	ScopeID    string
	BucketKey  string
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

// ChangeNotifier receives entity changes after the owning transaction
// commits.
type ChangeNotifier interface {
	Notify(ctx context.Context, change EntityChange) error
}
