package queue

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/trianglegrrl/dhyana/core"
)

// TaskHandler executes one claimed task. Implementations are the
// synchronizer (optionally wrapped with enrichment and notification
// steps).
type TaskHandler interface {
	Handle(ctx context.Context, task core.SyncTask) error
}

type TaskHandlerFunc func(ctx context.Context, task core.SyncTask) error

func (f TaskHandlerFunc) Handle(ctx context.Context, task core.SyncTask) error {
	return f(ctx, task)
}

type DispatcherConfig struct {
	Workers        int
	PollInterval   time.Duration
	ClaimBatchSize int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
	LeaseTimeout   time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        4,
		PollInterval:   time.Second,
		ClaimBatchSize: 16,
		BackoffBase:    2 * time.Second,
		BackoffMax:     5 * time.Minute,
		MaxAttempts:    5,
		LeaseTimeout:   2 * time.Minute,
	}
}

type DispatchStats struct {
	Claimed      int
	Succeeded    int
	Retried      int
	DeadLettered int
}

// Dispatcher drains the task store with a pool of partitioned workers.
// Tasks sharing a partition key land on the same worker, so same-key
// tasks are applied serially while different keys run in parallel.
type Dispatcher struct {
	store   core.TaskStore
	handler TaskHandler
	config  DispatcherConfig
	logger  core.Logger
	metrics core.MetricsRecorder
	now     func() time.Time

	wake chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger core.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithDispatcherMetrics(metrics core.MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = metrics }
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func NewDispatcher(store core.TaskStore, handler TaskHandler, config DispatcherConfig, options ...DispatcherOption) (*Dispatcher, error) {
	if store == nil {
		return nil, goerrors.New("queue: task store is required", goerrors.CategoryBadInput)
	}
	if handler == nil {
		return nil, goerrors.New("queue: task handler is required", goerrors.CategoryBadInput)
	}
	defaults := DefaultDispatcherConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.ClaimBatchSize <= 0 {
		config.ClaimBatchSize = defaults.ClaimBatchSize
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = defaults.BackoffBase
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = defaults.BackoffMax
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = defaults.LeaseTimeout
	}
	dispatcher := &Dispatcher{
		store:   store,
		handler: handler,
		config:  config,
		now:     func() time.Time { return time.Now().UTC() },
		wake:    make(chan struct{}, 1),
	}
	for _, option := range options {
		if option != nil {
			option(dispatcher)
		}
	}
	return dispatcher, nil
}

// Enqueue persists the task and nudges the poll loop. It satisfies
// the router's enqueuer contract so webhook handlers feed the queue
// directly.
func (d *Dispatcher) Enqueue(ctx context.Context, task core.SyncTask) (core.SyncTask, error) {
	stored, err := d.store.Enqueue(ctx, task)
	if err != nil {
		return core.SyncTask{}, err
	}
	d.Wake()
	return stored, nil
}

func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start launches the poll loop and workers. Stop drains them.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return goerrors.New("queue: dispatcher already started", goerrors.CategoryConflict)
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.stopped = make(chan struct{})

	partitions := make([]chan core.SyncTask, d.config.Workers)
	var workers sync.WaitGroup
	for i := range partitions {
		partitions[i] = make(chan core.SyncTask, d.config.ClaimBatchSize)
		workers.Add(1)
		go func(tasks <-chan core.SyncTask) {
			defer workers.Done()
			for task := range tasks {
				d.processTask(runCtx, task)
			}
		}(partitions[i])
	}

	go func() {
		defer close(d.stopped)
		defer func() {
			for _, partition := range partitions {
				close(partition)
			}
			workers.Wait()
		}()
		ticker := time.NewTicker(d.config.PollInterval)
		defer ticker.Stop()
		for {
			d.pollOnce(runCtx, partitions)
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
			case <-d.wake:
			}
		}
	}()
	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, stopped := d.cancel, d.stopped
	d.cancel, d.stopped = nil, nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (d *Dispatcher) pollOnce(ctx context.Context, partitions []chan core.SyncTask) {
	if ctx.Err() != nil {
		return
	}
	now := d.now()
	if reclaimed, err := d.store.ReclaimStale(ctx, now.Add(-d.config.LeaseTimeout), now); err != nil {
		core.LogError(ctx, d.logger, "reclaim stale tasks", map[string]any{"error": err.Error()})
	} else if reclaimed > 0 {
		core.RecordCounter(ctx, d.metrics, "queue.task_reclaimed", int64(reclaimed), nil)
	}

	tasks, err := d.store.ClaimDue(ctx, now, d.config.ClaimBatchSize)
	if err != nil {
		core.LogError(ctx, d.logger, "claim due tasks", map[string]any{"error": err.Error()})
		return
	}
	for _, task := range tasks {
		index := partitionIndex(task.PartitionKey(), len(partitions))
		select {
		case partitions[index] <- task:
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce claims and processes one batch synchronously. Tasks apply
// in claim order, which preserves per-key ordering within the batch.
func (d *Dispatcher) RunOnce(ctx context.Context) (DispatchStats, error) {
	now := d.now()
	if _, err := d.store.ReclaimStale(ctx, now.Add(-d.config.LeaseTimeout), now); err != nil {
		return DispatchStats{}, err
	}
	tasks, err := d.store.ClaimDue(ctx, now, d.config.ClaimBatchSize)
	if err != nil {
		return DispatchStats{}, err
	}
	stats := DispatchStats{Claimed: len(tasks)}
	for _, task := range tasks {
		switch d.processTask(ctx, task) {
		case taskOutcomeSucceeded:
			stats.Succeeded++
		case taskOutcomeRetried:
			stats.Retried++
		case taskOutcomeDeadLettered:
			stats.DeadLettered++
		}
	}
	return stats, nil
}

type taskOutcome int

const (
	taskOutcomeSucceeded taskOutcome = iota
	taskOutcomeRetried
	taskOutcomeDeadLettered
)

func (d *Dispatcher) processTask(ctx context.Context, task core.SyncTask) taskOutcome {
	err := d.handler.Handle(ctx, task)
	now := d.now()
	if err == nil {
		if ackErr := d.store.MarkSucceeded(ctx, task.ID, now); ackErr != nil {
			core.LogError(ctx, d.logger, "ack succeeded task", map[string]any{
				"task_id": task.ID,
				"error":   ackErr.Error(),
			})
		}
		core.RecordCounter(ctx, d.metrics, "queue.task_succeeded", 1, map[string]string{
			"entity_kind": string(task.Kind),
		})
		return taskOutcomeSucceeded
	}

	attempts := task.Attempts + 1
	if core.IsPermanent(err) || attempts >= d.config.MaxAttempts {
		if dlErr := d.store.MarkDeadLettered(ctx, task.ID, err.Error(), now); dlErr != nil {
			core.LogError(ctx, d.logger, "dead-letter task", map[string]any{
				"task_id": task.ID,
				"error":   dlErr.Error(),
			})
		}
		core.LogError(ctx, d.logger, "task dead-lettered", map[string]any{
			"task_id":     task.ID,
			"entity_kind": string(task.Kind),
			"external_id": task.ExternalID,
			"attempts":    attempts,
			"permanent":   core.IsPermanent(err),
			"error":       err.Error(),
		})
		core.RecordCounter(ctx, d.metrics, "queue.task_dead_lettered", 1, map[string]string{
			"entity_kind": string(task.Kind),
		})
		return taskOutcomeDeadLettered
	}

	nextAttemptAt := now.Add(d.backoffDelay(task.Attempts))
	if retryErr := d.store.MarkRetry(ctx, task.ID, nextAttemptAt, err.Error(), now); retryErr != nil {
		core.LogError(ctx, d.logger, "schedule task retry", map[string]any{
			"task_id": task.ID,
			"error":   retryErr.Error(),
		})
	}
	core.LogInfo(ctx, d.logger, "task retry scheduled", map[string]any{
		"task_id":         task.ID,
		"entity_kind":     string(task.Kind),
		"external_id":     task.ExternalID,
		"attempts":        attempts,
		"next_attempt_at": nextAttemptAt.Format(time.RFC3339),
	})
	core.RecordCounter(ctx, d.metrics, "queue.task_retried", 1, map[string]string{
		"entity_kind": string(task.Kind),
	})
	return taskOutcomeRetried
}

func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := time.Duration(float64(d.config.BackoffBase) * math.Pow(2, float64(attempt)))
	if delay < 0 || delay > d.config.BackoffMax {
		return d.config.BackoffMax
	}
	return delay
}

func partitionIndex(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(key))
	return int(hasher.Sum32() % uint32(partitions))
}
