package inbound

import (
	"context"
	"time"

	"github.com/trianglegrrl/dhyana/core"
)

// TaskEnqueuer is the slice of the task store the router needs.
// Wrappers that also wake the queue dispatcher satisfy it too.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task core.SyncTask) (core.SyncTask, error)
}

type SlashCommand struct {
	Command   string
	Text      string
	UserID    string
	ChannelID string
	TeamID    string
}

// CommandResponder answers slash commands with a text reply. Replies
// read local state only, so responding inline keeps the ack fast.
type CommandResponder interface {
	Respond(ctx context.Context, cmd SlashCommand) (string, error)
}

// Router classifies verified payloads by (platform, event kind) and
// enqueues the resulting sync tasks. It implements the processor's
// handler contract and always returns a fast acknowledgment.
type Router struct {
	tasks    TaskEnqueuer
	commands CommandResponder
	logger   core.Logger
	metrics  core.MetricsRecorder
	now      func() time.Time
}

type RouterOption func(*Router)

func WithCommandResponder(responder CommandResponder) RouterOption {
	return func(r *Router) { r.commands = responder }
}

func WithRouterLogger(logger core.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

func WithRouterMetrics(metrics core.MetricsRecorder) RouterOption {
	return func(r *Router) { r.metrics = metrics }
}

func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

func NewRouter(tasks TaskEnqueuer, options ...RouterOption) (*Router, error) {
	if tasks == nil {
		return nil, routerInternal("inbound: task enqueuer is required", nil)
	}
	router := &Router{
		tasks: tasks,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(router)
		}
	}
	return router, nil
}

func (r *Router) Handle(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	switch req.Platform {
	case core.PlatformSlack:
		return r.routeSlack(ctx, req)
	case core.PlatformJobber:
		return r.routeJobber(ctx, req)
	default:
		return core.InboundResult{}, routerInternal("inbound: unsupported platform "+string(req.Platform), nil)
	}
}

// enqueue persists the tasks a handler produced. A storage failure
// surfaces to the processor so the delivery is retried, not lost.
func (r *Router) enqueue(ctx context.Context, req core.InboundRequest, kind EventKind, tasks []core.SyncTask) (core.InboundResult, error) {
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			return r.observeMalformed(ctx, req, err.Error()), nil
		}
		stored, err := r.tasks.Enqueue(ctx, task)
		if err != nil {
			return core.InboundResult{}, routerInternal("inbound: enqueue sync task", err)
		}
		core.LogInfo(ctx, r.logger, "sync task enqueued", map[string]any{
			"task_id":     stored.ID,
			"entity_kind": string(stored.Kind),
			"external_id": stored.ExternalID,
			"op":          string(stored.Op),
		})
		core.RecordCounter(ctx, r.metrics, "router.task_enqueued", 1, map[string]string{
			"platform":    string(req.Platform),
			"entity_kind": string(task.Kind),
		})
	}
	return ackResult(map[string]any{
		"outcome":    "enqueued",
		"event_kind": string(kind),
		"tasks":      len(tasks),
	}), nil
}

var _ core.InboundHandler = (*Router)(nil)
