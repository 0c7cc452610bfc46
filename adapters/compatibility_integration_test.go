package adapters_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/trianglegrrl/dhyana/adapters/gocommand"
	"github.com/trianglegrrl/dhyana/adapters/gojob"
	"github.com/trianglegrrl/dhyana/adapters/gologger"
	pipelinecommand "github.com/trianglegrrl/dhyana/command"
	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/query"
)

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	ctx := context.Background()

	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("pipeline", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	enqueueSink := &compatEnqueuer{}
	enqueueAdapter := gojob.NewEnqueuerAdapter(enqueueSink)
	if err := enqueueAdapter.Enqueue(ctx, &core.JobExecutionMessage{
		JobID:          gojob.JobIDTaskDispatch,
		ScriptPath:     "pipeline.tasks.dispatch",
		Parameters:     map[string]any{"batch_size": 16},
		IdempotencyKey: "idem-1",
		DedupPolicy:    "drop",
	}); err != nil {
		t.Fatalf("enqueue via gojob adapter: %v", err)
	}
	if enqueueSink.last == nil || enqueueSink.last.JobID != gojob.JobIDTaskDispatch {
		t.Fatalf("expected go-job message mapping through enqueuer adapter")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := commandAdapter.RegisterCommand(command.CommandFunc[compatMessage](func(context.Context, compatMessage) error {
		return nil
	})); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get("pipeline.compat.command"); !ok {
		t.Fatalf("expected command resolver hook to mirror command into go-job queue registry")
	}
}

func TestRuntimeCompatibility_CommandAndQueryDispatchThroughWrappers(t *testing.T) {
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())

	requeuer := &compatRequeuer{}
	requeueSub, err := gocommand.RegisterAndSubscribe(adapter, pipelinecommand.NewRequeueTaskCommand(requeuer))
	if err != nil {
		t.Fatalf("register requeue wrapper: %v", err)
	}
	defer requeueSub.Unsubscribe()

	reader := &compatEntityReader{records: []core.EntityRecord{{
		Kind:       core.EntityKindClient,
		ExternalID: "C-1",
		Fields:     map[string]any{"name": "Acme Roofing"},
		Active:     true,
	}}}
	listSub, err := gocommand.RegisterAndSubscribeQuery(adapter, query.NewListEntitiesQuery(reader))
	if err != nil {
		t.Fatalf("register list entities wrapper: %v", err)
	}
	defer listSub.Unsubscribe()

	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize adapter: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), pipelinecommand.RequeueTaskMessage{
		TaskID: "task-0001",
	}); err != nil {
		t.Fatalf("dispatch requeue command: %v", err)
	}
	if requeuer.calls != 1 || requeuer.lastID != "task-0001" {
		t.Fatalf("expected requeue wrapper invocation, got calls=%d id=%q", requeuer.calls, requeuer.lastID)
	}

	records, err := gocommand.Query[query.ListEntitiesMessage, []core.EntityRecord](
		context.Background(),
		query.ListEntitiesMessage{Kind: "client", ActiveOnly: true, Limit: 5},
	)
	if err != nil {
		t.Fatalf("dispatch list entities query: %v", err)
	}
	if len(records) != 1 || records[0].ExternalID != "C-1" {
		t.Fatalf("expected entity listing through query wrapper, got %v", records)
	}
}

type compatMessage struct{}

func (compatMessage) Type() string { return "pipeline.compat.command" }

type compatEnqueuer struct {
	last *job.ExecutionMessage
}

func (e *compatEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.last = msg
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }

type compatRequeuer struct {
	calls  int
	lastID string
}

func (r *compatRequeuer) Requeue(_ context.Context, id string, _ time.Time) error {
	r.calls++
	r.lastID = id
	return nil
}

type compatEntityReader struct {
	records []core.EntityRecord
}

func (r *compatEntityReader) Get(_ context.Context, kind core.EntityKind, externalID string) (core.EntityRecord, error) {
	for _, record := range r.records {
		if record.Kind == kind && record.ExternalID == externalID {
			return record, nil
		}
	}
	return core.EntityRecord{}, core.ErrEntityNotFound
}

func (r *compatEntityReader) List(_ context.Context, kind core.EntityKind, activeOnly bool, limit int) ([]core.EntityRecord, error) {
	out := make([]core.EntityRecord, 0, len(r.records))
	for _, record := range r.records {
		if record.Kind != kind {
			continue
		}
		if activeOnly && !record.Active {
			continue
		}
		out = append(out, record)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
