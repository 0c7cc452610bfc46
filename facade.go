package dhyana

import (
	"context"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/trianglegrrl/dhyana/adapters/gocommand"
	"github.com/trianglegrrl/dhyana/adapters/gojob"
	"github.com/trianglegrrl/dhyana/adapters/gologger"
	"github.com/trianglegrrl/dhyana/command"
	"github.com/trianglegrrl/dhyana/core"
	"github.com/trianglegrrl/dhyana/inbound"
	"github.com/trianglegrrl/dhyana/notify"
	"github.com/trianglegrrl/dhyana/providers/jobber"
	"github.com/trianglegrrl/dhyana/providers/slack"
	"github.com/trianglegrrl/dhyana/query"
	"github.com/trianglegrrl/dhyana/queue"
	"github.com/trianglegrrl/dhyana/ratelimit"
	sqlstore "github.com/trianglegrrl/dhyana/store/sql"
	pipelinesync "github.com/trianglegrrl/dhyana/sync"
	"github.com/trianglegrrl/dhyana/transport"
	"github.com/trianglegrrl/dhyana/webhooks"
)

// Stores groups the persistence surfaces the pipeline needs. Any nil
// field is filled from the persistence client via the SQL store
// factory; tests can inject in-memory stand-ins per field.
type Stores struct {
	Entities   core.EntityStore
	Tasks      core.TaskStore
	Deliveries webhooks.DeliveryLedger
	Dispatches notify.DispatchLedger
	RateLimits ratelimit.StateStore
}

func (s Stores) complete() bool {
	return s.Entities != nil && s.Tasks != nil && s.Deliveries != nil && s.Dispatches != nil && s.RateLimits != nil
}

type Commands struct {
	RequeueTask *command.RequeueTaskCommand
}

type Queries struct {
	ListEntities     *query.ListEntitiesQuery
	GetEntity        *query.GetEntityQuery
	ListDeadLettered *query.ListDeadLetteredQuery
}

// Pipeline is the assembled ingestion path: webhook processors in
// front, the inbound router and task queue in the middle, the sync
// applier plus the notification forwarder at the back. Everything is
// wired once from a Config and a persistence client.
type Pipeline struct {
	cfg     core.Config
	logger  core.Logger
	metrics core.MetricsRecorder

	stores     Stores
	processors map[core.Platform]*webhooks.Processor
	router     *inbound.Router
	dispatcher *queue.Dispatcher
	applier    *pipelinesync.Applier
	forwarder  *notify.Forwarder
	responder  *command.Responder

	slackClient  *slack.Client
	jobberClient *jobber.Client

	commands Commands
	queries  Queries

	jobEnqueuer core.JobEnqueuer
	now         func() time.Time
}

type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	logger            core.Logger
	provider          core.LoggerProvider
	metrics           core.MetricsRecorder
	persistenceClient any
	stores            Stores
	slackTransport    core.TransportAdapter
	jobberTransport   core.TransportAdapter
	rateLimitCache    repositorycache.CacheService
	hooks             *ExtensionHooks
	jobEnqueuer       core.JobEnqueuer
	now               func() time.Time
}

func WithLogger(logger core.Logger) PipelineOption {
	return func(o *pipelineOptions) { o.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) PipelineOption {
	return func(o *pipelineOptions) { o.provider = provider }
}

func WithMetrics(metrics core.MetricsRecorder) PipelineOption {
	return func(o *pipelineOptions) { o.metrics = metrics }
}

// WithPersistenceClient accepts a go-persistence-bun client (or a bare
// *bun.DB) and builds every missing store from it.
func WithPersistenceClient(client any) PipelineOption {
	return func(o *pipelineOptions) { o.persistenceClient = client }
}

func WithStores(stores Stores) PipelineOption {
	return func(o *pipelineOptions) { o.stores = stores }
}

func WithSlackTransport(adapter core.TransportAdapter) PipelineOption {
	return func(o *pipelineOptions) { o.slackTransport = adapter }
}

func WithJobberTransport(adapter core.TransportAdapter) PipelineOption {
	return func(o *pipelineOptions) { o.jobberTransport = adapter }
}

// WithRateLimitCache layers a read-through cache over the rate limit
// state store. Only applies when the store comes from the factory.
func WithRateLimitCache(cache repositorycache.CacheService) PipelineOption {
	return func(o *pipelineOptions) { o.rateLimitCache = cache }
}

func WithExtensionHooks(hooks *ExtensionHooks) PipelineOption {
	return func(o *pipelineOptions) { o.hooks = hooks }
}

// WithJobEnqueuer connects the pipeline to a job queue (typically a
// go-job enqueuer behind gojob.NewEnqueuerAdapter) so maintenance runs
// as scheduled jobs instead of resident workers.
func WithJobEnqueuer(enqueuer core.JobEnqueuer) PipelineOption {
	return func(o *pipelineOptions) { o.jobEnqueuer = enqueuer }
}

func WithClock(now func() time.Time) PipelineOption {
	return func(o *pipelineOptions) { o.now = now }
}

func NewPipeline(cfg core.Config, opts ...PipelineOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := pipelineOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	provider, logger := gologger.Resolve(cfg.ServiceName, options.provider, options.logger)
	metrics := options.metrics

	stores, err := resolveStores(options)
	if err != nil {
		return nil, err
	}

	slackClient, err := NewSlackClient(cfg, options.slackTransport, logger, metrics)
	if err != nil {
		return nil, err
	}
	jobberClient, err := NewJobberClient(cfg, options.jobberTransport, stores.RateLimits, logger, metrics)
	if err != nil {
		return nil, err
	}

	applierOptions := []pipelinesync.ApplierOption{
		pipelinesync.WithApplierLogger(gologger.Stage(provider, logger, "sync")),
		pipelinesync.WithApplierMetrics(metrics),
	}
	if options.now != nil {
		applierOptions = append(applierOptions, pipelinesync.WithApplierClock(options.now))
	}

	var forwarder *notify.Forwarder
	notifyCfg := resolveNotifyConfig(cfg)
	if notifyCfg.Channel != "" {
		forwarder, err = notify.NewForwarder(
			slackClient,
			stores.Dispatches,
			notifyCfg,
			notify.WithForwarderLogger(gologger.Stage(provider, logger, "notify")),
			notify.WithForwarderMetrics(metrics),
		)
		if err != nil {
			return nil, err
		}
		applierOptions = append(applierOptions, pipelinesync.WithNotifier(forwarder))
	}

	applier, err := pipelinesync.NewApplier(stores.Entities, applierOptions...)
	if err != nil {
		return nil, err
	}

	enricher := jobber.NewEnricher(jobberClient)
	handler := queue.TaskHandlerFunc(func(ctx context.Context, task core.SyncTask) error {
		enriched, enrichErr := enricher.Enrich(ctx, task)
		if enrichErr != nil {
			return enrichErr
		}
		_, applyErr := applier.Apply(ctx, enriched)
		return applyErr
	})

	dispatcherOptions := []queue.DispatcherOption{
		queue.WithDispatcherLogger(gologger.Stage(provider, logger, "queue")),
		queue.WithDispatcherMetrics(metrics),
	}
	if options.now != nil {
		dispatcherOptions = append(dispatcherOptions, queue.WithDispatcherClock(options.now))
	}
	dispatcher, err := queue.NewDispatcher(stores.Tasks, handler, dispatcherConfig(cfg.Queue), dispatcherOptions...)
	if err != nil {
		return nil, err
	}

	queries := Queries{
		ListEntities:     query.NewListEntitiesQuery(stores.Entities),
		GetEntity:        query.NewGetEntityQuery(stores.Entities),
		ListDeadLettered: query.NewListDeadLetteredQuery(stores.Tasks),
	}
	commands := Commands{
		RequeueTask: command.NewRequeueTaskCommand(stores.Tasks),
	}
	if options.now != nil {
		commands.RequeueTask.WithClock(options.now)
	}

	responder, err := command.NewResponder(
		queries.ListEntities,
		command.WithResponderLogger(gologger.Stage(provider, logger, "commands")),
		command.WithDeadLetterAccess(queries.ListDeadLettered, commands.RequeueTask),
	)
	if err != nil {
		return nil, err
	}

	webhookLogger := gologger.Stage(provider, logger, "webhooks")
	routerOptions := []inbound.RouterOption{
		inbound.WithCommandResponder(responder),
		inbound.WithRouterLogger(webhookLogger),
		inbound.WithRouterMetrics(metrics),
	}
	if options.now != nil {
		routerOptions = append(routerOptions, inbound.WithRouterClock(options.now))
	}
	router, err := inbound.NewRouter(dispatcher, routerOptions...)
	if err != nil {
		return nil, err
	}

	templates := DefaultWebhookTemplates(cfg)
	if options.hooks != nil {
		// Hook templates win over the built-ins so extensions can
		// swap a platform's verifier or extractor.
		templates = append(options.hooks.Templates(), templates...)
	}
	processors := make(map[core.Platform]*webhooks.Processor, len(templates))
	for _, template := range templates {
		if template.Platform == "" || template.Verifier == nil {
			continue
		}
		if _, exists := processors[template.Platform]; exists {
			continue
		}
		processor := webhooks.NewProcessor(template.Verifier, stores.Deliveries, router)
		if template.Extractor != nil {
			processor.ExtractID = template.Extractor
		}
		processor.Logger = webhookLogger
		processor.Metrics = metrics
		if options.now != nil {
			processor.Now = options.now
		}
		if template.Platform == core.PlatformSlack {
			processor.Burst = webhooks.NewBurstController(webhooks.BurstOptions{
				Mode: webhooks.BurstModeCoalesce,
				Now:  options.now,
			})
		}
		processors[template.Platform] = processor
	}

	pipeline := &Pipeline{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics,
		stores:       stores,
		processors:   processors,
		router:       router,
		dispatcher:   dispatcher,
		applier:      applier,
		forwarder:    forwarder,
		responder:    responder,
		slackClient:  slackClient,
		jobberClient: jobberClient,
		commands:     commands,
		queries:      queries,
		jobEnqueuer:  options.jobEnqueuer,
		now:          options.now,
	}
	return pipeline, nil
}

func resolveStores(options pipelineOptions) (Stores, error) {
	stores := options.stores
	if stores.complete() {
		return stores, nil
	}
	if options.persistenceClient == nil {
		return Stores{}, goerrors.New(
			"pipeline: persistence client is required when stores are not fully provided",
			goerrors.CategoryBadInput,
		)
	}
	factory, err := sqlstore.NewStoreFactory(options.persistenceClient)
	if err != nil {
		return Stores{}, err
	}
	if stores.Entities == nil {
		stores.Entities = factory.EntityStore()
	}
	if stores.Tasks == nil {
		stores.Tasks = factory.TaskStore()
	}
	if stores.Deliveries == nil {
		stores.Deliveries = factory.DeliveryStore()
	}
	if stores.Dispatches == nil {
		stores.Dispatches = factory.DispatchStore()
	}
	if stores.RateLimits == nil {
		rateStore := ratelimit.StateStore(factory.RateLimitStateStore())
		if options.rateLimitCache != nil {
			cached, cacheErr := sqlstore.NewCachedRateLimitStateStore(factory.RateLimitStateStore(), options.rateLimitCache)
			if cacheErr != nil {
				return Stores{}, cacheErr
			}
			rateStore = cached
		}
		stores.RateLimits = rateStore
	}
	return stores, nil
}

func resolveNotifyConfig(cfg core.Config) core.NotifyConfig {
	notifyCfg := cfg.Notify
	if notifyCfg.Channel == "" {
		notifyCfg.Channel = cfg.Slack.NotifyChannel
	}
	return notifyCfg
}

func dispatcherConfig(cfg core.QueueConfig) queue.DispatcherConfig {
	return queue.DispatcherConfig{
		Workers:        cfg.Workers,
		PollInterval:   cfg.PollInterval,
		ClaimBatchSize: cfg.ClaimBatchSize,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		MaxAttempts:    cfg.MaxAttempts,
		LeaseTimeout:   cfg.LeaseTimeout,
	}
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Process verifies, dedupes, and routes one inbound webhook envelope.
func (p *Pipeline) Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if p == nil {
		return core.InboundResult{}, goerrors.New("pipeline: not configured", goerrors.CategoryInternal)
	}
	platform, err := core.ParsePlatform(string(req.Platform))
	if err != nil {
		return core.InboundResult{}, err
	}
	processor, ok := p.processors[platform]
	if !ok {
		return core.InboundResult{}, goerrors.New(
			"pipeline: no processor registered for platform "+string(platform),
			goerrors.CategoryBadInput,
		)
	}
	return processor.Process(ctx, req)
}

// Start runs the queue workers until the context is cancelled or Stop
// is called.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.dispatcher.Start(ctx)
}

func (p *Pipeline) Stop() {
	p.dispatcher.Stop()
}

// RunQueueOnce claims and processes one batch of due tasks. Useful in
// tests and in cron-style deployments without resident workers.
func (p *Pipeline) RunQueueOnce(ctx context.Context) (queue.DispatchStats, error) {
	return p.dispatcher.RunOnce(ctx)
}

// deliverySweeper is the optional ledger capability behind the sweep
// job; the SQL delivery store implements it.
type deliverySweeper interface {
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Processed ledger rows older than this are eligible for the sweep
// job. Unprocessed rows are never swept.
const deliveryRetention = 30 * 24 * time.Hour

// ScheduleMaintenance enqueues the recurring maintenance jobs on the
// configured job enqueuer. The idempotency key carries the minute so a
// crashed scheduler re-running the same tick dedupes instead of
// double-enqueueing.
func (p *Pipeline) ScheduleMaintenance(ctx context.Context) error {
	if p == nil {
		return goerrors.New("pipeline: not configured", goerrors.CategoryInternal)
	}
	if p.jobEnqueuer == nil {
		return goerrors.New("pipeline: job enqueuer is not configured", goerrors.CategoryBadInput)
	}
	tick := p.clock().Truncate(time.Minute).Format(time.RFC3339)
	for _, jobID := range []string{gojob.JobIDTaskDispatch, gojob.JobIDStaleReclaim, gojob.JobIDDeliverySweep} {
		msg := &core.JobExecutionMessage{
			JobID:          jobID,
			IdempotencyKey: jobID + ":" + tick,
			DedupPolicy:    "drop",
		}
		if err := p.jobEnqueuer.Enqueue(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteJob runs one maintenance job by id. It is the worker-side
// counterpart of ScheduleMaintenance, handed to go-job workers through
// the gojob adapters.
func (p *Pipeline) ExecuteJob(ctx context.Context, msg *core.JobExecutionMessage) error {
	if p == nil {
		return goerrors.New("pipeline: not configured", goerrors.CategoryInternal)
	}
	if msg == nil {
		return goerrors.New("pipeline: job execution message is required", goerrors.CategoryBadInput)
	}
	switch msg.JobID {
	case gojob.JobIDTaskDispatch:
		_, err := p.RunQueueOnce(ctx)
		return err
	case gojob.JobIDStaleReclaim:
		now := p.clock()
		lease := p.cfg.Queue.LeaseTimeout
		if lease <= 0 {
			lease = queue.DefaultDispatcherConfig().LeaseTimeout
		}
		_, err := p.stores.Tasks.ReclaimStale(ctx, now.Add(-lease), now)
		return err
	case gojob.JobIDDeliverySweep:
		sweeper, ok := p.stores.Deliveries.(deliverySweeper)
		if !ok {
			return goerrors.New(
				"pipeline: delivery ledger does not support sweeping",
				goerrors.CategoryBadInput,
			)
		}
		_, err := sweeper.PurgeCompletedBefore(ctx, p.clock().Add(-deliveryRetention))
		return err
	default:
		return goerrors.New(
			"pipeline: unknown maintenance job "+msg.JobID,
			goerrors.CategoryBadInput,
		)
	}
}

func (p *Pipeline) clock() time.Time {
	if p != nil && p.now != nil {
		return p.now().UTC()
	}
	return time.Now().UTC()
}

// RegisterHandlers subscribes the pipeline's commands and queries on a
// go-command registry so other runtimes can dispatch them by message.
func (p *Pipeline) RegisterHandlers(adapter *gocommand.RegistryAdapter) error {
	if p == nil {
		return goerrors.New("pipeline: not configured", goerrors.CategoryInternal)
	}
	if _, err := gocommand.RegisterAndSubscribe(adapter, p.commands.RequeueTask); err != nil {
		return err
	}
	if _, err := gocommand.RegisterAndSubscribeQuery(adapter, p.queries.ListEntities); err != nil {
		return err
	}
	if _, err := gocommand.RegisterAndSubscribeQuery(adapter, p.queries.GetEntity); err != nil {
		return err
	}
	if _, err := gocommand.RegisterAndSubscribeQuery(adapter, p.queries.ListDeadLettered); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) Config() core.Config {
	if p == nil {
		return core.Config{}
	}
	return p.cfg
}

func (p *Pipeline) Stores() Stores {
	if p == nil {
		return Stores{}
	}
	return p.stores
}

func (p *Pipeline) Commands() Commands {
	if p == nil {
		return Commands{}
	}
	return p.commands
}

func (p *Pipeline) Queries() Queries {
	if p == nil {
		return Queries{}
	}
	return p.queries
}

func (p *Pipeline) Processor(platform core.Platform) *webhooks.Processor {
	if p == nil {
		return nil
	}
	return p.processors[platform]
}

func (p *Pipeline) Router() *inbound.Router {
	if p == nil {
		return nil
	}
	return p.router
}

func (p *Pipeline) Dispatcher() *queue.Dispatcher {
	if p == nil {
		return nil
	}
	return p.dispatcher
}

func (p *Pipeline) Applier() *pipelinesync.Applier {
	if p == nil {
		return nil
	}
	return p.applier
}

func (p *Pipeline) Forwarder() *notify.Forwarder {
	if p == nil {
		return nil
	}
	return p.forwarder
}

func (p *Pipeline) Responder() *command.Responder {
	if p == nil {
		return nil
	}
	return p.responder
}

func (p *Pipeline) SlackClient() *slack.Client {
	if p == nil {
		return nil
	}
	return p.slackClient
}

func (p *Pipeline) JobberClient() *jobber.Client {
	if p == nil {
		return nil
	}
	return p.jobberClient
}

var _ webhooks.Handler = (*inbound.Router)(nil)
var _ inbound.TaskEnqueuer = (*queue.Dispatcher)(nil)
var _ core.ChangeNotifier = (*notify.Forwarder)(nil)
var _ core.TransportAdapter = (*transport.RESTAdapter)(nil)
var _ core.TransportAdapter = (*transport.GraphQLAdapter)(nil)
