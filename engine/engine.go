package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/cron"
	"github.com/xraph/backlog/enqueue"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/history"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	mw "github.com/xraph/backlog/middleware"
	"github.com/xraph/backlog/observability"
	"github.com/xraph/backlog/queue"
	"github.com/xraph/backlog/reaper"
	"github.com/xraph/backlog/worker"
)

const instrumentationName = "github.com/xraph/backlog"

// Engine owns one process's producer and consumer sides: the enqueuer,
// the worker pool, the cron scheduler and the lost-job reaper.
type Engine struct {
	store      job.Store
	config     backlog.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *job.Registry

	enqueuer  *enqueue.Enqueuer
	pool      *worker.Pool
	scheduler *cron.Scheduler
	reaper    *reaper.Reaper
	history   *history.Service

	mws          []mw.Middleware
	exts         []ext.Extension
	entries      []cron.Entry
	queueConfigs []queue.Config
	queueManager *queue.Manager
	workerID     id.WorkerID

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator

	mu      sync.Mutex
	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg backlog.Config) Option {
	return func(e *Engine) { e.config = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegistry uses an existing job registry instead of a fresh one.
func WithRegistry(r *job.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithExtension registers lifecycle extensions.
func WithExtension(exts ...ext.Extension) Option {
	return func(e *Engine) { e.exts = append(e.exts, exts...) }
}

// WithMiddleware appends middleware to the execution chain. They run
// inside the built-in recover, metrics and logging middleware.
func WithMiddleware(mws ...mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// WithQueueConfig sets per-queue concurrency and rate limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(e *Engine) { e.queueConfigs = append(e.queueConfigs, configs...) }
}

// WithStaticSchedules adds recurring entries alongside scheduled
// definitions.
func WithStaticSchedules(entries ...cron.Entry) Option {
	return func(e *Engine) { e.entries = append(e.entries, entries...) }
}

// WithWorkerID sets the identity the pool claims under.
func WithWorkerID(wid id.WorkerID) Option {
	return func(e *Engine) { e.workerID = wid }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider. The global
// provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithPropagator sets the propagator that carries trace context from
// enqueue to execution.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(e *Engine) { e.propagator = p }
}

// New builds an engine over store. Nothing runs until Start.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, backlog.ErrNoStore
	}

	eng := &Engine{
		store:  store,
		config: backlog.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.registry == nil {
		eng.registry = job.NewRegistry()
	}
	if eng.tracerProvider == nil {
		eng.tracerProvider = otel.GetTracerProvider()
	}
	if eng.meterProvider == nil {
		eng.meterProvider = otel.GetMeterProvider()
	}
	if eng.propagator == nil {
		eng.propagator = propagation.TraceContext{}
	}
	if eng.workerID.IsNil() {
		eng.workerID = id.NewWorkerID()
	}
	cfg := eng.config
	logger := eng.logger

	eng.extensions = ext.NewRegistry(logger)
	eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
		eng.meterProvider.Meter(instrumentationName + "/observability"),
	))
	for _, x := range eng.exts {
		eng.extensions.Register(x)
	}

	eng.enqueuer = enqueue.New(store, eng.registry,
		enqueue.WithEmitter(eng.extensions),
		enqueue.WithLogger(logger),
		enqueue.WithTracerProvider(eng.tracerProvider),
		enqueue.WithPropagator(eng.propagator),
		enqueue.WithDefaultQueue(cfg.DefaultQueue),
	)

	// Recover is installed outermost by the executor.
	chain := make([]mw.Middleware, 0, 2+len(eng.mws))
	chain = append(chain,
		mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName)),
		mw.Logging(logger),
	)
	chain = append(chain, eng.mws...)

	executor := worker.NewExecutor(store, eng.registry,
		worker.WithMiddleware(chain...),
		worker.WithExtensions(eng.extensions),
		worker.WithExecutorLogger(logger),
		worker.WithExecutorTracerProvider(eng.tracerProvider),
		worker.WithPropagator(eng.propagator),
	)

	poolOpts := []worker.PoolOption{
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithQueues(cfg.Queues...),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithClaimBatch(cfg.ClaimBatch),
		worker.WithPoolExtensions(eng.extensions),
		worker.WithLogger(logger),
		worker.WithTracerProvider(eng.tracerProvider),
		worker.WithWorkerID(eng.workerID),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(store, executor, poolOpts...)

	if cfg.ScheduleInterval > 0 {
		eng.scheduler = cron.NewScheduler(eng.registry, eng.enqueuer,
			cron.WithTickInterval(cfg.ScheduleInterval),
			cron.WithEntries(eng.entries...),
			cron.WithEmitter(eng.extensions),
			cron.WithLogger(logger.With(slog.String("component", "cron"))),
		)
	}
	if cfg.ReapInterval > 0 {
		eng.reaper = reaper.New(store,
			reaper.WithInterval(cfg.ReapInterval),
			reaper.WithClaimTimeout(cfg.ClaimTimeout),
			reaper.WithRetention(cfg.ResultRetention),
			reaper.WithEmitter(eng.extensions),
			reaper.WithLogger(logger.With(slog.String("component", "reaper"))),
		)
	}
	eng.history = history.NewService(store, eng.enqueuer)

	return eng, nil
}

// Register adds a typed job definition to the engine's registry.
func Register[T any](eng *Engine, def *job.TypedDefinition[T]) error {
	return eng.registry.Register(def)
}

// Enqueue inserts a request for def with typed arguments. It returns
// nil, nil when admission control rejects the request.
func Enqueue[T any](ctx context.Context, eng *Engine, def *job.TypedDefinition[T], args T, opts ...job.EnqueueOption) (*job.Request, error) {
	return eng.enqueuer.Enqueue(ctx, def.Name(), args, opts...)
}

// EnqueueRaw inserts a request with pre-serialized arguments.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, args json.RawMessage, opts ...job.EnqueueOption) (*job.Request, error) {
	return eng.enqueuer.Enqueue(ctx, jobType, args, opts...)
}

// Start launches the worker pool, the scheduler and the reaper.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.started {
		return nil
	}

	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if eng.scheduler != nil {
		if err := eng.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start cron scheduler: %w", err)
		}
	}
	if eng.reaper != nil {
		if err := eng.reaper.Start(ctx); err != nil {
			return fmt.Errorf("start reaper: %w", err)
		}
	}
	eng.started = true

	eng.logger.Info("backlog engine started",
		slog.String("worker_id", eng.workerID.String()),
		slog.Any("job_types", eng.registry.Names()),
	)
	return nil
}

// Stop stops producing and reaping, then drains the pool for at most
// Config.ShutdownTimeout. Claims still running after that are left for
// the reaper of another process.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if !eng.started {
		return nil
	}
	eng.started = false

	var errs []error
	if eng.scheduler != nil {
		if err := eng.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop cron scheduler: %w", err))
		}
	}
	if eng.reaper != nil {
		if err := eng.reaper.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop reaper: %w", err))
		}
	}

	drainCtx := ctx
	if eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	if err := eng.pool.Stop(drainCtx); err != nil {
		errs = append(errs, err)
	}

	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("backlog engine stopped")
	return errors.Join(errs...)
}

// Config returns the engine's configuration.
func (eng *Engine) Config() backlog.Config { return eng.config }

// Store returns the engine's store.
func (eng *Engine) Store() job.Store { return eng.store }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Enqueuer returns the producer used by Enqueue and the scheduler.
func (eng *Engine) Enqueuer() *enqueue.Enqueuer { return eng.enqueuer }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the cron scheduler, or nil when scheduling is
// disabled in this process.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Reaper returns the lost-job reaper, or nil when reaping is disabled in
// this process.
func (eng *Engine) Reaper() *reaper.Reaper { return eng.reaper }

// History returns the result history service.
func (eng *Engine) History() *history.Service { return eng.history }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Stats returns the pool's throughput counters.
func (eng *Engine) Stats() worker.Stats { return eng.pool.Stats() }
