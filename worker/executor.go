// Package worker provides the execution side of the queue: an Executor
// that runs one claimed request through middleware and records its
// outcome, and a Pool of goroutines that poll, claim and execute.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/middleware"
	"github.com/xraph/backlog/retry"
)

const tracerName = "github.com/xraph/backlog/worker"

// Executor runs a claimed request and writes its result. It never returns
// a job's own error: failures become results. Only store errors surface.
type Executor struct {
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	mws        []middleware.Middleware
	mw         middleware.Middleware
	logger     *slog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMiddleware appends middleware around every job. Recover is always
// installed outermost.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mws = append(e.mws, mws...) }
}

// WithExtensions sets the registry that receives execution hooks.
func WithExtensions(r *ext.Registry) ExecutorOption {
	return func(e *Executor) { e.extensions = r }
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithExecutorTracerProvider sets the provider for execute spans.
func WithExecutorTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) { e.tracer = tp.Tracer(tracerName) }
}

// WithPropagator sets how the enqueue span context is read back from a
// request. The default is W3C TraceContext.
func WithPropagator(p propagation.TextMapPropagator) ExecutorOption {
	return func(e *Executor) { e.propagator = p }
}

// WithExecutorClock overrides time.Now.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor.
func NewExecutor(store job.Store, registry *job.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:      store,
		registry:   registry,
		logger:     slog.Default(),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
		propagator: propagation.TraceContext{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(e.logger)
	}
	e.mw = middleware.Chain(append([]middleware.Middleware{middleware.Recover(e.logger)}, e.mws...)...)
	return e
}

// Execute runs c and records the outcome: succeeded, retried or failed.
// When the store reports the claim is gone (the reaper marked it lost),
// the outcome is ResultLost and no result is written by this worker.
func (e *Executor) Execute(ctx context.Context, c *job.Claim) (job.ResultStatus, error) {
	enqueued := e.propagator.Extract(context.Background(), propagation.MapCarrier(c.TraceContext))
	startOpts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("backlog.job.type", c.JobType),
			attribute.String("backlog.queue", c.Queue),
			attribute.String("backlog.request.id", c.ID.String()),
			attribute.String("backlog.worker.id", c.WorkerID.String()),
			attribute.Int("backlog.attempt", c.Attempt),
		),
	}
	if sc := trace.SpanContextFromContext(enqueued); sc.IsValid() {
		startOpts = append(startOpts, trace.WithLinks(trace.Link{SpanContext: sc}))
	}
	ctx, span := e.tracer.Start(ctx, "backlog.execute", startOpts...)
	defer span.End()

	status, err := e.execute(ctx, span, c)
	if err != nil {
		if errors.Is(err, backlog.ErrClaimNotFound) {
			e.logger.Warn("claim no longer held, result discarded",
				slog.String("request_id", c.ID.String()),
				slog.String("job_type", c.JobType),
				slog.String("worker_id", c.WorkerID.String()),
			)
			status, err = job.ResultLost, nil
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("failed to record job result",
				slog.String("request_id", c.ID.String()),
				slog.String("job_type", c.JobType),
				slog.String("error", err.Error()),
			)
			return "", err
		}
	}
	span.AddEvent("backlog.finish", trace.WithAttributes(attribute.String("backlog.outcome", string(status))))
	return status, nil
}

func (e *Executor) execute(ctx context.Context, span trace.Span, c *job.Claim) (job.ResultStatus, error) {
	def, err := e.registry.Lookup(c.JobType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return job.ResultFailed, e.fail(ctx, c, nil, e.now().UTC(), err)
	}

	started := e.now().UTC()
	jobErr := e.mw(ctx, c, func(ctx context.Context) error {
		err := def.Run(ctx, c.Args)
		// Arguments that do not decode never will.
		if errors.Is(err, backlog.ErrInvalidArgs) {
			return retry.Permanent(err)
		}
		return err
	})
	ended := e.now().UTC()

	if jobErr == nil {
		res := job.NewResult(c, job.ResultSucceeded, &started, ended)
		if err := e.store.FinishClaim(ctx, c.ID, res); err != nil {
			return "", fmt.Errorf("finish claim: %w", err)
		}
		e.extensions.EmitJobSucceeded(ctx, c, ended.Sub(started))
		return job.ResultSucceeded, nil
	}

	span.RecordError(jobErr)
	span.SetStatus(codes.Error, jobErr.Error())

	d := retry.ForDefinition(def).Decide(&c.Request, c.Attempt, jobErr)
	if !d.Retry {
		return job.ResultFailed, e.fail(ctx, c, &started, ended, jobErr)
	}

	next := retry.Next(&c.Request, d, ended)
	res := job.NewResult(c, job.ResultRetried, &started, ended)
	res.Error = jobErr.Error()
	res.Trace = retry.Trace(jobErr)
	res.RetriedRequestID = next.ID
	if err := e.store.RetryClaim(ctx, c.ID, next, res); err != nil {
		return "", fmt.Errorf("retry claim: %w", err)
	}

	e.logger.Info("job scheduled for retry",
		slog.String("request_id", c.ID.String()),
		slog.String("job_type", c.JobType),
		slog.Int("attempt", c.Attempt),
		slog.Int("retries", c.Retries),
		slog.Duration("delay", d.Delay),
		slog.String("error", jobErr.Error()),
	)
	e.extensions.EmitJobRetried(ctx, c, next, jobErr)
	return job.ResultRetried, nil
}

// fail records a final failure. startedAt is nil when the job never ran.
func (e *Executor) fail(ctx context.Context, c *job.Claim, startedAt *time.Time, ended time.Time, jobErr error) error {
	res := job.NewResult(c, job.ResultFailed, startedAt, ended)
	res.Error = jobErr.Error()
	res.Trace = retry.Trace(jobErr)
	if err := e.store.FinishClaim(ctx, c.ID, res); err != nil {
		return fmt.Errorf("finish claim: %w", err)
	}

	e.logger.Warn("job failed",
		slog.String("request_id", c.ID.String()),
		slog.String("job_type", c.JobType),
		slog.Int("attempt", c.Attempt),
		slog.String("error", jobErr.Error()),
	)
	e.extensions.EmitJobFailed(ctx, c, jobErr)
	return nil
}
