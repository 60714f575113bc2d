// Package enqueue is the producer side of the queue: it resolves a job's
// defaults, applies admission control through the store, and records the
// trace context workers later continue from.
package enqueue

import (
	"context"
	"encoding/json"
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
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

const tracerName = "github.com/xraph/backlog/enqueue"

// Outcomes recorded on the backlog.enqueue span.
const (
	OutcomeAdmitted     = "admitted"
	OutcomeDeduplicated = "deduplicated"
)

// Emitter receives enqueue lifecycle events. *ext.Registry satisfies it.
type Emitter interface {
	EmitRequestEnqueued(ctx context.Context, r *job.Request)
	EmitRequestDeduplicated(ctx context.Context, r *job.Request)
}

// Enqueuer inserts requests for registered job types.
type Enqueuer struct {
	store        job.Store
	registry     *job.Registry
	emitter      Emitter
	logger       *slog.Logger
	tracer       trace.Tracer
	propagator   propagation.TextMapPropagator
	defaultQueue string
	now          func() time.Time
}

// Option configures an Enqueuer.
type Option func(*Enqueuer)

// WithEmitter sets the extension emitter.
func WithEmitter(e Emitter) Option {
	return func(q *Enqueuer) { q.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Enqueuer) { q.logger = l }
}

// WithTracerProvider sets the provider for enqueue spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(q *Enqueuer) { q.tracer = tp.Tracer(tracerName) }
}

// WithPropagator sets how span context is written into requests. The
// default is W3C TraceContext.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(q *Enqueuer) { q.propagator = p }
}

// WithDefaultQueue sets the queue used when neither the call nor the
// definition names one.
func WithDefaultQueue(name string) Option {
	return func(q *Enqueuer) { q.defaultQueue = name }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Enqueuer) { q.now = now }
}

// New creates an Enqueuer.
func New(store job.Store, registry *job.Registry, opts ...Option) *Enqueuer {
	q := &Enqueuer{
		store:        store,
		registry:     registry,
		logger:       slog.Default(),
		tracer:       otel.GetTracerProvider().Tracer(tracerName),
		propagator:   propagation.TraceContext{},
		defaultQueue: "default",
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a request for jobType. args is JSON-encoded unless it is
// already a json.RawMessage.
//
// When the request carries a concurrency key and admission rejects it,
// Enqueue returns nil, nil: de-duplication is not an error.
func (q *Enqueuer) Enqueue(ctx context.Context, jobType string, args any, opts ...job.EnqueueOption) (*job.Request, error) {
	ctx, span := q.tracer.Start(ctx, "backlog.enqueue",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("backlog.job.type", jobType)),
	)
	defer span.End()

	r, admit, err := q.build(jobType, args, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("backlog.queue", r.Queue),
		attribute.Int("backlog.priority", r.Priority),
		attribute.String("backlog.request.id", r.ID.String()),
	)
	if r.ConcurrencyKey != "" {
		span.SetAttributes(attribute.String("backlog.concurrency_key", r.ConcurrencyKey))
	}

	carrier := propagation.MapCarrier{}
	q.propagator.Inject(ctx, carrier)
	if len(carrier) > 0 {
		r.TraceContext = carrier
	}

	ok, err := q.store.EnqueueRequest(ctx, r, admit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("enqueue %q: %w", jobType, err)
	}

	if !ok {
		span.SetAttributes(attribute.String("backlog.outcome", OutcomeDeduplicated))
		q.logger.Debug("request deduplicated",
			slog.String("job_type", jobType),
			slog.String("concurrency_key", r.ConcurrencyKey),
		)
		if q.emitter != nil {
			q.emitter.EmitRequestDeduplicated(ctx, r)
		}
		return nil, nil
	}

	span.SetAttributes(attribute.String("backlog.outcome", OutcomeAdmitted))
	if q.emitter != nil {
		q.emitter.EmitRequestEnqueued(ctx, r)
	}
	return r, nil
}

// build resolves defaults: explicit option, then definition policy, then
// the enqueuer's default queue.
func (q *Enqueuer) build(jobType string, args any, opts []job.EnqueueOption) (*job.Request, job.AdmitFunc, error) {
	def, err := q.registry.Lookup(jobType)
	if err != nil {
		return nil, nil, err
	}
	raw, err := encode(args)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: job %q: %w", backlog.ErrInvalidArgs, jobType, err)
	}

	o := job.ApplyEnqueueOptions(opts...)
	policy := def.Policy()
	now := q.now().UTC()

	r := &job.Request{
		ID:           id.NewRequestID(),
		JobType:      jobType,
		Args:         raw,
		Queue:        policy.Queue,
		Priority:     policy.Priority,
		Retries:      policy.Retries,
		Attempt:      1,
		ScheduledFor: now.Add(o.Delay),
		Status:       job.StatusPending,
		CreatedAt:    now,
	}
	if r.Queue == "" {
		r.Queue = q.defaultQueue
	}
	if o.Queue != nil {
		r.Queue = *o.Queue
	}
	if o.Priority != nil {
		r.Priority = *o.Priority
	}
	if o.Retries != nil {
		if *o.Retries < 0 {
			return nil, nil, fmt.Errorf("%w: job %q: negative retries", backlog.ErrInvalidArgs, jobType)
		}
		r.Retries = *o.Retries
	}
	if !o.RunAt.IsZero() {
		r.ScheduledFor = o.RunAt.UTC()
	}

	if o.ConcurrencyKey != nil {
		r.ConcurrencyKey = *o.ConcurrencyKey
	} else {
		key, err := def.ConcurrencyKey(raw)
		if err != nil {
			return nil, nil, err
		}
		r.ConcurrencyKey = key
	}

	admit := policy.Admit()
	if o.ShouldEnqueue != nil {
		admit = o.ShouldEnqueue
	}
	return r, admit, nil
}

func encode(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("raw args are not valid JSON")
		}
		return v, nil
	default:
		return json.Marshal(args)
	}
}
