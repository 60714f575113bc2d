package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/backlog/job"
)

// entry pairs a hook with the name of the extension that provided it.
type entry[H any] struct {
	name string
	hook H
}

// Registry fans lifecycle events out to registered extensions. Hook
// errors are logged and never interrupt the caller. Register all
// extensions before the engine starts; emission is not locked.
type Registry struct {
	logger     *slog.Logger
	extensions []Extension

	enqueued     []entry[RequestEnqueued]
	deduplicated []entry[RequestDeduplicated]
	claimed      []entry[JobClaimed]
	succeeded    []entry[JobSucceeded]
	retried      []entry[JobRetried]
	failed       []entry[JobFailed]
	lost         []entry[JobLost]
	fired        []entry[ScheduleFired]
	shutdown     []entry[Shutdown]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds e and indexes every hook interface it implements.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	collect(&r.enqueued, name, e)
	collect(&r.deduplicated, name, e)
	collect(&r.claimed, name, e)
	collect(&r.succeeded, name, e)
	collect(&r.retried, name, e)
	collect(&r.failed, name, e)
	collect(&r.lost, name, e)
	collect(&r.fired, name, e)
	collect(&r.shutdown, name, e)
}

func collect[H any](list *[]entry[H], name string, e Extension) {
	if h, ok := e.(H); ok {
		*list = append(*list, entry[H]{name: name, hook: h})
	}
}

// Extensions returns all registered extensions in registration order.
func (r *Registry) Extensions() []Extension { return r.extensions }

func (r *Registry) EmitRequestEnqueued(ctx context.Context, req *job.Request) {
	for _, e := range r.enqueued {
		r.logHookError("OnRequestEnqueued", e.name, e.hook.OnRequestEnqueued(ctx, req))
	}
}

func (r *Registry) EmitRequestDeduplicated(ctx context.Context, req *job.Request) {
	for _, e := range r.deduplicated {
		r.logHookError("OnRequestDeduplicated", e.name, e.hook.OnRequestDeduplicated(ctx, req))
	}
}

func (r *Registry) EmitJobClaimed(ctx context.Context, c *job.Claim) {
	for _, e := range r.claimed {
		r.logHookError("OnJobClaimed", e.name, e.hook.OnJobClaimed(ctx, c))
	}
}

func (r *Registry) EmitJobSucceeded(ctx context.Context, c *job.Claim, elapsed time.Duration) {
	for _, e := range r.succeeded {
		r.logHookError("OnJobSucceeded", e.name, e.hook.OnJobSucceeded(ctx, c, elapsed))
	}
}

func (r *Registry) EmitJobRetried(ctx context.Context, c *job.Claim, next *job.Request, jobErr error) {
	for _, e := range r.retried {
		r.logHookError("OnJobRetried", e.name, e.hook.OnJobRetried(ctx, c, next, jobErr))
	}
}

func (r *Registry) EmitJobFailed(ctx context.Context, c *job.Claim, jobErr error) {
	for _, e := range r.failed {
		r.logHookError("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, c, jobErr))
	}
}

func (r *Registry) EmitJobLost(ctx context.Context, c *job.Claim) {
	for _, e := range r.lost {
		r.logHookError("OnJobLost", e.name, e.hook.OnJobLost(ctx, c))
	}
}

func (r *Registry) EmitScheduleFired(ctx context.Context, jobType string, instant time.Time, req *job.Request) {
	for _, e := range r.fired {
		r.logHookError("OnScheduleFired", e.name, e.hook.OnScheduleFired(ctx, jobType, instant, req))
	}
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.logHookError("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

func (r *Registry) logHookError(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
