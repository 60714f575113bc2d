// Package ext defines lifecycle hooks. Extensions implement only the hook
// interfaces they care about; the Registry discovers them by type
// assertion at registration.
package ext

import (
	"context"
	"time"

	"github.com/xraph/backlog/job"
)

// Extension is the base interface all extensions implement.
type Extension interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Enqueue hooks
// ──────────────────────────────────────────────────

// RequestEnqueued is called after a request is inserted.
type RequestEnqueued interface {
	OnRequestEnqueued(ctx context.Context, r *job.Request) error
}

// RequestDeduplicated is called when admission rejects a request. r is
// the candidate that was not inserted.
type RequestDeduplicated interface {
	OnRequestDeduplicated(ctx context.Context, r *job.Request) error
}

// ──────────────────────────────────────────────────
// Execution hooks
// ──────────────────────────────────────────────────

// JobClaimed is called when a worker claims a request, before it runs.
type JobClaimed interface {
	OnJobClaimed(ctx context.Context, c *job.Claim) error
}

// JobSucceeded is called after a succeeded result is recorded.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, c *job.Claim, elapsed time.Duration) error
}

// JobRetried is called after a failed attempt is replaced by next.
type JobRetried interface {
	OnJobRetried(ctx context.Context, c *job.Claim, next *job.Request, err error) error
}

// JobFailed is called after a failed result is recorded.
type JobFailed interface {
	OnJobFailed(ctx context.Context, c *job.Claim, err error) error
}

// JobLost is called by the reaper for every claim it records as lost.
type JobLost interface {
	OnJobLost(ctx context.Context, c *job.Claim) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called when the scheduler handles a fire instant. r is
// nil when another scheduler already enqueued that instant.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, jobType string, instant time.Time, r *job.Request) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
