package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.RequestEnqueued     = (*Extension)(nil)
	_ ext.RequestDeduplicated = (*Extension)(nil)
	_ ext.JobClaimed          = (*Extension)(nil)
	_ ext.JobSucceeded        = (*Extension)(nil)
	_ ext.JobRetried          = (*Extension)(nil)
	_ ext.JobFailed           = (*Extension)(nil)
	_ ext.JobLost             = (*Extension)(nil)
	_ ext.ScheduleFired       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events to logger at a level matching their
// severity.
func SlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges backlog lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Request hooks ───────────────────────────────────

// OnRequestEnqueued implements ext.RequestEnqueued.
func (e *Extension) OnRequestEnqueued(ctx context.Context, r *job.Request) error {
	return e.record(ctx, ActionRequestEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceRequest, r.ID.String(), CategoryRequest, nil,
		"job_type", r.JobType,
		"queue", r.Queue,
		"priority", r.Priority,
		"concurrency_key", r.ConcurrencyKey,
		"scheduled_for", r.ScheduledFor.Format(time.RFC3339),
	)
}

// OnRequestDeduplicated implements ext.RequestDeduplicated.
func (e *Extension) OnRequestDeduplicated(ctx context.Context, r *job.Request) error {
	return e.record(ctx, ActionRequestDeduplicated, SeverityWarning, OutcomeFailure,
		ResourceRequest, r.ID.String(), CategoryRequest, nil,
		"job_type", r.JobType,
		"concurrency_key", r.ConcurrencyKey,
	)
}

// ── Job hooks ───────────────────────────────────────

// OnJobClaimed implements ext.JobClaimed.
func (e *Extension) OnJobClaimed(ctx context.Context, c *job.Claim) error {
	return e.record(ctx, ActionJobClaimed, SeverityInfo, OutcomeSuccess,
		ResourceRequest, c.ID.String(), CategoryJob, nil,
		"job_type", c.JobType,
		"queue", c.Queue,
		"attempt", c.Attempt,
		"worker_id", c.WorkerID.String(),
	)
}

// OnJobSucceeded implements ext.JobSucceeded.
func (e *Extension) OnJobSucceeded(ctx context.Context, c *job.Claim, elapsed time.Duration) error {
	return e.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceRequest, c.ID.String(), CategoryJob, nil,
		"job_type", c.JobType,
		"queue", c.Queue,
		"attempt", c.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetried implements ext.JobRetried.
func (e *Extension) OnJobRetried(ctx context.Context, c *job.Claim, next *job.Request, jobErr error) error {
	return e.record(ctx, ActionJobRetried, SeverityWarning, OutcomeFailure,
		ResourceRequest, c.ID.String(), CategoryJob, jobErr,
		"job_type", c.JobType,
		"queue", c.Queue,
		"attempt", c.Attempt,
		"next_request_id", next.ID.String(),
		"next_run_at", next.ScheduledFor.Format(time.RFC3339),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, c *job.Claim, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceRequest, c.ID.String(), CategoryJob, jobErr,
		"job_type", c.JobType,
		"queue", c.Queue,
		"attempt", c.Attempt,
		"retries", c.Retries,
	)
}

// OnJobLost implements ext.JobLost.
func (e *Extension) OnJobLost(ctx context.Context, c *job.Claim) error {
	return e.record(ctx, ActionJobLost, SeverityCritical, OutcomeFailure,
		ResourceRequest, c.ID.String(), CategoryJob, nil,
		"job_type", c.JobType,
		"queue", c.Queue,
		"worker_id", c.WorkerID.String(),
		"claimed_at", c.ClaimedAt.Format(time.RFC3339),
	)
}

// ── Schedule hooks ──────────────────────────────────

// OnScheduleFired implements ext.ScheduleFired. Instants another
// scheduler already enqueued are not recorded.
func (e *Extension) OnScheduleFired(ctx context.Context, jobType string, instant time.Time, r *job.Request) error {
	if r == nil {
		return nil
	}
	return e.record(ctx, ActionScheduleFired, SeverityInfo, OutcomeSuccess,
		ResourceSchedule, jobType, CategorySchedule, nil,
		"instant", instant.UTC().Format(time.RFC3339),
		"request_id", r.ID.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
