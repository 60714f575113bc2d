package job

import (
	"time"

	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/schedule"
)

// Option configures a definition's Policy.
type Option func(*Policy)

// WithQueue sets the default queue.
func WithQueue(q string) Option {
	return func(p *Policy) { p.Queue = q }
}

// WithPriority sets the default priority. Higher values are processed first.
func WithPriority(n int) Option {
	return func(p *Policy) { p.Priority = n }
}

// WithRetries sets how many times a failing job is retried.
func WithRetries(n int) Option {
	return func(p *Policy) { p.Retries = n }
}

// WithConcurrencyKey sets a static concurrency key.
func WithConcurrencyKey(key string) Option {
	return func(p *Policy) { p.ConcurrencyKey = key }
}

// WithRetryDelay sets the delay function used between attempts.
func WithRetryDelay(fn func(attempt int) time.Duration) Option {
	return func(p *Policy) { p.RetryDelay = fn }
}

// WithBackoff computes retry delays from a backoff strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(p *Policy) { p.RetryDelay = s.Delay }
}

// WithShouldEnqueue replaces the default admission predicate.
func WithShouldEnqueue(fn AdmitFunc) Option {
	return func(p *Policy) { p.ShouldEnqueue = fn }
}

// WithSchedule makes the job recurring. It panics on an invalid
// expression; use WithParsedSchedule for expressions read at runtime.
func WithSchedule(expr string) Option {
	s := schedule.MustParse(expr)
	return func(p *Policy) { p.Schedule = s }
}

// WithParsedSchedule makes the job recurring on s.
func WithParsedSchedule(s *schedule.Schedule) Option {
	return func(p *Policy) { p.Schedule = s }
}

// ──────────────────────────────────────────────────
// Enqueue-time overrides
// ──────────────────────────────────────────────────

// EnqueueOptions are per-call overrides applied on top of the definition's
// Policy. Nil pointers mean "use the default".
type EnqueueOptions struct {
	Queue          *string
	Priority       *int
	Retries        *int
	ConcurrencyKey *string
	ShouldEnqueue  AdmitFunc
	Delay          time.Duration
	RunAt          time.Time
}

// EnqueueOption is a functional option for a single enqueue call.
type EnqueueOption func(*EnqueueOptions)

// OnQueue overrides the queue.
func OnQueue(q string) EnqueueOption {
	return func(o *EnqueueOptions) { o.Queue = &q }
}

// AtPriority overrides the priority.
func AtPriority(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Priority = &n }
}

// MaxRetries overrides the retry budget.
func MaxRetries(n int) EnqueueOption {
	return func(o *EnqueueOptions) { o.Retries = &n }
}

// Key overrides the concurrency key. An empty key disables admission
// control for this request.
func Key(key string) EnqueueOption {
	return func(o *EnqueueOptions) { o.ConcurrencyKey = &key }
}

// Admit overrides the admission predicate.
func Admit(fn AdmitFunc) EnqueueOption {
	return func(o *EnqueueOptions) { o.ShouldEnqueue = fn }
}

// After delays the request by d.
func After(d time.Duration) EnqueueOption {
	return func(o *EnqueueOptions) { o.Delay = d }
}

// WithRunAt schedules the request for t. It takes precedence over After.
func WithRunAt(t time.Time) EnqueueOption {
	return func(o *EnqueueOptions) { o.RunAt = t }
}

// ApplyEnqueueOptions folds opts into an EnqueueOptions value.
func ApplyEnqueueOptions(opts ...EnqueueOption) EnqueueOptions {
	var o EnqueueOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
