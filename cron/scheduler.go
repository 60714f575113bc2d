package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/schedule"
)

// Enqueuer is the producer the scheduler feeds. *enqueue.Enqueuer
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, args any, opts ...job.EnqueueOption) (*job.Request, error)
}

// Emitter receives fire events. *ext.Registry satisfies it.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, jobType string, instant time.Time, r *job.Request)
}

// Entry is a recurring job defined outside the job's definition, usually
// loaded from configuration.
type Entry struct {
	JobType  string
	Schedule *schedule.Schedule
	// Args are passed unchanged to every run. Nil means no arguments.
	Args json.RawMessage
	// Queue overrides the definition's queue when set.
	Queue string
}

// InstantKey is the concurrency key a scheduled run is enqueued under.
// Every scheduler computes the same key for the same fire instant.
func InstantKey(jobType string, instant time.Time) string {
	return jobType + "@" + instant.UTC().Truncate(time.Minute).Format(time.RFC3339)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler looks for due instants.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithEntries adds static entries alongside scheduled definitions.
func WithEntries(entries ...Entry) SchedulerOption {
	return func(s *Scheduler) { s.entries = append(s.entries, entries...) }
}

// WithEmitter sets the fire event emitter.
func WithEmitter(e Emitter) SchedulerOption {
	return func(s *Scheduler) { s.emitter = e }
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler turns cron expressions into requests. Any number of
// schedulers may run against one store: each fire instant is enqueued
// under InstantKey with job.AdmitOnce, so only the first insert wins.
type Scheduler struct {
	registry     *job.Registry
	enqueuer     Enqueuer
	emitter      Emitter
	logger       *slog.Logger
	tickInterval time.Duration
	entries      []Entry
	now          func() time.Time

	mu   sync.Mutex
	last time.Time

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler over the registry's scheduled
// definitions plus any static entries.
func NewScheduler(registry *job.Registry, enqueuer Enqueuer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:     registry,
		enqueuer:     enqueuer,
		logger:       slog.Default(),
		tickInterval: 15 * time.Second,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start records the current time as the last tick and launches the tick
// loop. Instants before Start are never fired.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.last = s.now().UTC()
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)

	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("static_entries", len(s.entries)),
	)
	return nil
}

// Stop ends the tick loop and waits for an in-progress tick.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stop := s.stopCh
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.Tick(context.Background(), s.now()); err != nil {
				s.logger.Error("cron tick error", slog.String("error", err.Error()))
			}
		}
	}
}

type target struct {
	jobType  string
	schedule *schedule.Schedule
	args     json.RawMessage
	queue    string
}

func (s *Scheduler) targets() []target {
	var out []target
	for _, def := range s.registry.Scheduled() {
		out = append(out, target{jobType: def.Name(), schedule: def.Policy().Schedule})
	}
	for _, e := range s.entries {
		out = append(out, target{jobType: e.JobType, schedule: e.Schedule, args: e.Args, queue: e.Queue})
	}
	return out
}

// Tick fires the latest instant in (last tick, now] for every schedule
// and returns how many requests were inserted. Earlier missed instants
// in the window are skipped. When any enqueue fails the window is kept,
// so the next tick retries it; instants that did get enqueued are
// deduplicated then.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	after := s.last
	s.mu.Unlock()
	if after.IsZero() {
		after = now.Add(-s.tickInterval)
	}

	var (
		fired int
		errs  []error
	)
	for _, t := range s.targets() {
		instant, ok := t.schedule.Latest(after, now)
		if !ok {
			continue
		}
		r, err := s.fire(ctx, t, instant)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r != nil {
			fired++
		}
	}

	s.mu.Lock()
	switch {
	case len(errs) == 0 && now.After(s.last):
		s.last = now
	case len(errs) > 0 && s.last.IsZero():
		s.last = after
	}
	s.mu.Unlock()
	return fired, errors.Join(errs...)
}

func (s *Scheduler) fire(ctx context.Context, t target, instant time.Time) (*job.Request, error) {
	key := InstantKey(t.jobType, instant)
	opts := []job.EnqueueOption{
		job.Key(key),
		job.Admit(job.AdmitOnce),
		job.WithRunAt(instant),
	}
	if t.queue != "" {
		opts = append(opts, job.OnQueue(t.queue))
	}

	var args any
	if t.args != nil {
		args = t.args
	}
	r, err := s.enqueuer.Enqueue(ctx, t.jobType, args, opts...)
	if err != nil {
		return nil, fmt.Errorf("schedule %s for %s: %w", t.jobType, instant.Format(time.RFC3339), err)
	}

	if r == nil {
		s.logger.Debug("schedule instant already enqueued", slog.String("key", key))
	} else {
		s.logger.Info("schedule fired",
			slog.String("job_type", t.jobType),
			slog.Time("instant", instant),
			slog.String("request_id", r.ID.String()),
		)
	}
	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, t.jobType, instant, r)
	}
	return r, nil
}
