// Package reaper reconciles claims whose worker went away and enforces
// result retention.
//
// A claim older than the claim timeout is assumed lost: its worker
// crashed, was killed, or is stuck. The reaper records a lost result and
// deletes the claim. Lost jobs are never retried automatically; an
// operator can requeue them through the history package.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/backlog/job"
)

// Emitter receives lost-job events. *ext.Registry satisfies it.
type Emitter interface {
	EmitJobLost(ctx context.Context, c *job.Claim)
}

// Report summarises one Reap pass.
type Report struct {
	Lost   int
	Purged int64
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the time between passes.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) { r.interval = d }
}

// WithClaimTimeout sets how long a claim may be held before it is lost.
func WithClaimTimeout(d time.Duration) Option {
	return func(r *Reaper) { r.claimTimeout = d }
}

// WithRetention sets how long results are kept. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(r *Reaper) { r.retention = d }
}

// WithBatchSize sets how many expired claims are fetched per query.
func WithBatchSize(n int) Option {
	return func(r *Reaper) { r.batch = n }
}

// WithEmitter sets the lost-job emitter.
func WithEmitter(e Emitter) Option {
	return func(r *Reaper) { r.emitter = e }
}

// WithLogger sets the reaper's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) { r.now = now }
}

// Reaper periodically marks expired claims lost and purges old results.
type Reaper struct {
	store        job.Store
	emitter      Emitter
	logger       *slog.Logger
	interval     time.Duration
	claimTimeout time.Duration
	retention    time.Duration
	batch        int
	now          func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Reaper.
func New(store job.Store, opts ...Option) *Reaper {
	r := &Reaper{
		store:        store,
		logger:       slog.Default(),
		interval:     time.Minute,
		claimTimeout: time.Hour,
		retention:    30 * 24 * time.Hour,
		batch:        100,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.batch = max(r.batch, 1)
	return r
}

// Start launches the reap loop. It returns immediately.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop(r.stopCh)

	r.logger.Info("reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("claim_timeout", r.claimTimeout),
		slog.Duration("retention", r.retention),
	)
	return nil
}

// Stop ends the loop and waits for an in-progress pass.
func (r *Reaper) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	stop := r.stopCh
	r.mu.Unlock()

	close(stop)
	r.wg.Wait()
	r.logger.Info("reaper stopped")
	return nil
}

func (r *Reaper) loop(stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := r.Reap(context.Background(), r.now()); err != nil {
				r.logger.Error("reap error", slog.String("error", err.Error()))
			}
		}
	}
}

// Reap runs one pass: every claim taken before now minus the claim
// timeout becomes a lost result, then results older than the retention
// are deleted.
func (r *Reaper) Reap(ctx context.Context, now time.Time) (Report, error) {
	now = now.UTC()
	var rep Report

	lost, err := r.reapClaims(ctx, now)
	rep.Lost = lost
	if err != nil {
		return rep, err
	}

	if r.retention > 0 {
		n, err := r.store.PurgeResults(ctx, now.Add(-r.retention))
		if err != nil {
			return rep, fmt.Errorf("purge results: %w", err)
		}
		rep.Purged = n
		if n > 0 {
			r.logger.Info("purged results", slog.Int64("count", n))
		}
	}
	return rep, nil
}

func (r *Reaper) reapClaims(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-r.claimTimeout)
	lost := 0
	for {
		claims, err := r.store.ListExpiredClaims(ctx, cutoff, r.batch)
		if err != nil {
			return lost, fmt.Errorf("list expired claims: %w", err)
		}

		marked := 0
		for _, c := range claims {
			claimedAt := c.ClaimedAt
			res := job.NewResult(c, job.ResultLost, &claimedAt, now)
			res.Error = fmt.Sprintf("claim held by %s since %s exceeded %s",
				c.WorkerID, c.ClaimedAt.Format(time.RFC3339), r.claimTimeout)

			ok, err := r.store.MarkLost(ctx, c.ID, cutoff, res)
			if err != nil {
				return lost, fmt.Errorf("mark lost %s: %w", c.ID, err)
			}
			if !ok {
				continue
			}
			marked++
			r.logger.Warn("job lost",
				slog.String("request_id", c.ID.String()),
				slog.String("job_type", c.JobType),
				slog.String("worker_id", c.WorkerID.String()),
				slog.Time("claimed_at", c.ClaimedAt),
			)
			if r.emitter != nil {
				r.emitter.EmitJobLost(ctx, c)
			}
		}
		lost += marked

		if len(claims) < r.batch || marked == 0 {
			return lost, nil
		}
	}
}
