package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/backlog/backoff"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/queue"
)

// ErrShutdownTimeout is returned by Stop when in-flight jobs outlive the
// stop context. Their claims are left for the reaper.
var ErrShutdownTimeout = errors.New("worker: shutdown timed out with jobs in flight")

// Stats are cumulative counters for one pool.
type Stats struct {
	Claimed   int64
	Succeeded int64
	Retried   int64
	Failed    int64
	Lost      int64
	Errors    int64
}

// Pool manages a set of goroutines that poll the store, claim requests
// and hand them to the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	queueManager *queue.Manager
	logger       *slog.Logger
	tracer       trace.Tracer
	errBackoff   backoff.Strategy
	now          func() time.Time

	concurrency  int
	queues       []string
	pollInterval time.Duration
	claimBatch   int
	workerID     id.WorkerID

	claimed, succeeded, retried, failed, lost, errs atomic.Int64

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithQueues sets the queues the pool polls. Empty means every queue.
func WithQueues(queues ...string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle worker sleeps between polls.
// Sleeps are jittered between half and the full interval.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithClaimBatch sets how many candidates one poll fetches. Workers try
// them in order until a claim succeeds.
func WithClaimBatch(n int) PoolOption {
	return func(p *Pool) { p.claimBatch = n }
}

// WithQueueManager sets per-queue concurrency and rate limits.
func WithQueueManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithPoolExtensions sets the registry that receives JobClaimed.
func WithPoolExtensions(r *ext.Registry) PoolOption {
	return func(p *Pool) { p.extensions = r }
}

// WithLogger sets the pool's logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithTracerProvider sets the provider for claim spans.
func WithTracerProvider(tp trace.TracerProvider) PoolOption {
	return func(p *Pool) { p.tracer = tp.Tracer(tracerName) }
}

// WithErrorBackoff sets the delay strategy used after store errors.
func WithErrorBackoff(s backoff.Strategy) PoolOption {
	return func(p *Pool) { p.errBackoff = s }
}

// WithClock overrides time.Now for polling and claiming.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// WithWorkerID sets the identity written on claims. A new ID is
// generated otherwise.
func WithWorkerID(wid id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = wid }
}

// NewPool creates a worker pool.
func NewPool(store job.Store, executor *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		logger:       slog.Default(),
		tracer:       otel.GetTracerProvider().Tracer(tracerName),
		errBackoff:   backoff.Polling(),
		now:          time.Now,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		claimBatch:   5,
		workerID:     id.NewWorkerID(),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.extensions == nil {
		p.extensions = ext.NewRegistry(p.logger)
	}
	p.concurrency = max(p.concurrency, 1)
	p.claimBatch = max(p.claimBatch, 1)
	return p
}

// WorkerID returns the identity this pool claims requests under.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Claimed:   p.claimed.Load(),
		Succeeded: p.succeeded.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
		Lost:      p.lost.Load(),
		Errors:    p.errs.Load(),
	}
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	// Fresh channels and run context each start, so a stopped pool can be
	// started again.
	p.stopCh = make(chan struct{})
	p.runCtx, p.cancelRuns = context.WithCancel(context.Background())
	stop, runCtx := p.stopCh, p.runCtx

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.loop(runCtx, stop)
	}
	return nil
}

// Stop stops polling and waits for in-flight jobs. When ctx expires
// first, job contexts are cancelled and Stop returns ErrShutdownTimeout
// without waiting further.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stop, cancelRuns := p.stopCh, p.cancelRuns
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancelRuns()
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		cancelRuns()
		return ErrShutdownTimeout
	}
}

// Work claims and executes at most one request. It reports whether a job
// ran. Errors are store errors; job failures are recorded as results.
func (p *Pool) Work(ctx context.Context) (bool, error) {
	c, err := p.claim(ctx)
	if err != nil || c == nil {
		return false, err
	}
	if p.queueManager != nil {
		defer p.queueManager.Release(c.Queue)
	}

	p.claimed.Add(1)
	p.extensions.EmitJobClaimed(ctx, c)

	status, err := p.executor.Execute(ctx, c)
	switch status {
	case job.ResultSucceeded:
		p.succeeded.Add(1)
	case job.ResultRetried:
		p.retried.Add(1)
	case job.ResultFailed:
		p.failed.Add(1)
	case job.ResultLost:
		p.lost.Add(1)
	}
	return true, err
}

// claim polls for candidates and tries each until one is won. Losing a
// race to another worker is not an error.
func (p *Pool) claim(ctx context.Context) (*job.Claim, error) {
	queues := p.queues
	if p.queueManager != nil && len(queues) > 0 {
		if queues = p.queueManager.Available(queues); len(queues) == 0 {
			return nil, nil
		}
	}

	ctx, span := p.tracer.Start(ctx, "backlog.claim",
		trace.WithAttributes(attribute.String("backlog.worker.id", p.workerID.String())),
	)
	defer span.End()

	now := p.now().UTC()
	candidates, err := p.store.PollRequests(ctx, queues, now, p.claimBatch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("backlog.candidates", len(candidates)))

	for _, r := range candidates {
		if p.queueManager != nil && !p.queueManager.Acquire(r.Queue) {
			continue
		}
		c, err := p.store.ClaimRequest(ctx, r.ID, p.workerID, now)
		if err != nil || c == nil {
			if p.queueManager != nil {
				p.queueManager.Cancel(r.Queue)
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			continue
		}
		if p.queueManager != nil {
			p.queueManager.Commit(c.Queue)
		}
		span.SetAttributes(
			attribute.String("backlog.request.id", c.ID.String()),
			attribute.String("backlog.job.type", c.JobType),
			attribute.String("backlog.queue", c.Queue),
		)
		return c, nil
	}
	return nil, nil
}

func (p *Pool) loop(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	failures := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		ran, err := p.Work(ctx)
		if err != nil {
			failures++
			p.errs.Add(1)
			delay := p.errBackoff.Delay(failures)
			p.logger.Error("worker loop error",
				slog.String("worker_id", p.workerID.String()),
				slog.Int("consecutive_failures", failures),
				slog.Duration("backoff", delay),
				slog.String("error", err.Error()),
			)
			p.sleep(delay, stop)
			continue
		}
		failures = 0
		if !ran {
			p.sleep(p.idleDelay(), stop)
		}
	}
}

func (p *Pool) idleDelay() time.Duration {
	half := p.pollInterval / 2
	if half <= 0 {
		return p.pollInterval
	}
	return half + rand.N(half) //nolint:gosec // jitter does not need crypto rand
}

func (p *Pool) sleep(d time.Duration, stop <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-stop:
	}
}
