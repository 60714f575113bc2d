package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/backlog/enqueue"
	"github.com/xraph/backlog/ext"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/retry"
	"github.com/xraph/backlog/store/memory"
	"github.com/xraph/backlog/worker"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) OnJobClaimed(context.Context, *job.Claim) error { r.add("claimed"); return nil }

func (r *recorder) OnJobSucceeded(context.Context, *job.Claim, time.Duration) error {
	r.add("succeeded")
	return nil
}

func (r *recorder) OnJobRetried(context.Context, *job.Claim, *job.Request, error) error {
	r.add("retried")
	return nil
}

func (r *recorder) OnJobFailed(context.Context, *job.Claim, error) error { r.add("failed"); return nil }

func claimOne(t *testing.T, s job.Store) *job.Claim {
	t.Helper()
	reqs, err := s.PollRequests(context.Background(), nil, fixedNow, 1)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	c, err := s.ClaimRequest(context.Background(), reqs[0].ID, id.NewWorkerID(), fixedNow)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestExecute_UnknownJobTypeFails(t *testing.T) {
	s := memory.New()
	r := &job.Request{
		ID:           id.NewRequestID(),
		JobType:      "ghost",
		Queue:        "default",
		Retries:      5,
		Attempt:      1,
		ScheduledFor: fixedNow,
		Status:       job.StatusPending,
		CreatedAt:    fixedNow,
	}
	ok, err := s.EnqueueRequest(context.Background(), r, nil)
	require.NoError(t, err)
	require.True(t, ok)

	exec := worker.NewExecutor(s, job.NewRegistry(), worker.WithExecutorClock(clock))
	status, err := exec.Execute(context.Background(), claimOne(t, s))
	require.NoError(t, err)
	assert.Equal(t, job.ResultFailed, status)

	results, err := s.ListResults(context.Background(), job.ResultListOpts{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, job.ResultFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "unknown job type")
	assert.Nil(t, results[0].StartedAt, "the job never started")

	n, err := s.CountRequests(context.Background(), job.CountOpts{})
	require.NoError(t, err)
	assert.Zero(t, n, "unknown types are not retried")
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	def := job.NewDefinition("explode", func(context.Context, labelled) error {
		panic("kaboom")
	})
	h := newHarness(t, nil, def)
	h.enqueue(t, "explode", labelled{})

	assert.Equal(t, 1, h.drain(t))
	failed := h.results(t, job.ResultFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "kaboom")
	assert.Contains(t, failed[0].Trace, "goroutine", "trace holds the panic stack")
}

func TestExecute_PermanentErrorSkipsRetries(t *testing.T) {
	def := job.NewDefinition("fatal", func(context.Context, labelled) error {
		return retry.Permanent(errors.New("bad input"))
	}, job.WithRetries(5))
	h := newHarness(t, nil, def)
	h.enqueue(t, "fatal", labelled{})

	assert.Equal(t, 1, h.drain(t))
	assert.Empty(t, h.results(t, job.ResultRetried))
	require.Len(t, h.results(t, job.ResultFailed), 1)
}

func TestExecute_MalformedArgsFailWithoutRetry(t *testing.T) {
	var calls int
	def := job.NewDefinition("greet", func(context.Context, labelled) error {
		calls++
		return nil
	}, job.WithRetries(5))
	h := newHarness(t, nil, def)
	h.enqueue(t, "greet", json.RawMessage(`{"label": 42}`))

	assert.Equal(t, 1, h.drain(t))
	assert.Zero(t, calls)
	assert.Empty(t, h.results(t, job.ResultRetried))
	failed := h.results(t, job.ResultFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Attempt)
	assert.Contains(t, failed[0].Error, "decode args")
}

func TestExecute_RetryDelay(t *testing.T) {
	def := job.NewDefinition("later", func(context.Context, labelled) error {
		return errors.New("not yet")
	}, job.WithRetries(1), job.WithRetryDelay(func(int) time.Duration { return time.Minute }))
	h := newHarness(t, nil, def)
	h.enqueue(t, "later", labelled{})

	assert.Equal(t, 1, h.drain(t), "retry is not due yet")

	pending, err := h.store.ListRequests(context.Background(), job.RequestListOpts{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fixedNow.Add(time.Minute), pending[0].ScheduledFor)
}

func TestExecute_ClaimTakenByReaper(t *testing.T) {
	s := memory.New()
	reg := job.NewRegistry()
	reg.MustRegister(job.NewDefinition("slow", func(context.Context, labelled) error { return nil }))
	_, err := enqueue.New(s, reg, enqueue.WithClock(clock)).Enqueue(context.Background(), "slow", labelled{})
	require.NoError(t, err)

	c := claimOne(t, s)
	lost, err := s.MarkLost(context.Background(), c.ID, fixedNow.Add(time.Hour),
		job.NewResult(c, job.ResultLost, nil, fixedNow.Add(time.Hour)))
	require.NoError(t, err)
	require.True(t, lost)

	status, err := worker.NewExecutor(s, reg).Execute(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, job.ResultLost, status)

	n, err := s.CountResults(context.Background(), job.CountOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the lost result is recorded")
}

func TestExecute_EmitsHooks(t *testing.T) {
	rec := &recorder{}
	extensions := ext.NewRegistry(nil)
	extensions.Register(rec)

	calls := 0
	def := job.NewDefinition("hooked", func(context.Context, labelled) error {
		calls++
		if calls == 1 {
			return errors.New("first")
		}
		return nil
	}, job.WithRetries(1))

	reg := job.NewRegistry()
	reg.MustRegister(def)
	s := memory.New()
	pool := worker.NewPool(s,
		worker.NewExecutor(s, reg, worker.WithExtensions(extensions), worker.WithExecutorClock(clock)),
		worker.WithPoolExtensions(extensions),
		worker.WithClock(clock),
	)
	_, err := enqueue.New(s, reg, enqueue.WithClock(clock)).Enqueue(context.Background(), "hooked", labelled{})
	require.NoError(t, err)

	for range 2 {
		ran, err := pool.Work(context.Background())
		require.NoError(t, err)
		require.True(t, ran)
	}
	assert.Equal(t, []string{"claimed", "retried", "claimed", "succeeded"}, rec.events)
}

func TestExecute_SpanLinkedToEnqueue(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	reg := job.NewRegistry()
	reg.MustRegister(job.NewDefinition("traced", func(context.Context, labelled) error { return nil }))
	s := memory.New()
	_, err := enqueue.New(s, reg, enqueue.WithTracerProvider(tp), enqueue.WithClock(clock)).
		Enqueue(context.Background(), "traced", labelled{})
	require.NoError(t, err)

	pool := worker.NewPool(s,
		worker.NewExecutor(s, reg, worker.WithExecutorTracerProvider(tp)),
		worker.WithTracerProvider(tp),
		worker.WithClock(clock),
	)
	ran, err := pool.Work(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, sp := range sr.Ended() {
		byName[sp.Name()] = sp
	}
	require.Contains(t, byName, "backlog.enqueue")
	require.Contains(t, byName, "backlog.claim")
	require.Contains(t, byName, "backlog.execute")

	execSpan := byName["backlog.execute"]
	require.Len(t, execSpan.Links(), 1)
	assert.Equal(t, byName["backlog.enqueue"].SpanContext().TraceID(), execSpan.Links()[0].SpanContext.TraceID())

	var outcome string
	for _, ev := range execSpan.Events() {
		if ev.Name != "backlog.finish" {
			continue
		}
		for _, kv := range ev.Attributes {
			if kv.Key == "backlog.outcome" {
				outcome = kv.Value.AsString()
			}
		}
	}
	assert.Equal(t, string(job.ResultSucceeded), outcome)
}
