package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/engine"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store/memory"
)

// ──────────────────────────────────────────────────
// Test payloads
// ──────────────────────────────────────────────────

type welcome struct {
	UserID int `json:"user_id"`
}

func testConfig() backlog.Config {
	cfg := backlog.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.ScheduleInterval = 0
	cfg.ReapInterval = 0
	return cfg
}

type shutdownRecorder struct{ called atomic.Bool }

func (s *shutdownRecorder) Name() string { return "shutdown-recorder" }

func (s *shutdownRecorder) OnShutdown(context.Context) error {
	s.called.Store(true)
	return nil
}

func results(t *testing.T, s job.Store, status job.ResultStatus) []*job.Result {
	t.Helper()
	res, err := s.ListResults(context.Background(), job.ResultListOpts{Status: status})
	require.NoError(t, err)
	return res
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := engine.New(nil)
	assert.True(t, errors.Is(err, backlog.ErrNoStore))
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd(t *testing.T) {
	s := memory.New()
	rec := &shutdownRecorder{}
	eng, err := engine.New(s, engine.WithConfig(testConfig()), engine.WithExtension(rec))
	require.NoError(t, err)

	got := make(chan welcome, 1)
	def := job.NewDefinition("send_welcome", func(_ context.Context, w welcome) error {
		got <- w
		return nil
	})
	require.NoError(t, engine.Register(eng, def))

	r, err := engine.Enqueue(context.Background(), eng, def, welcome{UserID: 42})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "send_welcome", r.JobType)
	assert.Equal(t, "default", r.Queue)

	require.NoError(t, eng.Start(context.Background()))

	select {
	case w := <-got:
		assert.Equal(t, welcome{UserID: 42}, w)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not processed")
	}

	require.Eventually(t, func() bool {
		return len(results(t, s, job.ResultSucceeded)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, eng.Stop(context.Background()))
	assert.True(t, rec.called.Load())
	assert.Equal(t, int64(1), eng.Stats().Succeeded)
}

func TestEngine_KeyedEnqueueDeduplicates(t *testing.T) {
	eng, err := engine.New(memory.New(), engine.WithConfig(testConfig()))
	require.NoError(t, err)

	def := job.NewDefinition("sync_account", func(context.Context, welcome) error { return nil }).
		KeyedBy(func(w welcome) string { return fmt.Sprintf("account-%d", w.UserID) })
	require.NoError(t, engine.Register(eng, def))

	first, err := engine.Enqueue(context.Background(), eng, def, welcome{UserID: 1})
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := engine.Enqueue(context.Background(), eng, def, welcome{UserID: 1})
	require.NoError(t, err)
	assert.Nil(t, second)

	other, err := engine.Enqueue(context.Background(), eng, def, welcome{UserID: 2})
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestEngine_RetryThenSucceed(t *testing.T) {
	s := memory.New()
	eng, err := engine.New(s, engine.WithConfig(testConfig()))
	require.NoError(t, err)

	var calls atomic.Int32
	def := job.NewDefinition("flaky", func(context.Context, welcome) error {
		if calls.Add(1) == 1 {
			return errors.New("temporary")
		}
		return nil
	}, job.WithRetries(2))
	require.NoError(t, engine.Register(eng, def))

	_, err = engine.Enqueue(context.Background(), eng, def, welcome{UserID: 7})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		return len(results(t, s, job.ResultSucceeded)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	retried := results(t, s, job.ResultRetried)
	require.Len(t, retried, 1)
	assert.Equal(t, 1, retried[0].Attempt)
	assert.Equal(t, "temporary", retried[0].Error)
	assert.Equal(t, 2, results(t, s, job.ResultSucceeded)[0].Attempt)
}

func TestEngine_UnknownJobType(t *testing.T) {
	eng, err := engine.New(memory.New())
	require.NoError(t, err)

	_, err = eng.EnqueueRaw(context.Background(), "missing", nil)
	assert.True(t, errors.Is(err, backlog.ErrUnknownJobType))
}

func TestEngine_RequeueFailedResult(t *testing.T) {
	s := memory.New()
	eng, err := engine.New(s, engine.WithConfig(testConfig()))
	require.NoError(t, err)

	var fail atomic.Bool
	fail.Store(true)
	def := job.NewDefinition("charge", func(context.Context, welcome) error {
		if fail.Load() {
			return errors.New("card declined")
		}
		return nil
	})
	require.NoError(t, engine.Register(eng, def))

	_, err = engine.Enqueue(context.Background(), eng, def, welcome{UserID: 3})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		return len(results(t, s, job.ResultFailed)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	fail.Store(false)
	failed := results(t, s, job.ResultFailed)[0]
	r, err := eng.History().Requeue(context.Background(), failed.ID)
	require.NoError(t, err)
	require.NotNil(t, r)

	require.Eventually(t, func() bool {
		return len(results(t, s, job.ResultSucceeded)) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	eng, err := engine.New(memory.New(), engine.WithConfig(testConfig()))
	require.NoError(t, err)
	assert.Nil(t, eng.Scheduler())
	assert.Nil(t, eng.Reaper())

	require.NoError(t, eng.Stop(context.Background()))
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Stop(context.Background()))
	require.NoError(t, eng.Stop(context.Background()))
}

func TestEngine_RestartAfterStop(t *testing.T) {
	s := memory.New()
	cfg := testConfig()
	cfg.ReapInterval = 10 * time.Millisecond
	cfg.ScheduleInterval = 10 * time.Millisecond
	eng, err := engine.New(s, engine.WithConfig(cfg))
	require.NoError(t, err)

	var runs atomic.Int32
	def := job.NewDefinition("send_welcome", func(context.Context, welcome) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, engine.Register(eng, def))

	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Stop(context.Background()))
	require.NoError(t, eng.Start(context.Background()))
	defer func() { require.NoError(t, eng.Stop(context.Background())) }()

	_, err = engine.Enqueue(context.Background(), eng, def, welcome{UserID: 7})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 10*time.Millisecond,
		"restarted engine processes jobs")
}
