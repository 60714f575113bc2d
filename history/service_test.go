package history_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/enqueue"
	"github.com/xraph/backlog/history"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store/memory"
)

type payment struct {
	InvoiceID int `json:"invoice_id"`
}

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*history.Service, *memory.Store, *enqueue.Enqueuer) {
	t.Helper()
	reg := job.NewRegistry()
	reg.MustRegister(job.NewDefinition("charge", func(context.Context, payment) error { return nil },
		job.WithRetries(4)))
	s := memory.New()
	q := enqueue.New(s, reg, enqueue.WithClock(func() time.Time { return now }))
	return history.NewService(s, q), s, q
}

// finish enqueues a charge, claims it and records status.
func finish(t *testing.T, s *memory.Store, q *enqueue.Enqueuer, status job.ResultStatus, opts ...job.EnqueueOption) *job.Result {
	t.Helper()
	ctx := context.Background()
	r, err := q.Enqueue(ctx, "charge", payment{InvoiceID: 7}, opts...)
	require.NoError(t, err)
	require.NotNil(t, r)

	c, err := s.ClaimRequest(ctx, r.ID, id.NewWorkerID(), now)
	require.NoError(t, err)
	require.NotNil(t, c)

	res := job.NewResult(c, status, nil, now)
	res.Error = "card declined"
	require.NoError(t, s.FinishClaim(ctx, c.ID, res))
	return res
}

func TestRequeue_FailedResult(t *testing.T) {
	svc, s, q := setup(t)
	res := finish(t, s, q, job.ResultFailed, job.OnQueue("billing"), job.AtPriority(3))

	r, err := svc.Requeue(context.Background(), res.ID)
	require.NoError(t, err)
	require.NotNil(t, r)

	assert.NotEqual(t, res.RequestID.String(), r.ID.String())
	assert.Equal(t, "charge", r.JobType)
	assert.Equal(t, "billing", r.Queue)
	assert.Equal(t, 3, r.Priority)
	assert.Equal(t, 4, r.Retries)
	assert.Equal(t, 1, r.Attempt)
	assert.JSONEq(t, `{"invoice_id":7}`, string(r.Args))

	// The original result is untouched.
	got, err := svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ResultFailed, got.Status)
}

func TestRequeue_LostResultKeepsKey(t *testing.T) {
	svc, s, q := setup(t)
	res := finish(t, s, q, job.ResultLost, job.Key("invoice-7"))

	r, err := svc.Requeue(context.Background(), res.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "invoice-7", r.ConcurrencyKey)

	// A second requeue is deduplicated while the first is pending.
	again, err := svc.Requeue(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestRequeue_SucceededIsRejected(t *testing.T) {
	svc, s, q := setup(t)
	res := finish(t, s, q, job.ResultSucceeded)

	_, err := svc.Requeue(context.Background(), res.ID)
	assert.True(t, errors.Is(err, backlog.ErrNotRequeueable))
}

func TestRequeue_UnknownResult(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.Requeue(context.Background(), id.NewResultID())
	assert.True(t, errors.Is(err, backlog.ErrResultNotFound))
}

func TestSummarize(t *testing.T) {
	svc, s, q := setup(t)
	ctx := context.Background()

	finish(t, s, q, job.ResultSucceeded)
	finish(t, s, q, job.ResultFailed)
	finish(t, s, q, job.ResultLost, job.OnQueue("billing"))
	_, err := q.Enqueue(ctx, "charge", payment{InvoiceID: 1})
	require.NoError(t, err)

	sum, err := svc.Summarize(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Pending)
	assert.Equal(t, int64(0), sum.Claimed)
	assert.Equal(t, int64(1), sum.Succeeded)
	assert.Equal(t, int64(1), sum.Failed)
	assert.Equal(t, int64(1), sum.Lost)

	billing, err := svc.Summarize(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), billing.Pending)
	assert.Equal(t, int64(1), billing.Lost)

	list, err := svc.List(ctx, job.ResultListOpts{Status: job.ResultFailed})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
