// Package storetest is a conformance suite every job.Store runs.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/job"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) job.Store

// base is truncated to microseconds so Postgres round-trips compare equal.
var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// NewRequest builds a pending request due at base.
func NewRequest(jobType string, priority int) *job.Request {
	return &job.Request{
		ID:           id.NewRequestID(),
		JobType:      jobType,
		Args:         json.RawMessage(`{"user_id":42}`),
		Queue:        "default",
		Priority:     priority,
		ScheduledFor: base,
		Attempt:      1,
		Status:       job.StatusPending,
		CreatedAt:    base,
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s job.Store)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"AdmissionUniqueness", testAdmissionUniqueness},
		{"AdmissionFinishedCount", testAdmissionFinishedCount},
		{"PollOrdering", testPollOrdering},
		{"PollSkipsFutureAndOtherQueues", testPollFilters},
		{"ClaimContention", testClaimContention},
		{"FinishClaim", testFinishClaim},
		{"RetryClaim", testRetryClaim},
		{"ExpiredClaimsAndMarkLost", testMarkLost},
		{"PurgeResults", testPurgeResults},
		{"ListAndCount", testListAndCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func enqueue(t *testing.T, s job.Store, r *job.Request) {
	t.Helper()
	ok, err := s.EnqueueRequest(context.Background(), r, job.AdmitIfIdle)
	require.NoError(t, err)
	require.True(t, ok)
}

func claim(t *testing.T, s job.Store, r *job.Request, w id.WorkerID) *job.Claim {
	t.Helper()
	c, err := s.ClaimRequest(context.Background(), r.ID, w, base)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func testEnqueueAndGet(t *testing.T, s job.Store) {
	ctx := context.Background()
	r := NewRequest("send_welcome", 0)
	r.TraceContext = map[string]string{"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01"}
	enqueue(t, s, r)
	assert.Positive(t, r.Seq)

	got, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID.String(), got.ID.String())
	assert.Equal(t, job.StatusPending, got.Status)
	assert.JSONEq(t, `{"user_id":42}`, string(got.Args))
	assert.Equal(t, r.TraceContext, got.TraceContext)
	assert.True(t, base.Equal(got.ScheduledFor))

	_, err = s.GetRequest(ctx, id.NewRequestID())
	assert.ErrorIs(t, err, backlog.ErrRequestNotFound)
}

func testAdmissionUniqueness(t *testing.T, s job.Store) {
	ctx := context.Background()
	const n = 20

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r := NewRequest("reindex", 0)
			r.ConcurrencyKey = "reindex:all"
			ok, err := s.EnqueueRequest(ctx, r, job.AdmitIfIdle)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				admitted++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, admitted)

	// A claimed request still occupies the key.
	pending, err := s.ListRequests(ctx, job.RequestListOpts{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	claim(t, s, pending[0], id.NewWorkerID())

	again := NewRequest("reindex", 0)
	again.ConcurrencyKey = "reindex:all"
	ok, err := s.EnqueueRequest(ctx, again, job.AdmitIfIdle)
	require.NoError(t, err)
	assert.False(t, ok)

	// Requests without a key bypass admission entirely.
	free := NewRequest("reindex", 0)
	ok, err = s.EnqueueRequest(ctx, free, func(context.Context, string, job.KeyState) bool { return false })
	require.NoError(t, err)
	assert.True(t, ok)
}

func testAdmissionFinishedCount(t *testing.T, s job.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()

	r := NewRequest("digest", 0)
	r.ConcurrencyKey = "digest@2024-03-10T12:00:00Z"
	ok, err := s.EnqueueRequest(ctx, r, job.AdmitOnce)
	require.NoError(t, err)
	require.True(t, ok)

	c := claim(t, s, r, w)
	require.NoError(t, s.FinishClaim(ctx, c.ID, job.NewResult(c, job.ResultSucceeded, nil, base)))

	var seen job.KeyState
	dup := NewRequest("digest", 0)
	dup.ConcurrencyKey = r.ConcurrencyKey
	ok, err = s.EnqueueRequest(ctx, dup, func(_ context.Context, _ string, st job.KeyState) bool {
		seen = st
		return job.AdmitOnce(ctx, "", st)
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, job.KeyState{Finished: 1}, seen)
}

func testPollOrdering(t *testing.T, s job.Store) {
	ctx := context.Background()
	var ids []string
	for _, p := range []int{5, 1, 5, -3} {
		r := NewRequest("ordered", p)
		enqueue(t, s, r)
		ids = append(ids, r.ID.String())
	}

	got, err := s.PollRequests(ctx, []string{"default"}, base, 10)
	require.NoError(t, err)
	require.Len(t, got, 4)

	want := []string{ids[0], ids[2], ids[1], ids[3]}
	for i, r := range got {
		assert.Equal(t, want[i], r.ID.String(), "position %d", i)
	}

	limited, err := s.PollRequests(ctx, nil, base, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testPollFilters(t *testing.T, s job.Store) {
	ctx := context.Background()

	future := NewRequest("later", 0)
	future.ScheduledFor = base.Add(time.Hour)
	enqueue(t, s, future)

	other := NewRequest("elsewhere", 0)
	other.Queue = "mail"
	enqueue(t, s, other)

	got, err := s.PollRequests(ctx, []string{"default"}, base, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.PollRequests(ctx, nil, base, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "mail", got[0].Queue)

	got, err = s.PollRequests(ctx, []string{"default"}, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, future.ID.String(), got[0].ID.String())
}

func testClaimContention(t *testing.T, s job.Store) {
	ctx := context.Background()
	r := NewRequest("contended", 0)
	enqueue(t, s, r)

	const workers = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.ClaimRequest(ctx, r.ID, id.NewWorkerID(), base)
			assert.NoError(t, err)
			if c != nil {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)

	got, err := s.PollRequests(ctx, nil, base, 10)
	require.NoError(t, err)
	assert.Empty(t, got, "claimed requests are not eligible")
}

func testFinishClaim(t *testing.T, s job.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	r := NewRequest("finish", 2)
	enqueue(t, s, r)
	c := claim(t, s, r, w)
	assert.Equal(t, w.String(), c.WorkerID.String())
	assert.True(t, base.Equal(c.ClaimedAt))

	// A different worker cannot finish it.
	stranger := *c
	stranger.WorkerID = id.NewWorkerID()
	err := s.FinishClaim(ctx, c.ID, job.NewResult(&stranger, job.ResultSucceeded, nil, base))
	assert.ErrorIs(t, err, backlog.ErrClaimNotFound)

	started := base
	res := job.NewResult(c, job.ResultSucceeded, &started, base.Add(time.Second))
	require.NoError(t, s.FinishClaim(ctx, c.ID, res))

	_, err = s.GetRequest(ctx, r.ID)
	assert.ErrorIs(t, err, backlog.ErrRequestNotFound)

	got, err := s.GetResult(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ResultSucceeded, got.Status)
	assert.Equal(t, r.ID.String(), got.RequestID.String())
	assert.Equal(t, 2, got.Priority)
	require.NotNil(t, got.StartedAt)
	assert.True(t, base.Equal(*got.StartedAt))

	assert.ErrorIs(t, s.FinishClaim(ctx, c.ID, res), backlog.ErrClaimNotFound)
	_, err = s.GetResult(ctx, id.NewResultID())
	assert.ErrorIs(t, err, backlog.ErrResultNotFound)
}

func testRetryClaim(t *testing.T, s job.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	r := NewRequest("flaky", 0)
	r.ConcurrencyKey = "flaky:1"
	r.Retries = 2
	enqueue(t, s, r)
	c := claim(t, s, r, w)

	next := NewRequest("flaky", 0)
	next.ConcurrencyKey = r.ConcurrencyKey
	next.Attempt = 2
	next.Retries = 2
	next.ScheduledFor = base.Add(2 * time.Second)
	res := job.NewResult(c, job.ResultRetried, nil, base)
	res.Error = "boom"
	res.RetriedRequestID = next.ID
	require.NoError(t, s.RetryClaim(ctx, c.ID, next, res))

	got, err := s.GetRequest(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, "flaky:1", got.ConcurrencyKey)

	stored, err := s.GetResult(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ResultRetried, stored.Status)
	assert.Equal(t, next.ID.String(), stored.RetriedRequestID.String())

	// The retry keeps the key occupied.
	dup := NewRequest("flaky", 0)
	dup.ConcurrencyKey = "flaky:1"
	ok, err := s.EnqueueRequest(ctx, dup, job.AdmitIfIdle)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.RetryClaim(ctx, c.ID, NewRequest("flaky", 0), job.NewResult(c, job.ResultRetried, nil, base)), backlog.ErrClaimNotFound)
}

func testMarkLost(t *testing.T, s job.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()

	old := NewRequest("slow", 0)
	enqueue(t, s, old)
	c, err := s.ClaimRequest(ctx, old.ID, w, base.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, c)

	fresh := NewRequest("slow", 0)
	enqueue(t, s, fresh)
	claim(t, s, fresh, w)

	cutoff := base.Add(-time.Hour)
	expired, err := s.ListExpiredClaims(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID.String(), expired[0].ID.String())

	res := job.NewResult(expired[0], job.ResultLost, nil, base)
	ok, err := s.MarkLost(ctx, expired[0].ID, cutoff, res)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkLost(ctx, expired[0].ID, cutoff, job.NewResult(expired[0], job.ResultLost, nil, base))
	require.NoError(t, err)
	assert.False(t, ok, "second reap is a no-op")

	// The worker finishing late finds its claim gone.
	assert.ErrorIs(t, s.FinishClaim(ctx, c.ID, job.NewResult(c, job.ResultSucceeded, nil, base)), backlog.ErrClaimNotFound)

	n, err := s.CountResults(ctx, job.CountOpts{Status: string(job.ResultLost)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testPurgeResults(t *testing.T, s job.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	for i, ended := range []time.Time{base.Add(-48 * time.Hour), base.Add(-time.Hour)} {
		r := NewRequest("purge", i)
		enqueue(t, s, r)
		c := claim(t, s, r, w)
		require.NoError(t, s.FinishClaim(ctx, c.ID, job.NewResult(c, job.ResultSucceeded, nil, ended)))
	}

	n, err := s.PurgeResults(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := s.CountResults(ctx, job.CountOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func testListAndCount(t *testing.T, s job.Store) {
	ctx := context.Background()
	w := id.NewWorkerID()
	for i := 0; i < 3; i++ {
		enqueue(t, s, NewRequest("listed", i))
	}
	mail := NewRequest("mailer", 0)
	mail.Queue = "mail"
	enqueue(t, s, mail)
	claim(t, s, mail, w)

	all, err := s.ListRequests(ctx, job.RequestListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	page, err := s.ListRequests(ctx, job.RequestListOpts{ListOpts: job.ListOpts{Limit: 2, Offset: 1, Queue: "default"}})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 1, page[0].Priority)

	claimed, err := s.ListRequests(ctx, job.RequestListOpts{Status: job.StatusClaimed})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "mail", claimed[0].Queue)

	n, err := s.CountRequests(ctx, job.CountOpts{Queue: "default", Status: string(job.StatusPending)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.CountRequests(ctx, job.CountOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	results, err := s.ListResults(ctx, job.ResultListOpts{ListOpts: job.ListOpts{JobType: "listed"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}
