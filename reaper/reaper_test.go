package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog/id"
	"github.com/xraph/backlog/internal/storetest"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/reaper"
	"github.com/xraph/backlog/store/memory"
)

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type lostEvents struct{ claims []*job.Claim }

func (l *lostEvents) EmitJobLost(_ context.Context, c *job.Claim) { l.claims = append(l.claims, c) }

func claimAt(t *testing.T, s job.Store, at time.Time) *job.Claim {
	t.Helper()
	r := storetest.NewRequest("import", 0)
	r.Retries = 3
	ok, err := s.EnqueueRequest(context.Background(), r, nil)
	require.NoError(t, err)
	require.True(t, ok)
	c, err := s.ClaimRequest(context.Background(), r.ID, id.NewWorkerID(), at)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestReap_MarksExpiredClaimsLost(t *testing.T) {
	s := memory.New()
	events := &lostEvents{}
	rp := reaper.New(s,
		reaper.WithClaimTimeout(time.Hour),
		reaper.WithRetention(0),
		reaper.WithBatchSize(1),
		reaper.WithEmitter(events),
	)

	stale1 := claimAt(t, s, base)
	stale2 := claimAt(t, s, base.Add(10*time.Minute))
	fresh := claimAt(t, s, base.Add(90*time.Minute))

	rep, err := rp.Reap(context.Background(), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Lost)
	assert.Len(t, events.claims, 2)

	ctx := context.Background()
	for _, c := range []*job.Claim{stale1, stale2} {
		_, err := s.GetRequest(ctx, c.ID)
		assert.Error(t, err, "lost claim is removed")
	}
	_, err = s.GetRequest(ctx, fresh.ID)
	assert.NoError(t, err, "fresh claim is untouched")

	lost, err := s.ListResults(ctx, job.ResultListOpts{Status: job.ResultLost})
	require.NoError(t, err)
	require.Len(t, lost, 2)
	for _, res := range lost {
		require.NotNil(t, res.StartedAt)
		assert.NotEmpty(t, res.Error)
	}

	// Lost jobs are not retried even with retries left.
	n, err := s.CountRequests(ctx, job.CountOpts{Status: string(job.StatusPending)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReap_FinishedClaimIsNotLost(t *testing.T) {
	s := memory.New()
	c := claimAt(t, s, base)
	require.NoError(t, s.FinishClaim(context.Background(), c.ID,
		job.NewResult(c, job.ResultSucceeded, nil, base.Add(time.Minute))))

	rep, err := reaper.New(s, reaper.WithRetention(0)).Reap(context.Background(), base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, rep.Lost)
}

func TestReap_PurgesOldResults(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	old := claimAt(t, s, base)
	require.NoError(t, s.FinishClaim(ctx, old.ID, job.NewResult(old, job.ResultSucceeded, nil, base)))
	recent := claimAt(t, s, base.Add(48*time.Hour))
	require.NoError(t, s.FinishClaim(ctx, recent.ID, job.NewResult(recent, job.ResultSucceeded, nil, base.Add(48*time.Hour))))

	rp := reaper.New(s, reaper.WithRetention(24*time.Hour))
	rep, err := rp.Reap(ctx, base.Add(49*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rep.Purged)

	n, err := s.CountResults(ctx, job.CountOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReap_ZeroRetentionKeepsResults(t *testing.T) {
	s := memory.New()
	c := claimAt(t, s, base)
	require.NoError(t, s.FinishClaim(context.Background(), c.ID, job.NewResult(c, job.ResultSucceeded, nil, base)))

	rep, err := reaper.New(s, reaper.WithRetention(0)).Reap(context.Background(), base.AddDate(1, 0, 0))
	require.NoError(t, err)
	assert.Zero(t, rep.Purged)
}

func TestReap_StoreClosed(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Close())
	_, err := reaper.New(s).Reap(context.Background(), base)
	assert.Error(t, err)
}

func TestReaper_StartStop(t *testing.T) {
	rp := reaper.New(memory.New(), reaper.WithInterval(10*time.Millisecond))
	require.NoError(t, rp.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, rp.Stop(context.Background()))
	require.NoError(t, rp.Stop(context.Background()))
}

func TestReaper_RestartAfterStop(t *testing.T) {
	s := memory.New()
	rp := reaper.New(s,
		reaper.WithInterval(10*time.Millisecond),
		reaper.WithClaimTimeout(time.Hour),
		reaper.WithRetention(0),
		reaper.WithClock(func() time.Time { return base.Add(2 * time.Hour) }),
	)
	require.NoError(t, rp.Start(context.Background()))
	require.NoError(t, rp.Stop(context.Background()))

	claimAt(t, s, base)
	require.NoError(t, rp.Start(context.Background()))
	defer func() { require.NoError(t, rp.Stop(context.Background())) }()

	require.Eventually(t, func() bool {
		n, err := s.CountResults(context.Background(), job.CountOpts{Status: string(job.ResultLost)})
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
}
