package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog"
	"github.com/xraph/backlog/internal/storetest"
	"github.com/xraph/backlog/job"
	"github.com/xraph/backlog/store/memory"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) job.Store { return memory.New() })
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Ping(ctx), backlog.ErrStoreClosed)
	_, err := s.EnqueueRequest(ctx, storetest.NewRequest("x", 0), job.AdmitIfIdle)
	assert.ErrorIs(t, err, backlog.ErrStoreClosed)
	_, err = s.PollRequests(ctx, nil, storetest.NewRequest("x", 0).ScheduledFor, 1)
	assert.ErrorIs(t, err, backlog.ErrStoreClosed)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := storetest.NewRequest("x", 1)
	ok, err := s.EnqueueRequest(ctx, r, nil)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	got.Priority = 99

	again, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Priority)
}
