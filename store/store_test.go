package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/backlog/store"
)

func TestOpen_UnknownDriver(t *testing.T) {
	s, release, err := store.Open(context.Background(), "sqlite", "file::memory:", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
	assert.Nil(t, s)
	assert.Nil(t, release)
}
