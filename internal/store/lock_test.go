package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_Acquire_ReentrantForOwner(t *testing.T) {
	rdb, s := newMiniClient(t)
	ctx := context.Background()

	ok, err := Acquire(ctx, rdb, "unique:q:C:h", "jid-1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Acquire(ctx, rdb, "unique:q:C:h", "jid-1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "owner re-enters its own lock")

	ok, err = Acquire(ctx, rdb, "unique:q:C:h", "jid-2", 5*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "another owner must be rejected")

	s.FastForward(6 * time.Second)

	ok, err = Acquire(ctx, rdb, "unique:q:C:h", "jid-2", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lock is free again")
}

func TestLock_Reserve(t *testing.T) {
	rdb, s := newMiniClient(t)
	ctx := context.Background()

	ok, err := Reserve(ctx, rdb, "unique:q:C:h", "jid-1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Reserve(ctx, rdb, "unique:q:C:h", "jid-2", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	v, err := s.Get("unique:q:C:h")
	require.NoError(t, err)
	require.Equal(t, "jid-1", v)
	require.Equal(t, time.Second, s.TTL("unique:q:C:h"))
}
