package sidekiq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/UniQw/sidekiq-go/internal/store"
	"github.com/stretchr/testify/require"
)

func TestFetcher_EmptyQueueTimesOut(t *testing.T) {
	rdb, _ := newMiniClient(t)
	f := NewFetcher(rdb, []string{"empty"}, time.Second, 0)

	start := time.Now()
	uow, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Nil(t, uow)
	require.Less(t, time.Since(start), 3*time.Second, 0)
}

func TestFetcher_Defaults(t *testing.T) {
	rdb, _ := newMiniClient(t)
	f := NewFetcher(rdb, nil, 0, 0)
	require.Equal(t, DefaultFetchTimeout, f.timeout)
	require.Equal(t, DefaultVisibilityTTL, f.lease)
}

func TestFetcher_WaitsForLatePush(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	go func() {
		time.Sleep(150 * time.Millisecond)
		_, _ = NewClient(rdb).PerformAsync(ctx, "T", nil, Queue("q"))
	}()

	uow, err := NewFetcher(rdb, []string{"q"}, 2*time.Second, 0).Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, uow)
	require.Equal(t, "T", uow.Job.Class)
}

func TestFetcher_LeasesJobInWorkingSet(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	_, err := NewClient(rdb).PerformAsync(ctx, "T", nil, Queue("q"))
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	f := NewFetcher(rdb, []string{"q"}, time.Second, time.Minute)
	f.now = func() time.Time { return now }

	uow, err := f.Fetch(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, uow.leased)

	n, _ := rdb.LLen(ctx, keys.Queue("q")).Result()
	require.Zero(t, n)
	score, err := rdb.ZScore(ctx, keys.Working, string(uow.leased)).Result()
	require.NoError(t, err)
	require.InDelta(t, store.Score(now.Add(time.Minute)), score, 1e-6)
}

func TestFetcher_PriorityAndDecode(t *testing.T) {
	rdb, _ := newMiniClient(t)
	c := NewClient(rdb)
	ctx := context.Background()

	low, err := c.PerformAsync(ctx, "T", nil, Queue("low"))
	require.NoError(t, err)
	high, err := c.PerformAsync(ctx, "T", nil, Queue("high"))
	require.NoError(t, err)

	f := NewFetcher(rdb, []string{"high", "low"}, time.Second, 0)
	require.Equal(t, []string{"high", "low"}, f.Queues())

	uow, err := f.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, "high", uow.Queue)
	require.Equal(t, high, uow.Job.JID)

	uow, err = f.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, "low", uow.Queue)
	require.Equal(t, low, uow.Job.JID)
}

func TestFetcher_Malformed(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	require.NoError(t, rdb.LPush(ctx, "queue:q", "{nope").Err())

	uow, err := NewFetcher(rdb, []string{"q"}, time.Second, 0).Fetch(ctx)
	require.Nil(t, uow)
	var bad *MalformedJobError
	require.True(t, errors.As(err, &bad))
	require.Equal(t, "q", bad.Queue)
	require.Equal(t, []byte("{nope"), bad.Raw)
	require.ErrorIs(t, err, ErrMalformedJob)
}

func TestFetcher_ConnectionError(t *testing.T) {
	rdb, s := newMiniClient(t)
	s.Close()
	_, err := NewFetcher(rdb, []string{"q"}, time.Second, 0).Fetch(context.Background())
	require.ErrorIs(t, err, ErrConnection)
}

func TestWorkFetcher_String(t *testing.T) {
	require.Equal(t, "done", Done.String())
	require.Equal(t, "no_work_found", NoWorkFound.String())
	require.Equal(t, "unknown", WorkFetcher(9).String())
}
