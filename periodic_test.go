package sidekiq

import (
	"context"
	"testing"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/stretchr/testify/require"
)

func TestNewPeriodic_InvalidCron(t *testing.T) {
	_, err := NewPeriodic("every tuesday")
	require.ErrorIs(t, err, ErrInvalidCron)
}

func TestPeriodic_CronForms(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 15, 30, 0, time.UTC)
	cases := map[string]time.Time{
		"0 * * * * *": time.Date(2025, 1, 1, 10, 16, 0, 0, time.UTC),
		"*/5 * * * *": time.Date(2025, 1, 1, 10, 20, 0, 0, time.UTC),
		"@hourly":     time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC),
	}
	for spec, want := range cases {
		b, err := NewPeriodic(spec)
		require.NoError(t, err, spec)
		require.Equal(t, want, b.pj.NextFireAt(base), spec)
	}
}

func TestPeriodic_Register(t *testing.T) {
	rdb, _ := newMiniClient(t)
	ctx := context.Background()
	p := newTestProcessor(t, rdb, "reports")
	w := WorkerFunc(func(ctx context.Context, job *Job) error { return nil })

	for i := 0; i < 2; i++ {
		b, err := NewPeriodic("0 0 * * * *")
		require.NoError(t, err)
		b.Name("hourly report").Retry(RetryTimes(2))
		require.NoError(t, b.Register(ctx, p, "HourlyReport", w, WorkerOpts{Queue: "reports"}))
	}

	members := rdb.ZRange(ctx, keys.Periodic, 0, -1).Val()
	require.Len(t, members, 1, "identical descriptors share one entry")
	pj, err := parsePeriodic(members[0])
	require.NoError(t, err)
	require.Equal(t, "HourlyReport", pj.Class)
	require.Equal(t, "reports", pj.Queue)
	require.Equal(t, 2, pj.Retry.Budget(25))

	_, _, ok := p.lookup("HourlyReport")
	require.True(t, ok)

	require.NoError(t, DestroyAll(ctx, rdb))
	require.Zero(t, rdb.Exists(ctx, keys.Periodic).Val())
}

func TestPeriodicJob_IntoJob(t *testing.T) {
	b, err := NewPeriodic("@daily")
	require.NoError(t, err)
	b.pj.Class = "Daily"
	b.pj.Queue = "q"
	a := b.pj.IntoJob()
	c := b.pj.IntoJob()
	require.Equal(t, "Daily", a.Class)
	require.Equal(t, "q", a.Queue)
	require.Equal(t, "[]", string(a.Args))
	require.NotEqual(t, a.JID, c.JID)
}
