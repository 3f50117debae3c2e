package sidekiq

import (
	"context"
	"time"

	"github.com/UniQw/sidekiq-go/internal/store"
	"github.com/redis/go-redis/v9"
)

// reserveUnique records the job as the owner of its fingerprint at enqueue time.
// It is advisory: a held lock does not stop the enqueue, the duplicate is
// skipped when dispatched. It reports whether this job became the owner.
func reserveUnique(ctx context.Context, rdb redis.UniversalClient, j *Job) (bool, error) {
	ttl := j.UniqueWindow()
	if ttl <= 0 {
		return true, nil
	}
	ok, err := store.Reserve(ctx, rdb, j.uniqueKey(), j.JID, ttl)
	return ok, connErr(err)
}

// acquireUnique guards dispatch. The lock lives until created_at + unique_for;
// once that has passed the job runs unguarded. ErrLockConflict means another
// job with the same fingerprint owns the window.
func acquireUnique(ctx context.Context, rdb redis.UniversalClient, j *Job, now time.Time) error {
	window := j.UniqueWindow()
	if window <= 0 {
		return nil
	}
	created := time.Unix(0, int64(j.CreatedAt*float64(time.Second)))
	remaining := created.Add(window).Sub(now)
	if remaining <= 0 {
		return nil
	}
	ok, err := store.Acquire(ctx, rdb, j.uniqueKey(), j.JID, remaining)
	if err != nil {
		return connErr(err)
	}
	if !ok {
		return ErrLockConflict
	}
	return nil
}
