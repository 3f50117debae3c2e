package sidekiq

import (
	"context"
	"errors"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/UniQw/sidekiq-go/internal/store"
	"github.com/redis/go-redis/v9"
)

// Scheduled promotes due entries of time-ordered sets into ready queues.
//
// Any number of promoters may run against the same Redis. Each entry is
// claimed by a conditional ZREM (or, for periodic entries, a ZADD XX CH);
// a promoter that loses the race skips the entry.
type Scheduled struct {
	rdb     redis.UniversalClient
	log     Logger
	metrics *Metrics
	dead    store.DeadLimits
}

// NewScheduled creates a promoter. A nil logger discards output.
func NewScheduled(rdb redis.UniversalClient, l Logger) *Scheduled {
	if l == nil {
		l = noopLogger{}
	}
	return &Scheduled{rdb: rdb, log: l, dead: store.DeadLimits{MaxJobs: DefaultDeadMaxJobs, Timeout: DefaultDeadTimeout}}
}

// EnqueueJobs moves up to 100 due entries per set into their ready queues.
// It returns how many due entries it saw, which under concurrency can exceed
// how many this call moved.
func (s *Scheduled) EnqueueJobs(ctx context.Context, now time.Time, sets []string) (int, error) {
	n := 0
	for _, set := range sets {
		members, err := store.RangeDue(ctx, s.rdb, set, now)
		if err != nil {
			return n, connErr(err)
		}
		n += len(members)

		moved := 0
		for _, m := range members {
			ok, err := store.Remove(ctx, s.rdb, set, m)
			if err != nil {
				return n, connErr(err)
			}
			if !ok {
				continue
			}
			j, err := Deserialize([]byte(m))
			if err != nil {
				s.log.Errorf("scheduler: dropping undecodable entry to dead: set=%s err=%v", set, err)
				s.metrics.observeDead("malformed")
				if kerr := store.Kill(ctx, s.rdb, nil, []byte(m), now, s.dead); kerr != nil {
					return n, connErr(kerr)
				}
				continue
			}
			s.log.Debugf("scheduler: enqueueing job: set=%s class=%s queue=%s jid=%s", set, j.Class, j.Queue, j.JID)
			if err := NewUnitOfWork(j).EnqueueDirect(ctx, s.rdb); err != nil {
				// Put it back so it is not lost; the next pass retries it.
				if rerr := store.ScheduleAt(ctx, s.rdb, set, []byte(m), now); rerr != nil {
					s.log.Errorf("scheduler: restore failed, job lost: set=%s jid=%s err=%v", set, j.JID, rerr)
				}
				return n, err
			}
			moved++
		}
		s.metrics.observePromoted(set, moved)
	}
	return n, nil
}

// EnqueuePeriodicJobs fires every due periodic descriptor: the descriptor is
// re-scored to its next fire time after now, and only the promoter whose
// update changed the score enqueues the job, in the same atomic step. It
// returns the due entries seen.
func (s *Scheduled) EnqueuePeriodicJobs(ctx context.Context, now time.Time) (int, error) {
	members, err := store.RangeDue(ctx, s.rdb, keys.Periodic, now)
	if err != nil {
		return 0, connErr(err)
	}

	fired := 0
	for _, m := range members {
		pj, err := parsePeriodic(m)
		if err != nil {
			if errors.Is(err, ErrMalformedJob) || errors.Is(err, ErrInvalidCron) {
				s.log.Errorf("scheduler: removing invalid periodic entry: err=%v", err)
				if _, rerr := store.Remove(ctx, s.rdb, keys.Periodic, m); rerr != nil {
					return len(members), connErr(rerr)
				}
				continue
			}
			return len(members), err
		}

		j := pj.IntoJob()
		j.EnqueuedAt = store.Score(time.Now())
		raw, err := j.Serialize()
		if err != nil {
			return len(members), err
		}
		// Re-scoring and pushing happen together: a failed push leaves the
		// firing due for the next pass.
		won, err := store.Fire(ctx, s.rdb, keys.Periodic, m, pj.NextFireAt(now), j.Queue, raw)
		if err != nil {
			return len(members), connErr(err)
		}
		if !won {
			continue
		}
		s.log.Debugf("scheduler: enqueued periodic job: name=%q cron=%q class=%s queue=%s jid=%s", pj.Name, pj.Cron, j.Class, j.Queue, j.JID)
		fired++
	}
	s.metrics.observePromoted(keys.Periodic, fired)
	return len(members), nil
}
