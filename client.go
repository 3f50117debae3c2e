package sidekiq

import (
	"context"
	"errors"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// Client enqueues jobs and inspects the job sets in Redis.
type Client struct {
	rdb redis.UniversalClient
	log Logger
}

// NewClient creates a new client. rdb is borrowed, never closed.
func NewClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb, log: noopLogger{}}
}

// WithLogger sets the logger used for advisory messages.
func (c *Client) WithLogger(l Logger) *Client {
	if l != nil {
		c.log = l
	}
	return c
}

func (c *Client) build(ctx context.Context, class string, args any, opts []Option) (*Job, error) {
	j, err := NewJob(class, "", args)
	if err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.apply(j)
	if j.UniqueFor > 0 {
		ok, err := reserveUnique(ctx, c.rdb, j)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Enqueued anyway; the processor skips it if the holder is still inside its window.
			c.log.Debugf("unique lock already held: class=%s queue=%s jid=%s", j.Class, j.Queue, j.JID)
		}
	}
	return j, nil
}

// PerformAsync pushes a job onto its ready queue and returns its JID.
func (c *Client) PerformAsync(ctx context.Context, class string, args any, opts ...Option) (string, error) {
	j, err := c.build(ctx, class, args, opts)
	if err != nil {
		return "", err
	}
	if err := NewUnitOfWork(j).EnqueueDirect(ctx, c.rdb); err != nil {
		return "", err
	}
	return j.JID, nil
}

// PerformIn schedules a job to become ready after d.
func (c *Client) PerformIn(ctx context.Context, d time.Duration, class string, args any, opts ...Option) (string, error) {
	return c.PerformAt(ctx, time.Now().Add(d), class, args, opts...)
}

// PerformAt schedules a job to become ready at t. A time not in the future enqueues immediately.
func (c *Client) PerformAt(ctx context.Context, t time.Time, class string, args any, opts ...Option) (string, error) {
	if !t.After(time.Now()) {
		return c.PerformAsync(ctx, class, args, opts...)
	}
	j, err := c.build(ctx, class, args, opts)
	if err != nil {
		return "", err
	}
	if err := NewUnitOfWork(j).Schedule(ctx, c.rdb, keys.Scheduled, t); err != nil {
		return "", err
	}
	return j.JID, nil
}

// ListJobs returns the jobs in a state. For StateEnqueued, queue selects the
// ready list and jobs come back in fetch order; for the sorted sets, a
// non-empty queue filters by the job's queue. Undecodable entries are skipped.
func (c *Client) ListJobs(ctx context.Context, state State, queue string) ([]*Job, error) {
	entries, err := c.entries(ctx, state, queue)
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.job)
	}
	return out, nil
}

// DeleteJob removes the job with the given JID from a state.
// It returns ErrJobNotFound if no such job exists there.
func (c *Client) DeleteJob(ctx context.Context, state State, queue, jid string) error {
	key, raw, err := c.find(ctx, state, queue, jid)
	if err != nil {
		return err
	}
	if state == StateEnqueued {
		n, err := c.rdb.LRem(ctx, key, 1, raw).Result()
		if err != nil {
			return connErr(err)
		}
		if n == 0 {
			return ErrJobNotFound
		}
		return nil
	}
	n, err := c.rdb.ZRem(ctx, key, raw).Result()
	if err != nil {
		return connErr(err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// RetryDead moves a job from the dead set back onto its ready queue with a fresh retry budget.
func (c *Client) RetryDead(ctx context.Context, jid string) error {
	_, raw, err := c.find(ctx, StateDead, "", jid)
	if err != nil {
		return err
	}
	removed, err := c.rdb.ZRem(ctx, keys.Dead, raw).Result()
	if err != nil {
		return connErr(err)
	}
	if removed == 0 {
		// Someone else retried or deleted it first.
		return ErrJobNotFound
	}
	j, err := Deserialize([]byte(raw))
	if err != nil {
		return err
	}
	j.RetryCount = 0
	j.ErrorMessage = ""
	j.ErrorClass = ""
	j.FailedAt = 0
	j.RetriedAt = 0
	return NewUnitOfWork(j).EnqueueDirect(ctx, c.rdb)
}

// QueueSize returns the number of jobs waiting in a ready queue.
func (c *Client) QueueSize(ctx context.Context, queue string) (int64, error) {
	n, err := c.rdb.LLen(ctx, keys.Queue(queue)).Result()
	if err != nil {
		return 0, connErr(err)
	}
	return n, nil
}

type entry struct {
	raw string
	job *Job
}

func (c *Client) entries(ctx context.Context, state State, queue string) ([]entry, error) {
	key, err := state.key(queue)
	if err != nil {
		return nil, err
	}
	var strs []string
	if state == StateEnqueued {
		strs, err = c.rdb.LRange(ctx, key, 0, -1).Result()
		// LPUSH puts the newest at the head; reverse into fetch order.
		for i, k := 0, len(strs)-1; i < k; i, k = i+1, k-1 {
			strs[i], strs[k] = strs[k], strs[i]
		}
	} else {
		strs, err = c.rdb.ZRange(ctx, key, 0, -1).Result()
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, connErr(err)
	}
	out := make([]entry, 0, len(strs))
	for _, s := range strs {
		j, err := Deserialize([]byte(s))
		if err != nil {
			continue
		}
		if state != StateEnqueued && queue != "" && j.Queue != queue {
			continue
		}
		out = append(out, entry{raw: s, job: j})
	}
	return out, nil
}

func (c *Client) find(ctx context.Context, state State, queue, jid string) (string, string, error) {
	key, err := state.key(queue)
	if err != nil {
		return "", "", err
	}
	entries, err := c.entries(ctx, state, queue)
	if err != nil {
		return "", "", err
	}
	for _, e := range entries {
		if e.job.JID == jid {
			return key, e.raw, nil
		}
	}
	return "", "", ErrJobNotFound
}
