package sidekiq

import (
	"context"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	"github.com/UniQw/sidekiq-go/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultFetchTimeout bounds how long one fetch waits for a job.
	DefaultFetchTimeout = 2 * time.Second
	// DefaultVisibilityTTL is how long a fetched job stays leased before another
	// processor may reclaim it. Leases are extended while the job runs.
	DefaultVisibilityTTL = 5 * time.Minute

	fetchPollInterval = 100 * time.Millisecond
)

// WorkFetcher is the outcome of a single tick.
type WorkFetcher int

const (
	// Done means a job was fetched and dispatched.
	Done WorkFetcher = iota
	// NoWorkFound means the tick ran no job: the queues were empty or the job was a unique duplicate.
	NoWorkFound
)

func (w WorkFetcher) String() string {
	switch w {
	case Done:
		return "done"
	case NoWorkFound:
		return "no_work_found"
	default:
		return "unknown"
	}
}

// Fetcher leases jobs from ready queues.
//
// Queues are polled in strict priority order: a job in an earlier queue always
// wins over later queues. Within one queue, producers LPUSH and the fetcher
// pops from the other end, so jobs come out FIFO.
//
// A fetched job is moved to the working set in the same step as the pop and
// stays there until the processor settles it, so a crash or a failed write never
// loses it; Reclaim puts it back on its queue once the lease runs out.
type Fetcher struct {
	rdb       redis.UniversalClient
	queues    []string
	queueKeys []string
	timeout   time.Duration
	lease     time.Duration
	now       func() time.Time
}

// NewFetcher creates a fetcher over queues in priority order. A non-positive
// timeout or lease selects the default.
func NewFetcher(rdb redis.UniversalClient, queues []string, timeout, lease time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if lease <= 0 {
		lease = DefaultVisibilityTTL
	}
	q := append([]string(nil), queues...)
	return &Fetcher{rdb: rdb, queues: q, queueKeys: keys.Ready(q), timeout: timeout, lease: lease, now: time.Now}
}

// Queues returns the polled queue names in priority order.
func (f *Fetcher) Queues() []string { return append([]string(nil), f.queues...) }

// Fetch waits at most the fetch timeout for a job. It returns nil, nil when
// none arrived. A leased job that cannot be decoded is returned as a
// *MalformedJobError so the caller can dead-letter it.
func (f *Fetcher) Fetch(ctx context.Context) (*UnitOfWork, error) {
	deadline := time.Now().Add(f.timeout)
	for {
		queue, raw, err := store.Dequeue(ctx, f.rdb, f.queueKeys, f.now().Add(f.lease))
		if err != nil {
			return nil, connErr(err)
		}
		if raw != nil {
			j, err := Deserialize(raw)
			if err != nil {
				return nil, &MalformedJobError{Queue: queue, Raw: raw, Err: err}
			}
			return &UnitOfWork{Queue: queue, Job: j, leased: raw}, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		if wait > fetchPollInterval {
			wait = fetchPollInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, nil
		case <-t.C:
		}
	}
}
