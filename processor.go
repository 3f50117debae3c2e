package sidekiq

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/UniQw/sidekiq-go/internal/keys"
	rtm "github.com/UniQw/sidekiq-go/internal/runtime"
	"github.com/UniQw/sidekiq-go/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultConcurrency is the number of dispatch slots when none is configured.
	DefaultConcurrency = 10
	// DefaultPollInterval is how often the processor promotes scheduled, retry and periodic entries.
	DefaultPollInterval = 5 * time.Second
	// DefaultDeadMaxJobs caps the dead set.
	DefaultDeadMaxJobs = 10000
	// DefaultDeadTimeout is how long a job stays in the dead set.
	DefaultDeadTimeout = 180 * 24 * time.Hour
)

// ProcessorConfig defines the configuration for a Processor.
type ProcessorConfig struct {
	// Queues are polled in this order; earlier queues have strict priority. Empty means ["default"].
	Queues []string
	// Concurrency is the number of dispatch slots.
	Concurrency int
	// FetchTimeout bounds how long one fetch waits for a job.
	FetchTimeout time.Duration
	// VisibilityTTL is how long a fetched job stays leased without a heartbeat.
	// Jobs whose lease ran out, because their processor died, go back to their queue.
	VisibilityTTL time.Duration
	// IdleBackoff is slept after a fetch that found nothing.
	IdleBackoff time.Duration
	// ErrorBackoff is slept after a fetch that failed.
	ErrorBackoff time.Duration
	// PollInterval drives the scheduled/retry/periodic promoter. Negative disables it.
	PollInterval time.Duration
	// DefaultMaxRetries applies to jobs whose retry policy does not name a count.
	DefaultMaxRetries int
	// Backoff maps a retry count (1-indexed) to the delay before that retry.
	Backoff func(retryCount int) time.Duration
	// DeadMaxJobs and DeadTimeout bound the dead set.
	DeadMaxJobs int64
	DeadTimeout time.Duration
	// DiscardDead drops jobs instead of moving them to the dead set.
	DiscardDead bool
	Logger      Logger
	Metrics     *Metrics
}

// Processor fetches jobs and dispatches them to registered workers through the middleware chain.
//
// Workers and middleware are registered before Run and are read-only afterwards.
// Several processors can live in one process; they share nothing but Redis.
type Processor struct {
	rdb       redis.UniversalClient
	cfg       ProcessorConfig
	fetcher   *Fetcher
	scheduled *Scheduled
	log       Logger
	now       func() time.Time

	mu      sync.RWMutex
	workers map[string]registration
	chain   []ServerMiddleware
	running bool
}

// NewProcessor creates a processor. rdb is borrowed, never closed.
func NewProcessor(rdb redis.UniversalClient, cfg ProcessorConfig) *Processor {
	if len(cfg.Queues) == 0 {
		cfg.Queues = []string{DefaultQueue}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.VisibilityTTL <= 0 {
		cfg.VisibilityTTL = DefaultVisibilityTTL
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = DefaultMaxRetries
	}
	if cfg.Backoff == nil {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.DeadMaxJobs <= 0 {
		cfg.DeadMaxJobs = DefaultDeadMaxJobs
	}
	if cfg.DeadTimeout <= 0 {
		cfg.DeadTimeout = DefaultDeadTimeout
	}
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	sch := NewScheduled(rdb, l)
	sch.metrics = cfg.Metrics
	sch.dead = store.DeadLimits{MaxJobs: cfg.DeadMaxJobs, Timeout: cfg.DeadTimeout}
	p := &Processor{
		rdb:       rdb,
		cfg:       cfg,
		fetcher:   NewFetcher(rdb, cfg.Queues, cfg.FetchTimeout, cfg.VisibilityTTL),
		scheduled: sch,
		log:       l,
		now:       time.Now,
		workers:   make(map[string]registration),
	}
	p.fetcher.now = func() time.Time { return p.now() }
	return p
}

// Register binds a worker to a class name. Registering a class again replaces it.
func (p *Processor) Register(class string, w Worker, opts ...WorkerOpts) {
	var o WorkerOpts
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	p.mu.Lock()
	p.workers[class] = registration{worker: w, opts: o}
	p.mu.Unlock()
}

// Using appends a middleware link. Links run in the order they were added.
func (p *Processor) Using(mw ServerMiddleware) {
	p.mu.Lock()
	p.chain = append(p.chain, mw)
	p.mu.Unlock()
}

func (p *Processor) lookup(class string) (registration, []ServerMiddleware, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reg, ok := p.workers[class]
	return reg, p.chain, ok
}

func (p *Processor) workerQueue(class string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if reg, ok := p.workers[class]; ok && reg.opts.Queue != "" {
		return reg.opts.Queue
	}
	return DefaultQueue
}

// fetched is what one slot pulls off Redis: a decoded unit of work, or the
// raw payload of a job that could not be decoded.
type fetched struct {
	uow *UnitOfWork
	bad *MalformedJobError
}

func (p *Processor) fetch(ctx context.Context) (fetched, bool, error) {
	uow, err := p.fetcher.Fetch(ctx)
	var bad *MalformedJobError
	switch {
	case errors.As(err, &bad):
		return fetched{bad: bad}, true, nil
	case err != nil:
		return fetched{}, false, err
	case uow == nil:
		return fetched{}, false, nil
	}
	return fetched{uow: uow}, true, nil
}

// Run processes jobs until ctx is done. After that no new fetch starts and
// jobs already fetched run to completion. It returns how many jobs were in
// flight when ctx was done. With a positive PollInterval it also promotes due
// entries and reclaims expired leases on every poll.
func (p *Processor) Run(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return 0, errors.New("sidekiq: processor already running")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	var tasks []rtm.Task
	if p.cfg.PollInterval > 0 {
		tasks = append(tasks,
			rtm.Task{Name: "scheduler", Interval: p.cfg.PollInterval, Run: func(ctx context.Context) error {
				_, err := p.scheduled.EnqueueJobs(ctx, p.now(), keys.TimeOrdered)
				return err
			}},
			rtm.Task{Name: "periodic", Interval: p.cfg.PollInterval, Run: func(ctx context.Context) error {
				_, err := p.scheduled.EnqueuePeriodicJobs(ctx, p.now())
				return err
			}},
			rtm.Task{Name: "reclaimer", Interval: p.cfg.PollInterval, Run: func(ctx context.Context) error {
				_, err := p.Reclaim(ctx)
				return err
			}},
		)
	}

	pool := rtm.New(rtm.Config{
		Concurrency:  p.cfg.Concurrency,
		IdleBackoff:  p.cfg.IdleBackoff,
		ErrorBackoff: p.cfg.ErrorBackoff,
		Tasks:        tasks,
		Logger:       p.log,
	}, p.fetch, func(ctx context.Context, f fetched) {
		if _, err := p.process(ctx, f); err != nil {
			p.log.Errorf("processor: %v", err)
		}
	})

	p.log.Infof("processor starting: concurrency=%d queues=%v", p.cfg.Concurrency, p.fetcher.Queues())
	return pool.Run(ctx)
}

// Reclaim returns jobs whose lease expired to their queues. The processor runs
// it on every poll; it is exported for callers that drive ticks by hand.
func (p *Processor) Reclaim(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := store.Reclaim(ctx, p.rdb, p.now())
		if err != nil {
			return total, connErr(err)
		}
		total += n
		if n < store.BatchSize {
			break
		}
	}
	if total > 0 {
		p.log.Warnf("reclaimed %d jobs with expired leases", total)
	}
	return total, nil
}

// ProcessOneTickOnce performs exactly one fetch attempt and dispatches what it found.
func (p *Processor) ProcessOneTickOnce(ctx context.Context) (WorkFetcher, error) {
	f, ok, err := p.fetch(ctx)
	if err != nil {
		return NoWorkFound, err
	}
	if !ok {
		return NoWorkFound, nil
	}
	return p.process(ctx, f)
}

func (p *Processor) process(ctx context.Context, f fetched) (WorkFetcher, error) {
	if f.bad != nil {
		p.log.Errorf("malformed job on queue %s: %v", f.bad.Queue, f.bad.Err)
		return Done, p.kill(ctx, f.bad.Raw, f.bad.Raw, "malformed")
	}

	uow := f.uow
	job := uow.Job
	reg, chain, ok := p.lookup(job.Class)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownWorker, job.Class)
		p.log.Errorf("no worker for job: class=%s jid=%s queue=%s", job.Class, job.JID, job.Queue)
		return Done, p.die(ctx, uow, err, "unknown_worker")
	}

	if err := acquireUnique(ctx, p.rdb, job, p.now()); err != nil {
		if errors.Is(err, ErrLockConflict) {
			p.log.Debugf("skipping unique duplicate: class=%s jid=%s queue=%s", job.Class, job.JID, job.Queue)
			p.cfg.Metrics.observeSkip("unique")
			return NoWorkFound, p.ack(ctx, uow)
		}
		// The job stays leased and comes back once the lease runs out.
		return NoWorkFound, fmt.Errorf("unique lock check for jid=%s: %w", job.JID, err)
	}

	stop := p.keepLeased(ctx, uow.leased)
	err := p.perform(ctx, job, reg, chain)
	stop()
	if err == nil {
		return Done, p.ack(ctx, uow)
	}
	return Done, p.fail(ctx, uow, reg, err)
}

// keepLeased extends the lease of a running job until the returned stop is called.
func (p *Processor) keepLeased(ctx context.Context, leased []byte) (stop func()) {
	if leased == nil {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(max(p.cfg.VisibilityTTL/3, time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if _, err := store.Extend(ctx, p.rdb, leased, p.now().Add(p.cfg.VisibilityTTL)); err != nil {
					p.log.Warnf("extend lease failed: err=%v", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (p *Processor) ack(ctx context.Context, uow *UnitOfWork) error {
	if uow.leased == nil {
		return nil
	}
	if err := store.Ack(ctx, p.rdb, uow.leased); err != nil {
		return fmt.Errorf("ack jid=%s: %w", uow.Job.JID, connErr(err))
	}
	return nil
}

func (p *Processor) perform(ctx context.Context, job *Job, reg registration, chain []ServerMiddleware) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("worker panicked: class=%s jid=%s panic=%v\n%s", job.Class, job.JID, r, debug.Stack())
			err = &WorkerError{Class: job.Class, JID: job.JID, Err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()
	err = ChainIter{stack: chain}.Next(withJob(ctx, job), job, reg.worker, p.rdb)
	if err == nil {
		return nil
	}
	var we *WorkerError
	if errors.As(err, &we) {
		return err
	}
	return &WorkerError{Class: job.Class, JID: job.JID, Err: err}
}

// fail schedules a retry or, once the budget is spent, dead-letters the job.
func (p *Processor) fail(ctx context.Context, uow *UnitOfWork, reg registration, cause error) error {
	job := uow.Job
	now := p.now()
	inner := cause
	var we *WorkerError
	if errors.As(cause, &we) && we.Err != nil {
		inner = we.Err
	}
	job.ErrorMessage = inner.Error()
	job.ErrorClass = errorClass(inner)
	if job.FailedAt == 0 {
		job.FailedAt = store.Score(now)
	} else {
		job.RetriedAt = store.Score(now)
	}

	budget := job.Retry.Budget(reg.opts.Retry.Budget(p.cfg.DefaultMaxRetries))
	if job.RetryCount >= budget {
		p.log.Warnf("retries exhausted: class=%s jid=%s retries=%d err=%v", job.Class, job.JID, job.RetryCount, inner)
		return p.die(ctx, uow, cause, "retries_exhausted")
	}

	job.RetryCount++
	at := now.Add(p.cfg.Backoff(job.RetryCount))
	raw, err := job.Serialize()
	if err != nil {
		return err
	}
	// The job leaves the working set only if the retry entry is written.
	if err := store.Retry(ctx, p.rdb, uow.leased, raw, at); err != nil {
		return fmt.Errorf("schedule retry for jid=%s: %w", job.JID, connErr(err))
	}
	p.cfg.Metrics.observeRetry(job.Class)
	p.log.Warnf("job failed, retrying: class=%s jid=%s retry=%d/%d at=%s err=%v", job.Class, job.JID, job.RetryCount, budget, at.UTC().Format(time.RFC3339), inner)
	return nil
}

// die moves a job that must not be retried to the dead set.
func (p *Processor) die(ctx context.Context, uow *UnitOfWork, cause error, reason string) error {
	job := uow.Job
	if job.ErrorMessage == "" {
		job.ErrorMessage = cause.Error()
		job.ErrorClass = errorClass(cause)
	}
	if job.FailedAt == 0 {
		job.FailedAt = store.Score(p.now())
	}
	raw, err := job.Serialize()
	if err != nil {
		return err
	}
	return p.kill(ctx, uow.leased, raw, reason)
}

// kill dead-letters raw and releases leased in the same transaction.
func (p *Processor) kill(ctx context.Context, leased, raw []byte, reason string) error {
	p.cfg.Metrics.observeDead(reason)
	if p.cfg.DiscardDead {
		p.log.Warnf("discarding dead job: reason=%s", reason)
		if leased == nil {
			return nil
		}
		if err := store.Ack(ctx, p.rdb, leased); err != nil {
			return fmt.Errorf("discard dead job: %w", connErr(err))
		}
		return nil
	}
	lim := store.DeadLimits{MaxJobs: p.cfg.DeadMaxJobs, Timeout: p.cfg.DeadTimeout}
	if err := store.Kill(ctx, p.rdb, leased, raw, p.now(), lim); err != nil {
		return fmt.Errorf("move job to dead set: %w", connErr(err))
	}
	return nil
}
