package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Task is a maintenance routine run every Interval while the pool is running.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Config struct {
	Concurrency int
	// IdleBackoff is slept after a fetch that found nothing.
	IdleBackoff time.Duration
	// ErrorBackoff is slept after a fetch that failed.
	ErrorBackoff time.Duration
	Tasks        []Task
	Logger       Logger
}

// FetchFunc takes the next unit of work. ok is false when nothing was available.
type FetchFunc[T any] func(ctx context.Context) (w T, ok bool, err error)

// HandleFunc executes one unit of work. It must not return before the work is settled.
type HandleFunc[T any] func(ctx context.Context, w T)

// Pool runs a fixed number of slots, each looping fetch then handle.
type Pool[T any] struct {
	cfg      Config
	fetch    FetchFunc[T]
	handle   HandleFunc[T]
	inFlight atomic.Int64
	log      Logger

	// mu orders shutdown against slots starting a unit, so every unit fetched
	// once ctx is done is counted exactly once.
	mu         sync.Mutex
	stopping   bool
	atShutdown int64
}

// New creates a pool. A non-positive concurrency runs maintenance tasks only.
func New[T any](cfg Config, fetch FetchFunc[T], handle HandleFunc[T]) *Pool[T] {
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 50 * time.Millisecond
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Pool[T]{cfg: cfg, fetch: fetch, handle: handle, log: lg}
}

// InFlight reports how many units are currently being handled.
func (p *Pool[T]) InFlight() int { return int(p.inFlight.Load()) }

// Run blocks until ctx is done and every slot has settled its current unit.
// No fetch starts after ctx is done; work already fetched runs on a context that
// is not cancelled. It returns the number of units in flight when ctx was done.
func (p *Pool[T]) Run(ctx context.Context) (int, error) {
	var g errgroup.Group

	for i := 0; i < p.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			p.slotLoop(ctx, id)
			return nil
		})
	}
	for _, t := range p.cfg.Tasks {
		task := t
		g.Go(func() error {
			p.taskLoop(ctx, task)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		p.mu.Lock()
		p.stopping = true
		p.atShutdown += p.inFlight.Load()
		p.mu.Unlock()
		return nil
	})

	err := g.Wait()
	p.mu.Lock()
	n := int(p.atShutdown)
	p.mu.Unlock()
	p.log.Infof("runtime stopped: in_flight_at_shutdown=%d", n)
	return n, err
}

func (p *Pool[T]) slotLoop(ctx context.Context, id int) {
	// Fetches are bounded by their own timeout. A unit fetched after ctx is done
	// is still handled and counted by begin.
	settled := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		w, ok, err := p.fetch(settled)
		if err != nil {
			p.log.Warnf("slot %d: fetch failed: err=%v", id, err)
			sleep(ctx, p.cfg.ErrorBackoff)
			continue
		}
		if !ok {
			sleep(ctx, p.cfg.IdleBackoff)
			continue
		}
		p.begin()
		p.handle(settled, w)
		p.inFlight.Add(-1)
	}
}

func (p *Pool[T]) begin() {
	p.mu.Lock()
	p.inFlight.Add(1)
	if p.stopping {
		p.atShutdown++
	}
	p.mu.Unlock()
}

func (p *Pool[T]) taskLoop(ctx context.Context, t Task) {
	if t.Interval <= 0 || t.Run == nil {
		return
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Run(ctx); err != nil && ctx.Err() == nil {
				p.log.Warnf("%s: run failed: err=%v", t.Name, err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
