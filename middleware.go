package sidekiq

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"
)

// ServerMiddleware intercepts job dispatch.
//
// A link must either return a result without calling onward (short-circuit) or
// call chain.Next and return what it returns. A link that returns nil without
// calling chain.Next silently drops the job as if it succeeded; that is a bug in
// the link, not in the processor.
type ServerMiddleware interface {
	Call(ctx context.Context, chain ChainIter, job *Job, w Worker, rdb redis.UniversalClient) error
}

// MiddlewareFunc adapts a function to ServerMiddleware.
type MiddlewareFunc func(ctx context.Context, chain ChainIter, job *Job, w Worker, rdb redis.UniversalClient) error

func (f MiddlewareFunc) Call(ctx context.Context, chain ChainIter, job *Job, w Worker, rdb redis.UniversalClient) error {
	return f(ctx, chain, job, w, rdb)
}

// ChainIter is a link's position in the chain. It is a value; each link gets its own.
type ChainIter struct {
	stack []ServerMiddleware
	pos   int
}

// Next runs the remaining links and finally the worker.
func (c ChainIter) Next(ctx context.Context, job *Job, w Worker, rdb redis.UniversalClient) error {
	if c.pos >= len(c.stack) {
		return w.Perform(ctx, job)
	}
	link := c.stack[c.pos]
	return link.Call(ctx, ChainIter{stack: c.stack, pos: c.pos + 1}, job, w, rdb)
}

// LoggingMiddleware logs each dispatch and its duration.
func LoggingMiddleware(l Logger) ServerMiddleware {
	return MiddlewareFunc(func(ctx context.Context, chain ChainIter, job *Job, w Worker, rdb redis.UniversalClient) error {
		start := time.Now()
		err := chain.Next(ctx, job, w, rdb)
		if err != nil {
			l.Warnf("job failed: class=%s jid=%s queue=%s dur=%s err=%v", job.Class, job.JID, job.Queue, time.Since(start), err)
		} else {
			l.Debugf("job done: class=%s jid=%s queue=%s dur=%s", job.Class, job.JID, job.Queue, time.Since(start))
		}
		return err
	})
}

// RecoverMiddleware turns a panic further down the chain into a *PanicError,
// so the job is retried like any other failure.
func RecoverMiddleware(l Logger) ServerMiddleware {
	return MiddlewareFunc(func(ctx context.Context, chain ChainIter, job *Job, w Worker, rdb redis.UniversalClient) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				l.Errorf("panic in job: class=%s jid=%s panic=%v\n%s", job.Class, job.JID, r, stack)
				err = &PanicError{Value: r, Stack: stack}
			}
		}()
		return chain.Next(ctx, job, w, rdb)
	})
}
