package sidekiq

import (
	"context"
	"time"
)

// Worker executes jobs of one class.
type Worker interface {
	Perform(ctx context.Context, job *Job) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, job *Job) error

func (f WorkerFunc) Perform(ctx context.Context, job *Job) error { return f(ctx, job) }

// WorkerOpts are the per-class defaults resolved at registration.
type WorkerOpts struct {
	// Queue is where producers using Options send the class. Empty means DefaultQueue.
	Queue string
	// Retry applies when the job itself carries no retry policy.
	Retry *RetryPolicy
	// UniqueFor is the uniqueness window producers using Options attach to each job.
	UniqueFor time.Duration
}

// Options turns the defaults into enqueue options, so producers and the
// processor agree on them.
func (o WorkerOpts) Options() []Option {
	var out []Option
	if o.Queue != "" {
		out = append(out, Queue(o.Queue))
	}
	if o.Retry != nil {
		r := *o.Retry
		out = append(out, func(op *options) { op.retry = &r })
	}
	if o.UniqueFor > 0 {
		out = append(out, UniqueFor(o.UniqueFor))
	}
	return out
}

type registration struct {
	worker Worker
	opts   WorkerOpts
}
