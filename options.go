package sidekiq

import "time"

type options struct {
	queue     string
	jid       string
	retry     *RetryPolicy
	uniqueFor time.Duration
}

// Option configures a job at enqueue time.
type Option func(*options)

// Queue routes the job to the named ready queue.
func Queue(name string) Option {
	return func(o *options) {
		o.queue = name
	}
}

// JID sets a custom job id. If not provided, a random one is generated.
func JID(id string) Option {
	return func(o *options) {
		o.jid = id
	}
}

// Retry sets the retry budget. n <= 0 disables retries.
func Retry(n int) Option {
	return func(o *options) {
		o.retry = RetryTimes(n)
	}
}

// NoRetry sends the job to the dead set on its first failure.
func NoRetry() Option {
	return func(o *options) {
		o.retry = RetryDisabled()
	}
}

// UniqueFor suppresses duplicates (same class, queue and args) for d after creation.
func UniqueFor(d time.Duration) Option {
	return func(o *options) {
		o.uniqueFor = d
	}
}

func (o *options) apply(j *Job) {
	if o.queue != "" {
		j.Queue = o.queue
	}
	if o.jid != "" {
		j.JID = o.jid
	}
	if o.retry != nil {
		j.Retry = o.retry
	}
	if o.uniqueFor > 0 {
		j.UniqueFor = o.uniqueFor.Seconds()
	}
}
