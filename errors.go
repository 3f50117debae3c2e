package sidekiq

import (
	"errors"
	"fmt"
)

// ErrMalformedJob is returned when a stored job cannot be decoded. Such jobs are dead-lettered without retry.
var ErrMalformedJob = errors.New("sidekiq: malformed job")

// ErrUnknownWorker is returned when no worker is registered for a job class. Such jobs are dead-lettered without retry.
var ErrUnknownWorker = errors.New("sidekiq: unknown worker")

// ErrLockConflict reports that another job with the same fingerprint holds the unique lock.
// The processor treats it as a skip, not a failure.
var ErrLockConflict = errors.New("sidekiq: unique lock held by another job")

// ErrConnection wraps transport-level Redis failures.
var ErrConnection = errors.New("sidekiq: redis connection failure")

// ErrUnknownState is returned when an invalid state is used.
var ErrUnknownState = errors.New("sidekiq: unknown state")

// ErrJobNotFound is returned when a job with the specified JID is not found.
var ErrJobNotFound = errors.New("sidekiq: job not found")

// ErrInvalidCron is returned when a periodic job is built from an unparsable cron spec.
var ErrInvalidCron = errors.New("sidekiq: invalid cron spec")

// WorkerError is a failure reported by (or a panic raised inside) a worker's Perform.
// It is transient: the job is retried until its budget is spent.
type WorkerError struct {
	Class string
	JID   string
	Err   error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("sidekiq: worker %s (jid=%s) failed: %v", e.Class, e.JID, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// PanicError is the error a recovered worker panic becomes.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// ErrorClass names the failure in a job's error_class field.
func (e *PanicError) ErrorClass() string { return "PanicError" }

// errorClass is the stable name written to error_class. Errors may choose their
// own by implementing ErrorClass() string; Go type names never reach the wire.
func errorClass(err error) string {
	var named interface{ ErrorClass() string }
	switch {
	case errors.As(err, &named):
		return named.ErrorClass()
	case errors.Is(err, ErrUnknownWorker):
		return "UnknownWorkerError"
	case errors.Is(err, ErrMalformedJob):
		return "MalformedJobError"
	case errors.Is(err, ErrConnection):
		return "ConnectionError"
	default:
		return "WorkerError"
	}
}

// connErr tags a Redis error so callers can match it with errors.Is(err, ErrConnection).
func connErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedJob, fmt.Sprintf(format, args...))
}

// MalformedJobError carries the undecodable payload a fetch leased, so it can
// be dead-lettered as-is.
type MalformedJobError struct {
	Queue string
	Raw   []byte
	Err   error
}

func (e *MalformedJobError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Queue, e.Err)
}

func (e *MalformedJobError) Unwrap() error { return e.Err }
