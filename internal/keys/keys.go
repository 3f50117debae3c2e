// Package keys centralizes Redis key construction.
// Names follow the Sidekiq layout so that jobs can be shared with
// producers and consumers written in other languages.
package keys

const (
	// Queues is the SET of every queue name a producer has pushed to.
	Queues = "queues"
	// Scheduled is the ZSET of jobs to run at a future time (score: unix seconds).
	Scheduled = "scheduled"
	// Retry is the ZSET of failed jobs waiting for their next attempt.
	Retry = "retry"
	// Periodic is the ZSET of cron descriptors scored by their next fire time.
	Periodic = "periodic"
	// Working is the ZSET of fetched jobs not yet settled, scored by lease expiry.
	Working = "working"
	// Dead is the ZSET of jobs that exhausted their retries, scored by death time.
	Dead = "dead"
)

// Queue returns the ready LIST key for a logical queue name.
func Queue(name string) string { return "queue:" + name }

// Unique returns the lock key guarding a job fingerprint within a queue.
func Unique(queue, class, argsHash string) string {
	return "unique:" + queue + ":" + class + ":" + argsHash
}

// QueueName strips the "queue:" prefix from a ready list key.
// It returns the key unchanged when the prefix is absent.
func QueueName(key string) string {
	const prefix = "queue:"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

// Ready returns the ready LIST keys for the provided queue names, in order.
func Ready(queues []string) []string {
	out := make([]string, 0, len(queues))
	for _, q := range queues {
		out = append(out, Queue(q))
	}
	return out
}

// TimeOrdered lists the sorted sets the scheduled promoter drains into ready queues.
var TimeOrdered = []string{Scheduled, Retry}
