package sidekiq

import "github.com/UniQw/sidekiq-go/internal/keys"

// State names where a job currently lives in Redis.
// Use the exported constants instead of raw strings to avoid typos.
type State string

const (
	// StateEnqueued contains jobs waiting in a ready queue (LIST).
	StateEnqueued State = "enqueued"
	// StateScheduled contains jobs pushed with PerformIn/PerformAt (ZSET).
	StateScheduled State = "scheduled"
	// StateRetry contains failed jobs waiting for another attempt (ZSET).
	StateRetry State = "retry"
	// StateWorking contains jobs fetched by a processor and not yet settled (ZSET).
	StateWorking State = "working"
	// StateDead contains jobs that will not be attempted again (ZSET).
	StateDead State = "dead"
)

// AllStates lists every valid job state in a stable order.
var AllStates = []State{StateEnqueued, StateScheduled, StateRetry, StateWorking, StateDead}

// String returns the raw string value of the state.
func (s State) String() string { return string(s) }

// ParseState converts a string into a State, returning an error for unknown values.
func ParseState(s string) (State, error) {
	switch s {
	case string(StateEnqueued):
		return StateEnqueued, nil
	case string(StateScheduled):
		return StateScheduled, nil
	case string(StateRetry):
		return StateRetry, nil
	case string(StateWorking):
		return StateWorking, nil
	case string(StateDead):
		return StateDead, nil
	default:
		return "", ErrUnknownState
	}
}

// key returns the Redis key backing the state. queue only matters for StateEnqueued.
func (s State) key(queue string) (string, error) {
	switch s {
	case StateEnqueued:
		if queue == "" {
			queue = DefaultQueue
		}
		return keys.Queue(queue), nil
	case StateScheduled:
		return keys.Scheduled, nil
	case StateRetry:
		return keys.Retry, nil
	case StateWorking:
		return keys.Working, nil
	case StateDead:
		return keys.Dead, nil
	default:
		return "", ErrUnknownState
	}
}
