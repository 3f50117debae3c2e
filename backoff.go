package sidekiq

import (
	"math/rand"
	"time"
)

const maxRetryDelay = time.Hour

// DefaultBackoff delays retry n (1-indexed) by 2^n seconds plus up to 25%
// jitter, capped at one hour.
func DefaultBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 20 {
		return maxRetryDelay
	}
	d := time.Second << uint(retryCount)
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d/4) + 1)) //nolint:gosec // jitter does not need crypto rand
	d += jitter
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}
