package util

import (
	"math"
	"math/rand/v2"
	"time"
)

const DefaultMaxBackoff = 2 * time.Minute

// RetryBackoff computes the delay before retry attempt n (1-based):
// baseDelay * 2^(attempt-1) * rand(0.5, 1.5), capped at maxDelay.
func RetryBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxBackoff
	}

	backoff := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	backoff *= 0.5 + rand.Float64()

	if backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}
	return time.Duration(backoff)
}

// FailureBackoff grows an interval by half again after a failed fetch,
// capped at max.
func FailureBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > max {
		next = max
	}
	return next
}

// RandomDelay picks a uniform delay in [min, max] for sources configured to
// jitter their fetch start.
func RandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)))
}
