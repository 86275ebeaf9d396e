package common

import (
	"math"
	"math/rand"
	"time"
)

// Backoff returns the wait before the given attempt (1-based) with ±25% jitter.
// The first attempt never waits.
func Backoff(attempt int, initial, maxBackoff time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(initial) * math.Pow(multiplier, float64(attempt-2)) //nolint:mnd
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitterRange := backoff * 0.25                               //nolint:mnd
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}
