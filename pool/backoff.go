package pool

import (
	"math"
	"math/rand/v2"
	"time"
)

const maxDuration = time.Duration(math.MaxInt64)

// backoffDelay returns min(base*2^attempt, maxDelay) + jitter, saturating instead of
// overflowing.
func backoffDelay(base, maxDelay time.Duration, attempt int, jitter time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		if d > maxDelay/2 {
			d = maxDelay
			break
		}
		d *= 2
	}
	if d > maxDelay {
		d = maxDelay
	}
	if jitter > maxDuration-d {
		return maxDuration
	}
	return d + jitter
}

// jitter returns a random duration in [0, base).
func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	return rand.N(base)
}
