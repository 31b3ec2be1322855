package orchestrator

import (
	"math/rand"
	"time"
)

// backoffWithJitter doubles base per attempt up to max, then spreads the
// result across +/-10% so retries from a shared outage fan out.
func backoffWithJitter(base, max time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 20 {
		attempts = 20
	}
	d := base << uint(attempts)
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	d += jitter
	if d < base {
		d = base
	}
	return d
}
