package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffNeverBelowBase(t *testing.T) {
	base := 30 * time.Second
	max := time.Hour
	for attempts := 0; attempts < 25; attempts++ {
		for i := 0; i < 50; i++ {
			d := backoffWithJitter(base, max, attempts)
			require.GreaterOrEqual(t, d, base, "attempts=%d", attempts)
		}
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := 30 * time.Second
	max := time.Hour

	// With +/-10% jitter, attempt 4 (8 minutes nominal) always exceeds
	// attempt 0 (30 seconds nominal).
	small := backoffWithJitter(base, max, 0)
	large := backoffWithJitter(base, max, 4)
	require.Greater(t, large, small)

	// Deep attempt counts stay near the cap even with jitter.
	for i := 0; i < 50; i++ {
		d := backoffWithJitter(base, max, 20)
		require.LessOrEqual(t, d, max+max/5)
		require.GreaterOrEqual(t, d, max-max/5)
	}
}

func TestBackoffNegativeAttemptsClamped(t *testing.T) {
	base := 10 * time.Millisecond
	d := backoffWithJitter(base, time.Second, -3)
	require.GreaterOrEqual(t, d, base)
	require.LessOrEqual(t, d, base+base/5)
}
