package retryqueue

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeBackoffGrowsAndCaps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	profile := DefaultProfile // initialDelay=1s, multiplier=2, maxDelay=300s, jitter=0.25

	d1 := computeBackoff(profile, 1, rng)
	d2 := computeBackoff(profile, 2, rng)
	d3 := computeBackoff(profile, 3, rng)

	// With 25% jitter, retry 1's delay (base 1s) and retry 2's (base 2s)
	// never overlap, and retry 3's (base 4s) never overlaps retry 2's.
	require.Less(t, d1, 2*time.Second)
	require.Greater(t, d2, 1*time.Second)
	require.Less(t, d2, 3*time.Second)
	require.Greater(t, d3, 2*time.Second)
}

func TestComputeBackoffClampsToMaxDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	profile := DefaultProfile
	d := computeBackoff(profile, 20, rng)
	require.LessOrEqual(t, d, time.Duration(float64(profile.MaxDelay)*(1+profile.Jitter)*float64(time.Second)))
}
