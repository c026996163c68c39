package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	base := time.Minute
	cap := time.Hour

	require.Equal(t, 1*time.Minute, Backoff(base, cap, 1))
	require.Equal(t, 2*time.Minute, Backoff(base, cap, 2))
	require.Equal(t, 4*time.Minute, Backoff(base, cap, 3))
	require.Equal(t, 8*time.Minute, Backoff(base, cap, 4))
}

func TestBackoff_Cap(t *testing.T) {
	require.Equal(t, 10*time.Minute, Backoff(time.Minute, 10*time.Minute, 20))
	// Large attempt counts must not overflow past the cap.
	require.Equal(t, time.Hour, Backoff(time.Minute, time.Hour, 200))
}

func TestBackoff_DefendsAgainstBadInputs(t *testing.T) {
	require.Equal(t, time.Minute, Backoff(time.Minute, time.Hour, 0))
	require.Equal(t, time.Minute, Backoff(0, time.Hour, 1))
	require.Equal(t, time.Minute, Backoff(time.Minute, 0, 1))
}
