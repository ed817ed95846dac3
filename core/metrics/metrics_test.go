package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTimer(t *testing.T) {
	var observed []time.Duration
	timer := NewTimer(func(d time.Duration) { observed = append(observed, d) })

	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration()
	timer.ObserveDuration()

	require.Len(t, observed, 2)
	require.GreaterOrEqual(t, observed[0], 5*time.Millisecond)
	require.GreaterOrEqual(t, observed[1], observed[0])
}

func TestNopTimer(t *testing.T) {
	require.NotPanics(t, func() { NopTimer().ObserveDuration() })
}
