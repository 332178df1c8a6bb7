package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManualClockAdvancesWithoutBlocking(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	require.Equal(t, start, clock.Now())

	require.NoError(t, clock.Sleep(context.Background(), time.Hour))
	require.Equal(t, start.Add(time.Hour), clock.Now())

	clock.Advance(30 * time.Minute)
	require.Equal(t, start.Add(90*time.Minute), clock.Now())

	// Set never moves backwards.
	clock.Set(start)
	require.Equal(t, start.Add(90*time.Minute), clock.Now())
	clock.Set(start.Add(2 * time.Hour))
	require.Equal(t, start.Add(2*time.Hour), clock.Now())
}

func TestManualClockSleepHonorsCancelledContext(t *testing.T) {
	clock := NewManualClock(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, clock.Sleep(ctx, time.Second))
}

func TestSystemClockSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, SystemClock{}.Sleep(ctx, time.Minute))
}
