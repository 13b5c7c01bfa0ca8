package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSleepAdvances(t *testing.T) {
	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	f := NewFake(start)

	require.NoError(t, Sleep(context.Background(), f, 5*time.Second))
	assert.Equal(t, start.Add(5*time.Second), f.Now())
	assert.Equal(t, []time.Duration{5 * time.Second}, f.Sleeps())

	require.NoError(t, f.SleepUntil(context.Background(), start))
	assert.Len(t, f.Sleeps(), 1, "sleeping into the past is a no-op")
}

func TestFakeSleepHonoursCancel(t *testing.T) {
	f := NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, f, time.Minute), context.Canceled)
}

func TestRealSleepCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := Real{}.SleepUntil(ctx, time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
