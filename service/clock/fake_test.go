package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceMovesNowWithoutBlocking(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)
	assert.Equal(t, start, f.Now())

	f.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), f.Now())
}

func TestFakeSleepReturnsImmediatelyAndRecordsWait(t *testing.T) {
	f := NewFake(time.Now())
	before := f.Now()

	err := f.Sleep(context.Background(), 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, before.Add(5*time.Second), f.Now(), "Sleep still advances the fake clock's notion of now")
	assert.Equal(t, []time.Duration{5 * time.Second}, f.Waits())
}

func TestFakeSleepRespectsAlreadyCancelledContext(t *testing.T) {
	f := NewFake(time.Now())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.Waits(), "a cancelled Sleep must not record a wait or advance the clock")
}

func TestFakeOnSleepCallbackFiresSynchronously(t *testing.T) {
	f := NewFake(time.Now())
	var seen []time.Duration
	f.OnSleep(func(d time.Duration) { seen = append(seen, d) })

	require.NoError(t, f.Sleep(context.Background(), time.Second))
	require.NoError(t, f.Sleep(context.Background(), 2*time.Second))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, seen)
}

func TestFakeWaitsReturnsACopyNotTheInternalSlice(t *testing.T) {
	f := NewFake(time.Now())
	require.NoError(t, f.Sleep(context.Background(), time.Second))

	waits := f.Waits()
	waits[0] = time.Hour

	assert.Equal(t, []time.Duration{time.Second}, f.Waits(), "mutating the returned slice must not affect the fake's recorded waits")
}
