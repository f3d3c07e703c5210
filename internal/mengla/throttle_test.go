package mengla

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordReleases captures the throttle's own release timestamps, in order.
func recordReleases(th *Throttle) func() []time.Time {
	var (
		mu       sync.Mutex
		releases []time.Time
	)
	th.onRelease = func(at time.Time) {
		mu.Lock()
		releases = append(releases, at)
		mu.Unlock()
	}
	return func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		return append([]time.Time(nil), releases...)
	}
}

func assertSpaced(t *testing.T, releases []time.Time, interval time.Duration) {
	t.Helper()
	for i := 1; i < len(releases); i++ {
		assert.GreaterOrEqual(t, releases[i].Sub(releases[i-1]), interval, "gap %d", i)
	}
}

func TestThrottle_FirstCallIsImmediate(t *testing.T) {
	th := NewThrottle(time.Hour)

	start := time.Now()
	require.NoError(t, th.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, time.Hour, th.Interval())
}

func TestThrottle_SpacesSequentialReleases(t *testing.T) {
	const interval = 60 * time.Millisecond
	th := NewThrottle(interval)
	releases := recordReleases(th)

	for i := 0; i < 4; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}

	require.Len(t, releases(), 4)
	assertSpaced(t, releases(), interval)
}

func TestThrottle_SpacesConcurrentReleases(t *testing.T) {
	const (
		interval = 20 * time.Millisecond
		callers  = 40
	)
	th := NewThrottle(interval)
	releases := recordReleases(th)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(delay time.Duration) {
			defer wg.Done()
			time.Sleep(delay)
			assert.NoError(t, th.Wait(context.Background()))
		}(time.Duration(i%5) * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, releases(), callers)
	assertSpaced(t, releases(), interval)
}

func TestThrottle_LateReleaseStillSpacesTheNext(t *testing.T) {
	const interval = 30 * time.Millisecond
	th := NewThrottle(interval)
	releases := recordReleases(th)

	require.NoError(t, th.Wait(context.Background()))
	// Let the limiter bank its next slot, then release twice back to back.
	time.Sleep(2 * interval)
	require.NoError(t, th.Wait(context.Background()))
	require.NoError(t, th.Wait(context.Background()))

	require.Len(t, releases(), 3)
	assertSpaced(t, releases(), interval)
}

func TestThrottle_ZeroIntervalNeverWaits(t *testing.T) {
	th := NewThrottle(0)

	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, th.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottle_WaitHonoursContext(t *testing.T) {
	th := NewThrottle(time.Hour)
	require.NoError(t, th.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, th.Wait(ctx))
}

func TestThrottle_CancelledWhileQueued(t *testing.T) {
	th := NewThrottle(200 * time.Millisecond)
	require.NoError(t, th.Wait(context.Background()))

	// Occupies the next turn until its own wait completes.
	done := make(chan error, 1)
	go func() { done <- th.Wait(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, th.Wait(ctx), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)

	require.NoError(t, <-done)
}
