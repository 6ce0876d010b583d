package permits

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New(2, 1, 4)
	ctx := context.Background()

	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))

	// A third acquire should block until a release.
	acquired := make(chan struct{})
	go func() {
		_ = p.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should not have succeeded before a release")
	case <-time.After(50 * time.Millisecond):
	}

	p.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("third acquire should have succeeded after release")
	}
	p.Release()
	p.Release()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	p := New(0, 0, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResizeClampsToMinMax(t *testing.T) {
	p := New(2, 1, 4)
	p.Resize(100)
	assert.Equal(t, 4, p.Capacity())
	p.Resize(-5)
	assert.Equal(t, 1, p.Capacity())
}

func TestResizeGrowthAllowsMoreConcurrentHolders(t *testing.T) {
	p := New(1, 1, 3)
	ctx := context.Background()
	require.NoError(t, p.Acquire(ctx))

	p.Resize(3)

	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))
}

func TestResizeShrinkEventuallyReducesConcurrency(t *testing.T) {
	p := New(3, 1, 3)
	ctx := context.Background()
	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))

	p.Resize(1)
	assert.Equal(t, 1, p.Capacity())

	p.Release()
	p.Release()
	p.Release()

	// capacity is 1 now: exactly one acquire should succeed immediately,
	// a second should block.
	require.NoError(t, p.Acquire(ctx))
	acquired := int32(0)
	go func() {
		_ = p.Acquire(ctx)
		atomic.StoreInt32(&acquired, 1)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&acquired))
}

func TestResizeGrowAfterShrinkKeepsPermitBound(t *testing.T) {
	p := New(3, 1, 3)
	ctx := context.Background()
	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))
	require.NoError(t, p.Acquire(ctx))

	// Shrink with everything checked out, then grow straight back:
	// the grow must cancel the queued removals, not mint fresh tokens
	// on top of the three permits already held.
	p.Resize(1)
	p.Resize(3)

	acquired := int32(0)
	go func() {
		_ = p.Acquire(ctx)
		atomic.StoreInt32(&acquired, 1)
	}()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&acquired), "holders must never exceed capacity")

	p.Release()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&acquired) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRunAdaptLoopAppliesDecisions(t *testing.T) {
	p := New(2, 1, 5)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	var mu sync.Mutex
	decide := func() Adjustment {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return Increase
		}
		cancel()
		return Hold
	}

	done := make(chan struct{})
	go func() {
		p.RunAdaptLoop(ctx, 10*time.Millisecond, decide)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("adapt loop did not stop after context cancellation")
	}
	assert.GreaterOrEqual(t, p.Capacity(), 3)
}

func TestInOffPeakWindowWraparound(t *testing.T) {
	mk := func(hour int) time.Time {
		return time.Date(2026, 1, 1, hour, 0, 0, 0, time.UTC)
	}

	assert.True(t, InOffPeakWindow(mk(23), 22, 6))
	assert.True(t, InOffPeakWindow(mk(3), 22, 6))
	assert.False(t, InOffPeakWindow(mk(12), 22, 6))
}

func TestInOffPeakWindowDaytime(t *testing.T) {
	mk := func(hour int) time.Time {
		return time.Date(2026, 1, 1, hour, 0, 0, 0, time.UTC)
	}

	assert.True(t, InOffPeakWindow(mk(10), 9, 17))
	assert.False(t, InOffPeakWindow(mk(20), 9, 17))
}

func TestInOffPeakWindowEqualBoundsMeansAlwaysOn(t *testing.T) {
	assert.True(t, InOffPeakWindow(time.Now(), 5, 5))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(-3, 1, 6))
	assert.Equal(t, 6, Clamp(99, 1, 6))
	assert.Equal(t, 3, Clamp(3, 1, 6))
}
