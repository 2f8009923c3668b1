package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(max int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := New(max, window)
	l.now = clock.Now
	return l, clock
}

func TestAllowUpToMax(t *testing.T) {
	l, _ := newTestLimiter(3, time.Second)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, 0, l.Remaining())
}

func TestWindowRolls(t *testing.T) {
	l, clock := newTestLimiter(2, time.Second)
	require.True(t, l.Allow())
	clock.Advance(600 * time.Millisecond)
	require.True(t, l.Allow())
	require.False(t, l.Allow())

	ok, wait := l.Reserve()
	assert.False(t, ok)
	assert.Equal(t, 400*time.Millisecond, wait)

	// the first hit leaves the window exactly one window after it was made
	clock.Advance(400 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestNeverExceedsMaxInAnyWindow(t *testing.T) {
	const max = 5
	window := time.Second
	l, clock := newTestLimiter(max, window)

	var admitted []time.Time
	for i := 0; i < 400; i++ {
		if l.Allow() {
			admitted = append(admitted, clock.Now())
		}
		clock.Advance(time.Duration(7+i%45) * time.Millisecond)
	}
	require.NotEmpty(t, admitted)

	for i, start := range admitted {
		count := 0
		for _, ts := range admitted[i:] {
			if ts.Sub(start) < window {
				count++
			}
		}
		assert.LessOrEqual(t, count, max, "window starting at %v", start)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l, _ := newTestLimiter(1, time.Hour)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestWaitReturnsOnceSlotFrees(t *testing.T) {
	l := New(1, 30*time.Millisecond)
	require.True(t, l.Allow())

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	require.True(t, l.Allow())
	l.Reset()
	assert.Equal(t, 1, l.Remaining())
}

func TestConcurrentAllow(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, admitted)
}
