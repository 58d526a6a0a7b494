package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

var key = Key{TenantID: "acme", PipelineID: "daily_usage"}

func TestMemory_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	granted, existing, err := m.Acquire(ctx, key, "run-1", "api")
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Empty(t, existing)

	granted, existing, err = m.Acquire(ctx, key, "run-2", "scheduler")
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, "run-1", existing)

	// A different key is independent.
	granted, _, err = m.Acquire(ctx, Key{TenantID: "other", PipelineID: "daily_usage"}, "run-3", "api")
	require.NoError(t, err)
	assert.True(t, granted)

	released, err := m.Release(ctx, key, "run-2")
	require.NoError(t, err)
	assert.False(t, released, "non-holder must not release")

	released, err = m.Release(ctx, key, "run-1")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = m.Release(ctx, key, "run-1")
	require.NoError(t, err)
	assert.False(t, released, "second release is a no-op")

	granted, _, err = m.Acquire(ctx, key, "run-4", "api")
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestMemory_ReacquireBySameRun(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	granted, _, _ := m.Acquire(ctx, key, "run-1", "api")
	require.True(t, granted)
	granted, existing, _ := m.Acquire(ctx, key, "run-1", "api")
	assert.True(t, granted)
	assert.Empty(t, existing)
}

func TestMemory_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m := NewMemory(time.Hour, WithClock(clock.Now))

	granted, _, _ := m.Acquire(ctx, key, "stuck-run", "api")
	require.True(t, granted)

	clock.Advance(59 * time.Minute)
	granted, existing, _ := m.Acquire(ctx, key, "run-2", "api")
	assert.False(t, granted)
	assert.Equal(t, "stuck-run", existing)

	clock.Advance(2 * time.Minute)
	granted, existing, _ = m.Acquire(ctx, key, "run-2", "api")
	assert.True(t, granted, "expired lock is replaced")
	assert.Empty(t, existing)

	cur, ok := m.Get(key)
	require.True(t, ok)
	assert.Equal(t, "run-2", cur.RunID)

	// The stale holder's late release must not clobber the new holder.
	released, _ := m.Release(ctx, key, "stuck-run")
	assert.False(t, released)
	cur, ok = m.Get(key)
	require.True(t, ok)
	assert.Equal(t, "run-2", cur.RunID)
}

func TestMemory_LazySweep(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m := NewMemory(time.Minute, WithClock(clock.Now))

	for _, p := range []string{"a", "b", "c"} {
		granted, _, _ := m.Acquire(ctx, Key{TenantID: "t", PipelineID: p}, "run-"+p, "api")
		require.True(t, granted)
	}
	assert.Equal(t, 3, m.Len())

	clock.Advance(2 * time.Minute)
	_, ok := m.Get(Key{TenantID: "t", PipelineID: "a"})
	assert.False(t, ok)

	granted, _, _ := m.Acquire(ctx, Key{TenantID: "t", PipelineID: "z"}, "run-z", "api")
	require.True(t, granted)
	assert.Equal(t, 1, m.Len(), "acquire sweeps every expired entry")
}

func TestMemory_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m := NewMemory(time.Minute, WithClock(clock.Now))

	_, _, _ = m.Acquire(ctx, key, "run-1", "api")
	assert.Equal(t, 0, m.Sweep())
	clock.Advance(time.Minute + time.Second)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Len())
}

func TestMemory_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	const n = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  = map[string]string{}
	)
	start := make(chan struct{})

	for i := 0; i < n; i++ {
		runID := "run-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			granted, existing, err := m.Acquire(ctx, key, runID, "api")
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if granted {
				winners = append(winners, runID)
			} else {
				losers[runID] = existing
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Len(t, losers, n-1)
	for _, existing := range losers {
		assert.Equal(t, winners[0], existing)
	}
}

func TestMemory_AcquireCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemory(time.Hour)
	granted, _, err := m.Acquire(ctx, key, "run-1", "api")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, granted)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_RunJanitor(t *testing.T) {
	clock := newClock()
	m := NewMemory(time.Minute, WithClock(clock.Now))
	_, _, _ = m.Acquire(context.Background(), key, "run-1", "api")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunJanitor(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "acme/daily_usage", key.String())
}
