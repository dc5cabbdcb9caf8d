package cache

import (
	"fmt"
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

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestGetPut(t *testing.T) {
	c := New(time.Hour, 10)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Hour, 10)
	c.SetClock(clock.Now)

	c.Put("k", "v")

	clock.Advance(59 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok, "entry must be served before TTL elapses")

	clock.Advance(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry must be absent after TTL elapses")
	assert.Equal(t, 0, c.Size(), "expired entry is removed lazily")
}

func TestMaxEntriesBound(t *testing.T) {
	c := New(time.Hour, 3)

	for i := 0; i < 10; i++ {
		c.Put(fmt.Sprintf("k%d", i), "v")
		assert.LessOrEqual(t, c.Size(), 3)
	}

	// The three newest entries survive, oldest were evicted first.
	for i := 0; i < 7; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		assert.False(t, ok, "k%d should have been evicted", i)
	}
	for i := 7; i < 10; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should survive", i)
	}
}

func TestOverwriteRefreshesAge(t *testing.T) {
	c := New(time.Hour, 2)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Put("a", "1-again") // a becomes the newest entry
	c.Put("c", "3")       // evicts b, not a

	_, ok := c.Get("b")
	assert.False(t, ok)
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1-again", got)
}

func TestEvictExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(time.Minute, 10)
	c.SetClock(clock.Now)

	c.Put("a", "1")
	c.Put("b", "2")
	clock.Advance(2 * time.Minute)
	c.Put("c", "3")

	assert.Equal(t, 2, c.EvictExpired())
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("c")
	assert.True(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(time.Hour, 64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", j%16)
				c.Put(key, fmt.Sprintf("v%d-%d", n, j))
				if v, ok := c.Get(key); ok {
					// Reads must never observe a partially written entry.
					assert.NotEmpty(t, v)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 64)
}
