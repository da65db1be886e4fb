package blockcache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wikid82/warden/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
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

func epoch(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func TestCache_PutRemove(t *testing.T) {
	c := New()
	assert.False(t, c.IsBlocked("203.0.113.5"))

	c.Put("203.0.113.5", "manual", nil)
	assert.True(t, c.IsBlocked("203.0.113.5"))

	c.Remove("203.0.113.5")
	assert.False(t, c.IsBlocked("203.0.113.5"))

	// Removing twice is harmless.
	c.Remove("203.0.113.5")
	assert.Equal(t, 0, c.Len())
}

func TestCache_NormalizesAddresses(t *testing.T) {
	c := New()
	c.Put("::ffff:198.51.100.9", "mapped", nil)
	assert.True(t, c.IsBlocked("198.51.100.9"))
	assert.True(t, c.IsBlocked(" 198.51.100.9 "))
	assert.Equal(t, 1, c.Len())
}

func TestCache_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))

	c.Put("198.51.100.9", "timed", epoch(clock.Now().Add(60*time.Second)))
	assert.True(t, c.IsBlocked("198.51.100.9"))

	clock.Advance(61 * time.Second)
	// Stored until someone reads it.
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.IsBlocked("198.51.100.9"))
	// The read evicted it.
	assert.Equal(t, 0, c.Len())
}

func TestCache_ExpiryBoundaryIsExclusive(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	c.Put("192.0.2.1", "edge", epoch(clock.Now().Add(10*time.Second)))

	clock.Advance(9 * time.Second)
	assert.True(t, c.IsBlocked("192.0.2.1"))
	clock.Advance(1 * time.Second)
	assert.False(t, c.IsBlocked("192.0.2.1"))
}

func TestCache_PutReplacesEntry(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))

	c.Put("192.0.2.1", "first", epoch(clock.Now().Add(time.Second)))
	c.Put("192.0.2.1", "second", nil)

	clock.Advance(time.Hour)
	assert.True(t, c.IsBlocked("192.0.2.1"))

	list := c.ListActive()
	require.Len(t, list, 1)
	assert.Equal(t, "second", list[0].Reason)
	assert.Nil(t, list[0].ExpiresAtEpoch)
}

func TestCache_Hydrate(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	assert.False(t, c.Ready())

	past := clock.Now().Add(-time.Minute)
	future := clock.Now().Add(time.Minute)
	c.Put("10.9.9.9", "stale entry from before", nil)

	n := c.Hydrate([]models.BlockRecord{
		{IPAddress: "203.0.113.5", Reason: "permanent", IsActive: true},
		{IPAddress: "203.0.113.6", Reason: "timed", IsActive: true, ExpiresAt: &future},
		{IPAddress: "203.0.113.7", Reason: "expired", IsActive: true, ExpiresAt: &past},
		{IPAddress: "203.0.113.8", Reason: "revoked", IsActive: false},
	})

	assert.Equal(t, 2, n)
	assert.True(t, c.Ready())
	assert.True(t, c.IsBlocked("203.0.113.5"))
	assert.True(t, c.IsBlocked("203.0.113.6"))
	assert.False(t, c.IsBlocked("203.0.113.7"))
	assert.False(t, c.IsBlocked("203.0.113.8"))
	assert.False(t, c.IsBlocked("10.9.9.9"), "hydrate replaces previous contents")
}

func TestCache_ListActiveSnapshot(t *testing.T) {
	clock := newFakeClock()
	c := New(WithClock(clock.Now))
	c.Put("192.0.2.2", "b", nil)
	c.Put("192.0.2.1", "a", epoch(clock.Now().Add(time.Minute)))
	c.Put("192.0.2.3", "gone", epoch(clock.Now().Add(-time.Minute)))

	snap := c.ListActive()
	require.Len(t, snap, 2)
	assert.Equal(t, "192.0.2.1", snap[0].IPAddress)
	assert.Equal(t, "192.0.2.2", snap[1].IPAddress)

	// Mutating the snapshot does not leak into the cache.
	*snap[0].ExpiresAtEpoch = 0
	assert.True(t, c.IsBlocked("192.0.2.1"))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ip := fmt.Sprintf("10.0.%d.%d", w, i%250)
				c.Put(ip, "load", nil)
				if i%3 == 0 {
					c.Remove(ip)
				}
			}
		}(w)
	}
	for r := 0; r < 16; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				c.IsBlocked(fmt.Sprintf("10.0.%d.%d", i%4, i%250))
			}
			_ = c.ListActive()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 1000)
}
