// Package blockcache holds the process-local projection of active IP blocks
// that the request gate reads on every request.
//
// Expiry is lazy: nothing sweeps the map on a timer. A read that finds an
// expired entry treats it as absent and evicts it. The cache is never
// authoritative; after a restart it is rebuilt from the block store.
package blockcache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Wikid82/warden/internal/models"
	"github.com/Wikid82/warden/internal/util"
)

// Entry is the enforcement-time view of one active block.
type Entry struct {
	IPAddress      string `json:"ip_address"`
	Reason         string `json:"reason"`
	ExpiresAtEpoch *int64 `json:"expires_at_epoch"` // unix seconds; nil = permanent
}

func (e Entry) expired(nowEpoch int64) bool {
	return e.ExpiresAtEpoch != nil && *e.ExpiresAtEpoch <= nowEpoch
}

// Cache is safe for concurrent use. Reads share a read lock; writers hold the
// write lock only long enough to touch a single key, except Hydrate which
// swaps in a map built outside the lock.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
	ready   atomic.Bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests that need to move time forward.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New returns an empty, not yet hydrated cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsBlocked reports whether ip has a live entry. An expired entry counts as
// absent and is evicted on the way out.
func (c *Cache) IsBlocked(ip string) bool {
	key := util.IPKey(ip)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}

	if !e.expired(c.now().Unix()) {
		return true
	}

	c.evictIfExpired(key)
	return false
}

// evictIfExpired re-checks under the write lock: a concurrent Put may have
// replaced the stale entry with a fresh one.
func (c *Cache) evictIfExpired(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && e.expired(c.now().Unix()) {
		delete(c.entries, key)
	}
}

// Put inserts or replaces the entry for ip.
func (c *Cache) Put(ip, reason string, expiresAtEpoch *int64) {
	key := util.IPKey(ip)
	e := Entry{IPAddress: key, Reason: reason}
	if expiresAtEpoch != nil {
		v := *expiresAtEpoch
		e.ExpiresAtEpoch = &v
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
}

// Remove deletes the entry for ip, if any.
func (c *Cache) Remove(ip string) {
	key := util.IPKey(ip)

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Hydrate replaces the cache contents with the enforced subset of records
// and marks the cache ready. It returns the number of entries loaded.
func (c *Cache) Hydrate(records []models.BlockRecord) int {
	now := c.now()
	next := make(map[string]Entry, len(records))
	for i := range records {
		r := &records[i]
		if !r.IsEnforced(now) {
			continue
		}
		key := util.IPKey(r.IPAddress)
		next[key] = Entry{
			IPAddress:      key,
			Reason:         r.Reason,
			ExpiresAtEpoch: r.ExpiresAtEpoch(),
		}
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
	c.ready.Store(true)

	return len(next)
}

// Ready reports whether Hydrate has run at least once.
func (c *Cache) Ready() bool {
	return c.ready.Load()
}

// ListActive returns a point-in-time snapshot of unexpired entries, sorted
// by address. It is a diagnostic path and scans the whole map.
func (c *Cache) ListActive() []Entry {
	nowEpoch := c.now().Unix()

	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.expired(nowEpoch) {
			continue
		}
		if e.ExpiresAtEpoch != nil {
			v := *e.ExpiresAtEpoch
			e.ExpiresAtEpoch = &v
		}
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IPAddress < out[j].IPAddress })
	return out
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
