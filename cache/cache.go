// Package cache provides the in-memory, TTL-bounded store used to memoize
// server responses — key-unwrap results, FPE format specs — across
// sessions that share a process. Readers and the single writer are
// coordinated with a sync.RWMutex; each entry carries its own expiry and an
// optional destructor invoked on eviction.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/ubiq/internal/errs"
)

// Closer is the destructor contract a cached value may implement. Values
// that don't need cleanup can simply not implement it; Close is then a
// no-op on eviction.
type Closer interface {
	Close() error
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

func closeValue(v interface{}) {
	if c, ok := v.(Closer); ok {
		_ = c.Close()
	}
}

// Cache is a string-keyed, TTL-bounded store safe for concurrent readers
// from distinct sessions. The zero value is not usable; use New.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty cache. now defaults to time.Now and only needs
// overriding in tests that exercise expiry without sleeping.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock overrides the cache's time source; used by tests that advance a
// fake monotonic clock rather than sleeping past a TTL.
func WithClock(c *Cache, now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Find looks up key. If the entry exists and is live, its value is
// returned. If the entry exists but has expired, it is evicted — its
// destructor invoked — and Find reports a miss, exactly as if the key had
// never been inserted. The eviction is atomic relative to other cache
// operations on the same entry because Find takes the exclusive lock
// whenever it observes expiry.
func (c *Cache) Find(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	now := c.clockLocked()
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if !e.expired(now) {
		return e.value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the write lock: another goroutine may have replaced
	// or evicted the entry between the RUnlock above and here.
	cur, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !cur.expired(c.clockLocked()) {
		return cur.value, true
	}
	delete(c.entries, key)
	closeValue(cur.value)
	return nil, false
}

func (c *Cache) clockLocked() time.Time {
	return c.now()
}

// Insert installs value under key with the given TTL in seconds. If a live
// entry already exists for key, the existing entry wins: it is kept and the
// newly supplied value is destroyed instead. If the existing entry has
// expired, it is replaced: the old value is destroyed and the new one
// installed. Exactly one of (existing, new) value survives, and exactly one
// destructor call happens, regardless of which branch is taken.
func (c *Cache) Insert(key string, ttlSeconds float64, value interface{}) error {
	if ttlSeconds < 0 {
		return errs.New(errs.InvalidArgument, "ttl must be non-negative")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clockLocked()
	if existing, ok := c.entries[key]; ok {
		if !existing.expired(now) {
			closeValue(value)
			return nil
		}
		closeValue(existing.value)
	}

	c.entries[key] = entry{
		value:     value,
		expiresAt: now.Add(time.Duration(ttlSeconds * float64(time.Second))),
	}
	return nil
}

// Close tears the cache down, invoking every remaining value's destructor
// exactly once.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, e := range c.entries {
		closeValue(e.value)
		delete(c.entries, k)
	}
	return nil
}

// Len reports the number of entries currently tracked, live or expired.
// Intended for tests and metrics, not for control flow.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep evicts every expired entry, running destructors concurrently
// through an errgroup rather than one at a time, since a Closer may block
// on its own teardown (e.g. a vault-backed key wiping a file). The key
// snapshot and eviction are taken under the write lock; only the
// destructor calls themselves run outside it, so a Sweep can't hold up
// Find/Insert callers for the duration of many slow Closes.
func (c *Cache) Sweep(ctx context.Context) error {
	c.mu.Lock()
	now := c.clockLocked()
	var toClose []interface{}
	for k, e := range c.entries {
		if e.expired(now) {
			toClose = append(toClose, e.value)
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	if len(toClose) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	for _, v := range toClose {
		v := v
		g.Go(func() error {
			closeValue(v)
			return nil
		})
	}
	return g.Wait()
}
