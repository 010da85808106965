// Package promptcache provides bounded, content-addressed caching of
// expensive prompt and caption encodings.
//
// cache.go implements the generic bounded cache molecule. Eviction is
// frequency biased rather than recency based: identical prompts are
// frequently re-requested (re-rendering the same prompt at different
// seeds), so access frequency predicts future reuse better than
// recency for this workload.
package promptcache

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidCapacity is returned when a cache is constructed with a
// non-positive entry limit.
var ErrInvalidCapacity = errors.New("promptcache: max entries must be positive")

// entry holds a cached value with its eviction bookkeeping.
type entry[V any] struct {
	value       V
	createdAt   time.Time
	accessCount uint64
}

// Cache is a bounded mapping from a comparable key to a cached value.
//
// Each instance is a serialized execution unit: operations execute one
// at a time under a single mutex, in lock-acquisition order. This
// trades intra-cache parallelism for the elimination of data races,
// which is acceptable because cache bookkeeping cost is negligible
// next to the device-bound compute the cache fronts.
//
// On overflow the entry with the lowest access count is evicted, ties
// broken by oldest creation time. The eviction scan is O(capacity);
// capacities are single digits to low tens, and eviction is rare
// relative to the orders-of-magnitude-slower device computation.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[K]*entry[V]

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// New creates a bounded cache holding at most maxEntries values.
// Returns ErrInvalidCapacity if maxEntries <= 0.
func New[K comparable, V any](maxEntries int) (*Cache[K, V], error) {
	if maxEntries <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Cache[K, V]{
		maxEntries: maxEntries,
		entries:    make(map[K]*entry[V], maxEntries),
		now:        time.Now,
	}, nil
}

// Get returns the cached value for key if present, incrementing that
// entry's access count as a side effect. A miss has no side effects.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.accessCount++
	return e.value, true
}

// Set inserts or overwrites the value for key. When the cache is at
// capacity and key is genuinely new, the lowest-priority entry is
// evicted first, so count <= maxEntries holds after every Set.
//
// A freshly stored value starts at access count 1: the request that
// produced it counts as its first use. Overwriting an existing key
// resets both the count and the creation time; the new value has not
// yet earned the old one's reuse priority.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = &entry[V]{
		value:       value,
		createdAt:   c.now(),
		accessCount: 1,
	}
}

// evictLocked removes the entry with the lowest access count, ties
// broken by oldest createdAt. Caller must hold c.mu.
func (c *Cache[K, V]) evictLocked() {
	var (
		victim K
		found  bool
		minCnt uint64
		oldest time.Time
	)
	for k, e := range c.entries {
		if !found || e.accessCount < minCnt ||
			(e.accessCount == minCnt && e.createdAt.Before(oldest)) {
			victim = k
			minCnt = e.accessCount
			oldest = e.createdAt
			found = true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}

// Invalidate removes the entry for key if present. Returns true if an
// entry was removed.
func (c *Cache[K, V]) Invalidate(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// InvalidateAll removes every entry and returns the number removed.
func (c *Cache[K, V]) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[K]*entry[V], c.maxEntries)
	return n
}

// InvalidateFunc removes every entry whose key satisfies pred and
// returns the number removed. This backs model- and image-scoped
// invalidation via the predicates in key.go and caption.go.
func (c *Cache[K, V]) InvalidateFunc(pred func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if pred(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether key is cached without bumping its access
// count, so callers can probe without affecting eviction priority.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// MaxEntries returns the configured capacity bound.
func (c *Cache[K, V]) MaxEntries() int {
	return c.maxEntries
}

// accessCountOf returns the access count for key, for tests.
func (c *Cache[K, V]) accessCountOf(key K) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	return e.accessCount, true
}
