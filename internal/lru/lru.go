// Package lru provides a weight-bounded least-recently-used cache that is
// safe for concurrent use.
//
// Each value has a weight computed once at insertion time. After every
// [Cache.Put] the total weight is at most the configured maximum; the least
// recently used entries are evicted until that holds. A single value heavier
// than the maximum is never stored.
package lru

import (
	"container/list"
	"sync"
)

// Weigher returns the weight of a value. It must be deterministic and
// non-negative.
type Weigher[V any] func(V) int64

type entry[K comparable, V any] struct {
	key    K
	value  V
	weight int64
}

// Cache is a weighted LRU cache. The zero value is not usable; see [New].
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	maxWeight int64
	weight    int64
	weigh     Weigher[V]
	order     *list.List // front = most recently used
	items     map[K]*list.Element
	evictions int64
}

// New returns a cache bounded by maxWeight. A nil weigher counts every value as 1.
// Panics if maxWeight <= 0.
func New[K comparable, V any](maxWeight int64, weigh Weigher[V]) *Cache[K, V] {
	if maxWeight <= 0 {
		panic("lru: maxWeight must be positive")
	}

	if weigh == nil {
		weigh = func(V) int64 { return 1 }
	}

	return &Cache[K, V]{
		maxWeight: maxWeight,
		weigh:     weigh,
		order:     list.New(),
		items:     make(map[K]*list.Element),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V

		return zero, false
	}

	c.order.MoveToFront(elem)

	return elem.Value.(*entry[K, V]).value, true
}

// Peek returns the value for key without touching recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		var zero V

		return zero, false
	}

	return elem.Value.(*entry[K, V]).value, true
}

// Put inserts or replaces the value for key and evicts least recently used
// entries until the total weight fits. It reports whether the value was
// stored and how many other entries were evicted.
//
// A value heavier than the maximum weight is rejected and any previous value
// for key is removed, so a stale value never outlives a newer write.
func (c *Cache[K, V]) Put(key K, value V) (bool, int) {
	return c.PutIf(key, value, nil)
}

// PutIf is [Cache.Put] guarded by admit, which runs with the cache lock held.
// When admit returns false nothing changes and PutIf returns (false, 0).
// A nil admit always admits.
//
// Callers use it to make a check and the insert one step relative to other
// writers of the same cache.
func (c *Cache[K, V]) PutIf(key K, value V, admit func() bool) (bool, int) {
	w := c.weigh(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if admit != nil && !admit() {
		return false, 0
	}

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	if w > c.maxWeight {
		return false, 0
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, weight: w})
	c.weight += w

	evicted := c.evictLocked(c.maxWeight)

	return true, evicted
}

// Remove deletes key. It reports whether the key was present.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}

	c.removeElement(elem)

	return true
}

// Trim evicts least recently used entries until the total weight is at most
// target. A negative target is treated as zero. Returns the number evicted.
func (c *Cache[K, V]) Trim(target int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictLocked(max(target, 0))
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.items)
}

// Weight returns the total weight of all entries.
func (c *Cache[K, V]) Weight() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weight
}

// MaxWeight returns the configured bound.
func (c *Cache[K, V]) MaxWeight() int64 {
	return c.maxWeight
}

// Evictions returns how many entries were evicted for capacity, including Trim.
func (c *Cache[K, V]) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.evictions
}

// Keys returns keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry[K, V]).key)
	}

	return keys
}

func (c *Cache[K, V]) evictLocked(target int64) int {
	evicted := 0

	for c.weight > target {
		back := c.order.Back()
		if back == nil {
			break
		}

		c.removeElement(back)
		c.evictions++
		evicted++
	}

	return evicted
}

func (c *Cache[K, V]) removeElement(elem *list.Element) {
	e := c.order.Remove(elem).(*entry[K, V])
	delete(c.items, e.key)
	c.weight -= e.weight
}
