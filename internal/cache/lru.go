package cache

import (
	"sync"

	"github.com/hyperengineering/lattice/internal/types"
)

// LRU is a classic least-recently-used cache: a hash map into an
// arena-backed recency list. Get and Put both promote the entry to the
// most-recent end in O(1).
type LRU struct {
	mu       sync.Mutex
	capacity int
	arena    *arena
	order    list
	index    map[string]int
	counters counters
}

// NewLRU creates an LRU cache with the given fixed capacity.
func NewLRU(capacity int) *LRU {
	return &LRU{
		capacity: capacity,
		arena:    newArena(capacity),
		order:    newList(),
		index:    make(map[string]int, capacity),
	}
}

// Get returns the cached value and promotes the entry.
func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[key]
	if !ok {
		c.counters.misses++
		return nil, false
	}

	c.order.moveToFront(c.arena, idx)
	c.counters.hits++
	return c.arena.slots[idx].value, true
}

// Put inserts or updates the entry, evicting the least-recent entry
// when over capacity.
func (c *LRU) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		c.counters.evictions++
		return
	}

	if idx, ok := c.index[key]; ok {
		c.arena.slots[idx].value = value
		c.order.moveToFront(c.arena, idx)
		return
	}

	if c.order.size >= c.capacity {
		victim := c.order.popBack(c.arena)
		delete(c.index, c.arena.slots[victim].key)
		c.arena.release(victim)
		c.counters.evictions++
	}

	idx := c.arena.alloc(key, value)
	c.order.pushFront(c.arena, idx)
	c.index[key] = idx
}

// Invalidate removes the entry for key, if present.
func (c *LRU) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[key]
	if !ok {
		return
	}
	c.order.remove(c.arena, idx)
	c.arena.release(idx)
	delete(c.index, key)
}

// Clear drops every entry. Counters are preserved.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.arena = newArena(c.capacity)
	c.order = newList()
	c.index = make(map[string]int, c.capacity)
}

// Stats returns a snapshot of the cache counters.
func (c *LRU) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters.stats(c.order.size, c.capacity)
}
