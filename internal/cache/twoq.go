package cache

import (
	"sync"

	"github.com/hyperengineering/lattice/internal/types"
)

// DefaultA1Ratio is the share of capacity reserved for the A1in queue.
const DefaultA1Ratio = 0.25

// TwoQ implements the 2Q eviction policy. New keys enter A1in, a FIFO
// of first-touch items; a second access promotes a key to Am, an LRU of
// proven-hot items. One-time scans wash through A1in without polluting
// Am. Eviction drains an oversized A1in first, then the Am tail.
type TwoQ struct {
	mu       sync.Mutex
	capacity int
	a1Max    int

	arena *arena
	a1in  list
	am    list

	inA1  map[string]int
	inAm  map[string]int
	stats counters
}

// New2Q creates a 2Q cache splitting capacity 25%/75% between A1in and Am.
func New2Q(capacity int) *TwoQ {
	return New2QRatio(capacity, DefaultA1Ratio)
}

// New2QRatio creates a 2Q cache with an explicit A1in share of capacity.
func New2QRatio(capacity int, a1Ratio float64) *TwoQ {
	a1Max := int(float64(capacity) * a1Ratio)
	if a1Max < 1 && capacity > 0 {
		a1Max = 1
	}
	return &TwoQ{
		capacity: capacity,
		a1Max:    a1Max,
		arena:    newArena(capacity),
		a1in:     newList(),
		am:       newList(),
		inA1:     make(map[string]int),
		inAm:     make(map[string]int),
	}
}

// Get returns the cached value. A hit on an A1in entry promotes it to Am.
func (c *TwoQ) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.inAm[key]; ok {
		c.am.moveToFront(c.arena, idx)
		c.stats.hits++
		return c.arena.slots[idx].value, true
	}

	if idx, ok := c.inA1[key]; ok {
		// Second touch: promote to the hot queue.
		c.a1in.remove(c.arena, idx)
		delete(c.inA1, key)
		c.am.pushFront(c.arena, idx)
		c.inAm[key] = idx
		c.stats.hits++
		return c.arena.slots[idx].value, true
	}

	c.stats.misses++
	return nil, false
}

// Put inserts or updates the entry. New keys land in A1in.
func (c *TwoQ) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		c.stats.evictions++
		return
	}

	if idx, ok := c.inAm[key]; ok {
		c.arena.slots[idx].value = value
		c.am.moveToFront(c.arena, idx)
		return
	}
	if idx, ok := c.inA1[key]; ok {
		c.arena.slots[idx].value = value
		return
	}

	if c.a1in.size+c.am.size >= c.capacity {
		c.evict()
	}

	idx := c.arena.alloc(key, value)
	c.a1in.pushFront(c.arena, idx)
	c.inA1[key] = idx
}

// evict removes one entry, preferring the A1in tail when A1in is at or
// over its share, falling back to the Am tail.
func (c *TwoQ) evict() {
	if c.a1in.size >= c.a1Max && c.a1in.size > 0 || c.am.size == 0 {
		victim := c.a1in.popBack(c.arena)
		if victim == nilIdx {
			return
		}
		delete(c.inA1, c.arena.slots[victim].key)
		c.arena.release(victim)
		c.stats.evictions++
		return
	}

	victim := c.am.popBack(c.arena)
	if victim == nilIdx {
		return
	}
	delete(c.inAm, c.arena.slots[victim].key)
	c.arena.release(victim)
	c.stats.evictions++
}

// Invalidate removes the entry for key, if present.
func (c *TwoQ) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.inA1[key]; ok {
		c.a1in.remove(c.arena, idx)
		c.arena.release(idx)
		delete(c.inA1, key)
		return
	}
	if idx, ok := c.inAm[key]; ok {
		c.am.remove(c.arena, idx)
		c.arena.release(idx)
		delete(c.inAm, key)
	}
}

// Clear drops every entry. Counters are preserved.
func (c *TwoQ) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.arena = newArena(c.capacity)
	c.a1in = newList()
	c.am = newList()
	c.inA1 = make(map[string]int)
	c.inAm = make(map[string]int)
}

// Stats returns a snapshot of the cache counters.
func (c *TwoQ) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.stats(c.a1in.size+c.am.size, c.capacity)
}
