package cache

import (
	"sync"

	"github.com/hyperengineering/lattice/internal/types"
)

// ARC implements the adaptive replacement cache. Live entries split
// between T1 (seen once recently) and T2 (seen at least twice); ghost
// lists B1 and B2 remember keys recently evicted from each side, values
// dropped. A hit on a B1 ghost grows the target size p for T1 (recency
// is winning); a hit on a B2 ghost shrinks it (frequency is winning).
// The cache tunes its own recency/frequency split with no knobs.
type ARC struct {
	mu       sync.Mutex
	capacity int
	p        int // adaptive target size for T1

	arena *arena
	t1    list
	t2    list
	b1    list
	b2    list

	inT1 map[string]int
	inT2 map[string]int
	inB1 map[string]int
	inB2 map[string]int

	stats counters
}

// NewARC creates an ARC cache with the given fixed capacity.
func NewARC(capacity int) *ARC {
	return &ARC{
		capacity: capacity,
		// Live lists hold up to capacity entries and ghost lists up to
		// capacity more.
		arena: newArena(capacity * 2),
		t1:    newList(),
		t2:    newList(),
		b1:    newList(),
		b2:    newList(),
		inT1:  make(map[string]int),
		inT2:  make(map[string]int),
		inB1:  make(map[string]int),
		inB2:  make(map[string]int),
	}
}

// Get returns the cached value. Any hit promotes the entry to T2.
func (c *ARC) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.inT1[key]; ok {
		c.t1.remove(c.arena, idx)
		delete(c.inT1, key)
		c.t2.pushFront(c.arena, idx)
		c.inT2[key] = idx
		c.stats.hits++
		return c.arena.slots[idx].value, true
	}

	if idx, ok := c.inT2[key]; ok {
		c.t2.moveToFront(c.arena, idx)
		c.stats.hits++
		return c.arena.slots[idx].value, true
	}

	c.stats.misses++
	return nil, false
}

// Put inserts or updates the entry, adapting p on ghost hits.
func (c *ARC) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		c.stats.evictions++
		return
	}

	// Live hit: update in place and promote.
	if idx, ok := c.inT1[key]; ok {
		c.arena.slots[idx].value = value
		c.t1.remove(c.arena, idx)
		delete(c.inT1, key)
		c.t2.pushFront(c.arena, idx)
		c.inT2[key] = idx
		return
	}
	if idx, ok := c.inT2[key]; ok {
		c.arena.slots[idx].value = value
		c.t2.moveToFront(c.arena, idx)
		return
	}

	// Ghost hit in B1: the recency side was evicted too eagerly.
	if idx, ok := c.inB1[key]; ok {
		delta := 1
		if c.b1.size > 0 && c.b2.size/c.b1.size > 1 {
			delta = c.b2.size / c.b1.size
		}
		c.p = min(c.capacity, c.p+delta)

		c.replace(false)

		c.b1.remove(c.arena, idx)
		delete(c.inB1, key)
		c.arena.slots[idx].value = value
		c.t2.pushFront(c.arena, idx)
		c.inT2[key] = idx
		return
	}

	// Ghost hit in B2: the frequency side was evicted too eagerly.
	if idx, ok := c.inB2[key]; ok {
		delta := 1
		if c.b2.size > 0 && c.b1.size/c.b2.size > 1 {
			delta = c.b1.size / c.b2.size
		}
		c.p = max(0, c.p-delta)

		c.replace(true)

		c.b2.remove(c.arena, idx)
		delete(c.inB2, key)
		c.arena.slots[idx].value = value
		c.t2.pushFront(c.arena, idx)
		c.inT2[key] = idx
		return
	}

	// Cold miss.
	l1 := c.t1.size + c.b1.size
	if l1 == c.capacity {
		if c.t1.size < c.capacity {
			ghost := c.b1.popBack(c.arena)
			delete(c.inB1, c.arena.slots[ghost].key)
			c.arena.release(ghost)
			c.replace(false)
		} else {
			// B1 is empty and T1 is full; drop the T1 tail outright.
			victim := c.t1.popBack(c.arena)
			delete(c.inT1, c.arena.slots[victim].key)
			c.arena.release(victim)
			c.stats.evictions++
		}
	} else if l1 < c.capacity {
		total := c.t1.size + c.t2.size + c.b1.size + c.b2.size
		if total >= c.capacity {
			if total == 2*c.capacity {
				ghost := c.b2.popBack(c.arena)
				delete(c.inB2, c.arena.slots[ghost].key)
				c.arena.release(ghost)
			}
			c.replace(false)
		}
	}

	idx := c.arena.alloc(key, value)
	c.t1.pushFront(c.arena, idx)
	c.inT1[key] = idx
}

// replace evicts one live entry into its ghost list, choosing the side
// by comparing |T1| against the adaptive target p.
func (c *ARC) replace(ghostHitInB2 bool) {
	fromT1 := c.t1.size >= 1 &&
		((ghostHitInB2 && c.t1.size == c.p) || c.t1.size > c.p)

	if fromT1 || c.t2.size == 0 {
		victim := c.t1.popBack(c.arena)
		if victim == nilIdx {
			return
		}
		key := c.arena.slots[victim].key
		delete(c.inT1, key)
		c.arena.slots[victim].value = nil
		c.b1.pushFront(c.arena, victim)
		c.inB1[key] = victim
		c.stats.evictions++
		return
	}

	victim := c.t2.popBack(c.arena)
	if victim == nilIdx {
		return
	}
	key := c.arena.slots[victim].key
	delete(c.inT2, key)
	c.arena.slots[victim].value = nil
	c.b2.pushFront(c.arena, victim)
	c.inB2[key] = victim
	c.stats.evictions++
}

// Invalidate removes the entry for key, live or ghost.
func (c *ARC) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.inT1[key]; ok {
		c.t1.remove(c.arena, idx)
		c.arena.release(idx)
		delete(c.inT1, key)
		return
	}
	if idx, ok := c.inT2[key]; ok {
		c.t2.remove(c.arena, idx)
		c.arena.release(idx)
		delete(c.inT2, key)
		return
	}
	if idx, ok := c.inB1[key]; ok {
		c.b1.remove(c.arena, idx)
		c.arena.release(idx)
		delete(c.inB1, key)
		return
	}
	if idx, ok := c.inB2[key]; ok {
		c.b2.remove(c.arena, idx)
		c.arena.release(idx)
		delete(c.inB2, key)
	}
}

// Clear drops every entry including ghosts and resets the adaptive
// target. Counters are preserved.
func (c *ARC) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.arena = newArena(c.capacity * 2)
	c.t1 = newList()
	c.t2 = newList()
	c.b1 = newList()
	c.b2 = newList()
	c.inT1 = make(map[string]int)
	c.inT2 = make(map[string]int)
	c.inB1 = make(map[string]int)
	c.inB2 = make(map[string]int)
	c.p = 0
}

// Stats returns a snapshot of the cache counters. Ghost entries do not
// count toward size.
func (c *ARC) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.stats(c.t1.size+c.t2.size, c.capacity)
}
