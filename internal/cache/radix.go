package cache

import (
	"strings"
	"sync"

	"github.com/hyperengineering/lattice/internal/types"
)

// Radix caches string keys in a path-compressed prefix trie, which buys
// one extra operation over the other policies: InvalidatePrefix drops
// every key under a prefix in a single subtree cut. Individual lookups
// go through a flat index; the trie exists for prefix work. Eviction is
// oldest-leaf-first, where a Put (insert or update) refreshes an
// entry's age and a Get does not.
type Radix struct {
	mu       sync.Mutex
	capacity int

	root  *radixNode
	arena *arena
	age   list // front = newest, back = oldest
	index map[string]int

	stats counters
}

type radixNode struct {
	label    string
	children map[byte]*radixNode
	terminal bool
}

func newRadixNode(label string) *radixNode {
	return &radixNode{label: label, children: make(map[byte]*radixNode)}
}

// NewRadix creates a radix cache with the given fixed capacity.
func NewRadix(capacity int) *Radix {
	return &Radix{
		capacity: capacity,
		root:     newRadixNode(""),
		arena:    newArena(capacity),
		age:      newList(),
		index:    make(map[string]int, capacity),
	}
}

// Get returns the cached value without refreshing the entry's age.
func (c *Radix) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[key]
	if !ok {
		c.stats.misses++
		return nil, false
	}
	c.stats.hits++
	return c.arena.slots[idx].value, true
}

// Put inserts or updates the entry, evicting the oldest leaf when over
// capacity.
func (c *Radix) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capacity == 0 {
		c.stats.evictions++
		return
	}

	if idx, ok := c.index[key]; ok {
		c.arena.slots[idx].value = value
		c.age.moveToFront(c.arena, idx)
		return
	}

	if c.age.size >= c.capacity {
		victim := c.age.popBack(c.arena)
		victimKey := c.arena.slots[victim].key
		c.arena.release(victim)
		delete(c.index, victimKey)
		c.trieRemove(victimKey)
		c.stats.evictions++
	}

	idx := c.arena.alloc(key, value)
	c.age.pushFront(c.arena, idx)
	c.index[key] = idx
	c.trieInsert(key)
}

// Invalidate removes the entry for key, if present.
func (c *Radix) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// InvalidatePrefix removes every cached key starting with prefix and
// returns how many were dropped. An empty prefix clears the cache.
func (c *Radix) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.collectPrefix(prefix)
	for _, key := range keys {
		c.removeLocked(key)
	}
	return len(keys)
}

// Clear drops every entry. Counters are preserved.
func (c *Radix) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.root = newRadixNode("")
	c.arena = newArena(c.capacity)
	c.age = newList()
	c.index = make(map[string]int, c.capacity)
}

// Stats returns a snapshot of the cache counters.
func (c *Radix) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.stats(c.age.size, c.capacity)
}

func (c *Radix) removeLocked(key string) {
	idx, ok := c.index[key]
	if !ok {
		return
	}
	c.age.remove(c.arena, idx)
	c.arena.release(idx)
	delete(c.index, key)
	c.trieRemove(key)
}

// trieInsert adds key to the trie, splitting compressed edges as needed.
func (c *Radix) trieInsert(key string) {
	node := c.root
	rest := key

	for {
		if rest == "" {
			node.terminal = true
			return
		}

		child, ok := node.children[rest[0]]
		if !ok {
			leaf := newRadixNode(rest)
			leaf.terminal = true
			node.children[rest[0]] = leaf
			return
		}

		common := commonPrefixLen(child.label, rest)
		if common == len(child.label) {
			node = child
			rest = rest[common:]
			continue
		}

		// Split the edge at the divergence point.
		split := newRadixNode(child.label[:common])
		child.label = child.label[common:]
		split.children[child.label[0]] = child
		node.children[split.label[0]] = split

		if common == len(rest) {
			split.terminal = true
		} else {
			leaf := newRadixNode(rest[common:])
			leaf.terminal = true
			split.children[leaf.label[0]] = leaf
		}
		return
	}
}

// trieRemove unsets the terminal for key and prunes empty branches.
func (c *Radix) trieRemove(key string) {
	c.removeFrom(c.root, key)
}

// removeFrom removes key (relative to node) and reports whether node's
// subtree became empty and should be cut by the caller.
func (c *Radix) removeFrom(node *radixNode, rest string) bool {
	if rest == "" {
		node.terminal = false
		return node != c.root && len(node.children) == 0
	}

	child, ok := node.children[rest[0]]
	if !ok || !strings.HasPrefix(rest, child.label) {
		return false
	}

	if c.removeFrom(child, rest[len(child.label):]) {
		delete(node.children, rest[0])
	} else if !child.terminal && len(child.children) == 1 {
		// Merge a pass-through node with its only child.
		for _, only := range child.children {
			only.label = child.label + only.label
			node.children[rest[0]] = only
		}
	}

	return node != c.root && !node.terminal && len(node.children) == 0
}

// collectPrefix returns every stored key starting with prefix.
func (c *Radix) collectPrefix(prefix string) []string {
	node := c.root
	path := ""
	rest := prefix

	for rest != "" {
		child, ok := node.children[rest[0]]
		if !ok {
			return nil
		}
		if len(rest) <= len(child.label) {
			if !strings.HasPrefix(child.label, rest) {
				return nil
			}
			return subtreeKeys(child, path+child.label, nil)
		}
		if !strings.HasPrefix(rest, child.label) {
			return nil
		}
		path += child.label
		rest = rest[len(child.label):]
		node = child
	}

	return subtreeKeys(node, path, nil)
}

func subtreeKeys(node *radixNode, path string, acc []string) []string {
	if node.terminal {
		acc = append(acc, path)
	}
	for _, child := range node.children {
		acc = subtreeKeys(child, path+child.label, acc)
	}
	return acc
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
