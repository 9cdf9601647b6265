// Package cache provides the pluggable key/value cache that fronts each
// context's storage handle. Four eviction policies share one contract;
// none of them know anything about contexts or transactions.
package cache

import (
	"fmt"

	"github.com/hyperengineering/lattice/internal/types"
)

// Policy names an eviction policy.
type Policy string

const (
	PolicyLRU   Policy = "lru"
	Policy2Q    Policy = "2q"
	PolicyARC   Policy = "arc"
	PolicyRadix Policy = "radix"
)

// Cache is the uniform contract across eviction policies.
//
// A capacity of zero degrades every implementation to a pass-through:
// each Put is an immediate eviction and each Get a miss. That is a
// documented edge case, not an error.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, value any)
	Invalidate(key string)
	Clear()
	Stats() types.CacheStats
}

// PrefixInvalidator is implemented by policies that can drop every key
// sharing a prefix in one operation. Only the radix policy supports it.
type PrefixInvalidator interface {
	InvalidatePrefix(prefix string) int
}

// New constructs a cache with the named policy and fixed capacity.
func New(policy Policy, capacity int) (Cache, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("cache capacity must be non-negative, got %d", capacity)
	}

	switch policy {
	case PolicyLRU:
		return NewLRU(capacity), nil
	case Policy2Q:
		return New2Q(capacity), nil
	case PolicyARC:
		return NewARC(capacity), nil
	case PolicyRadix:
		return NewRadix(capacity), nil
	default:
		return nil, fmt.Errorf("unknown cache policy %q", policy)
	}
}

// counters tracks hit/miss/eviction totals shared by all policies.
type counters struct {
	hits      int64
	misses    int64
	evictions int64
}

func (c *counters) stats(size, capacity int) types.CacheStats {
	return types.CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      size,
		Capacity:  capacity,
	}
}
