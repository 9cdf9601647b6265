package contexts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperengineering/lattice/internal/cache"
	"github.com/hyperengineering/lattice/internal/store"
)

// dbFileName is the per-context database file inside its data directory.
const dbFileName = "lattice.db"

// readKeyPrefix namespaces every cached read result so a radix cache
// can drop all of them with one prefix invalidation.
const readKeyPrefix = "q:"

// handle is one context's cache-backed storage: a store plus a policy
// cache fronting its read operations.
type handle struct {
	name  string
	store store.Store
	cache cache.Cache

	// readKeys tracks live cached read keys for policies without prefix
	// invalidation, so mutations can drop them synchronously.
	mu       sync.Mutex
	readKeys map[string]struct{}
}

// openHandle opens (creating if needed) the context's database under
// basePath and pairs it with a fresh cache.
func openHandle(name, basePath string, policy cache.Policy, capacity int) (*handle, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create context directory: %w", err)
	}

	s, err := store.NewSQLiteStore(filepath.Join(basePath, dbFileName), store.WithContextName(name))
	if err != nil {
		return nil, fmt.Errorf("open context database: %w", err)
	}

	c, err := cache.New(policy, capacity)
	if err != nil {
		s.Close()
		return nil, err
	}

	return &handle{
		name:     name,
		store:    s,
		cache:    c,
		readKeys: make(map[string]struct{}),
	}, nil
}

// cachedRead serves key from the cache, falling back to fetch and
// caching the result. Fetched values are recorded as read keys.
func (h *handle) cachedRead(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := h.cache.Get(key); ok {
		return v, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	h.cache.Put(key, v)
	h.mu.Lock()
	h.readKeys[key] = struct{}{}
	h.mu.Unlock()
	return v, nil
}

// invalidateReads drops every cached read result. Mutations call this
// before they are considered complete: a stale result after a committed
// write is a correctness bug.
func (h *handle) invalidateReads() {
	if pi, ok := h.cache.(cache.PrefixInvalidator); ok {
		pi.InvalidatePrefix(readKeyPrefix)
		h.mu.Lock()
		h.readKeys = make(map[string]struct{})
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	keys := make([]string, 0, len(h.readKeys))
	for k := range h.readKeys {
		keys = append(keys, k)
	}
	h.readKeys = make(map[string]struct{})
	h.mu.Unlock()

	for _, k := range keys {
		h.cache.Invalidate(k)
	}
}

// Close releases the store and clears the cache.
func (h *handle) Close() error {
	h.cache.Clear()
	return h.store.Close()
}
