// Package contexts implements the multi-context manager: it owns one
// cache-backed storage handle per context, the confidence scorer, and
// the routing and lifecycle API consumed by the protocol layer.
package contexts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hyperengineering/lattice/internal/cache"
	"github.com/hyperengineering/lattice/internal/resilience"
	"github.com/hyperengineering/lattice/internal/scoring"
	"github.com/hyperengineering/lattice/internal/types"
	"github.com/hyperengineering/lattice/internal/validation"
)

// Manager routes knowledge-graph operations to isolated per-context
// stores. All compound read-modify-write sequences against the registry,
// the handle map, and the current-context pointer are serialized through
// one mutex.
type Manager struct {
	rootPath string
	policy   cache.Policy
	capacity int

	scorer *scoring.Scorer
	guard  *resilience.Guard

	mu       sync.RWMutex
	registry *Registry
	handles  map[string]*handle
	current  string
}

// NewManager loads the context registry from rootPath, opens every
// registered context, rebuilds the scorer's entity membership from the
// stores, and persists the registry so first startup leaves a valid
// file behind.
func NewManager(ctx context.Context, rootPath string, policy cache.Policy, capacity int, guard *resilience.Guard) (*Manager, error) {
	if strings.HasPrefix(rootPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		rootPath = filepath.Join(home, rootPath[2:])
	}
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, fmt.Errorf("create contexts root directory: %w", err)
	}

	reg, err := LoadRegistry(rootPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		rootPath: rootPath,
		policy:   policy,
		capacity: capacity,
		scorer:   scoring.NewScorer(),
		guard:    guard,
		registry: reg,
		handles:  make(map[string]*handle),
		current:  reg.DefaultContext,
	}

	for name, cfg := range reg.Contexts {
		h, err := openHandle(name, m.contextPath(cfg), policy, capacity)
		if err != nil {
			m.closeLocked()
			return nil, fmt.Errorf("open context %q: %w", name, err)
		}
		m.handles[name] = h

		names, err := h.store.ListEntityNames(ctx)
		if err != nil {
			m.closeLocked()
			return nil, fmt.Errorf("rebuild membership for %q: %w", name, err)
		}
		for _, entity := range names {
			m.scorer.UpdateEntityContext(entity, name)
		}

		slog.Info("context loaded",
			"component", "contexts",
			"action", "context_loaded",
			"context", name,
			"entities", len(names),
		)
	}

	m.scorer.Recompile(m.profilesLocked())

	if err := reg.Save(rootPath); err != nil {
		m.closeLocked()
		return nil, err
	}
	return m, nil
}

// ContextOptions carries the optional fields of a new context.
type ContextOptions struct {
	Patterns    []string
	EntityTypes []string
	Description string
}

// CreateContext registers a new context: validates the name, provisions
// its storage location and cache, registers it with the scorer, and
// persists the updated registry.
func (m *Manager) CreateContext(ctx context.Context, name string, opts ContextOptions) (*types.ContextSummary, error) {
	if verr := validation.ValidateContextName("name", name); verr != nil {
		return nil, verr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry.Contexts[name]; ok {
		return nil, &ContextAlreadyExistsError{Name: name}
	}

	cfg := &ContextConfig{
		Path:        name,
		Patterns:    opts.Patterns,
		EntityTypes: opts.EntityTypes,
		Description: opts.Description,
	}

	h, err := openHandle(name, m.contextPath(cfg), m.policy, m.capacity)
	if err != nil {
		return nil, err
	}

	m.registry.Contexts[name] = cfg
	m.handles[name] = h
	m.scorer.Recompile(m.profilesLocked())

	if err := m.registry.Save(m.rootPath); err != nil {
		h.Close()
		delete(m.registry.Contexts, name)
		delete(m.handles, name)
		m.scorer.Recompile(m.profilesLocked())
		return nil, err
	}

	slog.Info("context created",
		"component", "contexts",
		"action", "context_created",
		"context", name,
	)

	return &types.ContextSummary{
		Name:        name,
		Description: cfg.Description,
		Patterns:    cfg.Patterns,
		EntityTypes: cfg.EntityTypes,
		Current:     name == m.current,
	}, nil
}

// ContextPatch carries partial updates to a context configuration. Nil
// fields are left unchanged.
type ContextPatch struct {
	Patterns    *[]string
	EntityTypes *[]string
	Description *string
}

// UpdateContext applies a patch to a registered context, recompiles the
// scorer, and persists the registry.
func (m *Manager) UpdateContext(ctx context.Context, name string, patch ContextPatch) (*types.ContextSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.registry.Contexts[name]
	if !ok {
		return nil, &ContextNotFoundError{Name: name}
	}

	if patch.Patterns != nil {
		cfg.Patterns = *patch.Patterns
	}
	if patch.EntityTypes != nil {
		cfg.EntityTypes = *patch.EntityTypes
	}
	if patch.Description != nil {
		cfg.Description = *patch.Description
	}

	m.scorer.Recompile(m.profilesLocked())

	if err := m.registry.Save(m.rootPath); err != nil {
		return nil, err
	}

	return &types.ContextSummary{
		Name:        name,
		Description: cfg.Description,
		Patterns:    cfg.Patterns,
		EntityTypes: cfg.EntityTypes,
		Current:     name == m.current,
	}, nil
}

// DeleteContext removes a context and its data. The current context can
// never be deleted, force or not. A context still holding entities is
// only deleted with force.
func (m *Manager) DeleteContext(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.registry.Contexts[name]
	if !ok {
		return &ContextNotFoundError{Name: name}
	}
	if name == m.current {
		return &CurrentContextError{Name: name}
	}

	h := m.handles[name]
	if !force {
		count, err := h.store.CountEntities(ctx)
		if err != nil {
			return fmt.Errorf("count entities in %q: %w", name, err)
		}
		if count > 0 {
			return &ContextNotEmptyError{Name: name, EntityCount: count}
		}
	}

	if err := h.Close(); err != nil {
		slog.Warn("error closing context before deletion",
			"component", "contexts",
			"context", name,
			"error", err,
		)
	}
	delete(m.handles, name)
	delete(m.registry.Contexts, name)
	m.scorer.DropContext(name)
	m.scorer.Recompile(m.profilesLocked())

	if name == m.registry.DefaultContext {
		m.registry.DefaultContext = m.current
	}

	if err := os.RemoveAll(m.contextPath(cfg)); err != nil {
		return fmt.Errorf("remove context directory: %w", err)
	}
	if err := m.registry.Save(m.rootPath); err != nil {
		return err
	}

	slog.Info("context deleted",
		"component", "contexts",
		"action", "context_deleted",
		"context", name,
		"force", force,
	)
	return nil
}

// ListContexts returns a summary of every registered context, sorted by
// name.
func (m *Manager) ListContexts(ctx context.Context) ([]types.ContextSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.registry.Contexts))
	for name := range m.registry.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]types.ContextSummary, 0, len(names))
	for _, name := range names {
		cfg := m.registry.Contexts[name]
		count, err := m.handles[name].store.CountEntities(ctx)
		if err != nil {
			return nil, fmt.Errorf("count entities in %q: %w", name, err)
		}
		summaries = append(summaries, types.ContextSummary{
			Name:        name,
			Description: cfg.Description,
			Patterns:    cfg.Patterns,
			EntityTypes: cfg.EntityTypes,
			EntityCount: count,
			Current:     name == m.current,
		})
	}
	return summaries, nil
}

// SwitchContext makes name the current context and persists it as the
// registry default so it survives restarts.
func (m *Manager) SwitchContext(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry.Contexts[name]; !ok {
		return &ContextNotFoundError{Name: name}
	}

	m.current = name
	m.registry.DefaultContext = name
	return m.registry.Save(m.rootPath)
}

// CurrentContext returns the active context name.
func (m *Manager) CurrentContext() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Route dispatches one operation: explicit context if given, otherwise
// the scorer picks, otherwise the current context. When the scorer's
// ranking is too ambiguous the result carries the full score breakdown
// instead of a guess.
func (m *Manager) Route(ctx context.Context, op types.Operation, payload *types.Payload, explicit string) (*types.RouteResult, error) {
	if payload == nil {
		payload = &types.Payload{}
	}
	if verr := validatePayload(op, payload); verr != nil {
		return nil, verr
	}

	name, score, ambiguity, err := m.resolve(payload, explicit)
	if err != nil {
		return nil, err
	}
	if ambiguity != nil {
		return &types.RouteResult{Ambiguity: ambiguity}, nil
	}

	m.mu.RLock()
	h, ok := m.handles[name]
	m.mu.RUnlock()
	if !ok {
		return nil, &ContextNotFoundError{Name: name}
	}

	result, err := m.execute(ctx, h, op, payload)
	if err != nil {
		return nil, err
	}

	routed := &types.RouteResult{Result: result, ResolvedContext: name}
	if score != nil {
		routed.Confidence = score.Confidence
		routed.LowConfidence = score.Confidence < scoring.MediumConfidenceThreshold
	}
	return routed, nil
}

// SearchAll fans a query out to every context and merges the matches by
// descending score, each tagged with its origin context.
func (m *Manager) SearchAll(ctx context.Context, query string) ([]types.SearchMatch, error) {
	m.mu.RLock()
	snapshot := make(map[string]*handle, len(m.handles))
	for name, h := range m.handles {
		snapshot[name] = h
	}
	m.mu.RUnlock()

	var merged []types.SearchMatch
	for name, h := range snapshot {
		result, err := m.searchOne(ctx, h, query)
		if err != nil {
			return nil, fmt.Errorf("search context %q: %w", name, err)
		}
		for _, match := range result {
			match.Context = name
			merged = append(merged, match)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	return merged, nil
}

// RepairAll runs corruption detection and repair over every context.
func (m *Manager) RepairAll(ctx context.Context) ([]types.RecoveryAction, error) {
	m.mu.RLock()
	snapshot := make(map[string]*handle, len(m.handles))
	for name, h := range m.handles {
		snapshot[name] = h
	}
	m.mu.RUnlock()

	var taken []types.RecoveryAction
	for name, h := range snapshot {
		actions, err := m.guard.DetectAndRepairCorruption(ctx, name, h.store)
		if err != nil {
			return taken, err
		}
		if len(actions) > 0 {
			h.invalidateReads()
		}
		taken = append(taken, actions...)
	}
	return taken, nil
}

// CacheStats returns per-context cache counters.
func (m *Manager) CacheStats() map[string]types.CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]types.CacheStats, len(m.handles))
	for name, h := range m.handles {
		stats[name] = h.cache.Stats()
	}
	return stats
}

// ContextNames returns the registered context names, sorted.
func (m *Manager) ContextNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.registry.Contexts))
	for name := range m.registry.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SnapshotContext writes a consistent snapshot of one context's
// database to its snapshot directory and returns the snapshot path.
func (m *Manager) SnapshotContext(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	cfg, ok := m.registry.Contexts[name]
	h := m.handles[name]
	m.mu.RUnlock()
	if !ok {
		return "", &ContextNotFoundError{Name: name}
	}

	dest := filepath.Join(m.contextPath(cfg), "snapshot", "current.db")
	if err := h.store.Snapshot(ctx, dest); err != nil {
		return "", fmt.Errorf("snapshot context %q: %w", name, err)
	}
	return dest, nil
}

// DatabasePath returns the on-disk database file for a context.
func (m *Manager) DatabasePath(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.registry.Contexts[name]
	if !ok {
		return "", &ContextNotFoundError{Name: name}
	}
	return filepath.Join(m.contextPath(cfg), dbFileName), nil
}

// Close closes every context handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	var lastErr error
	for name, h := range m.handles {
		if err := h.Close(); err != nil {
			slog.Error("error closing context",
				"component", "contexts",
				"context", name,
				"error", err,
			)
			lastErr = err
		}
		delete(m.handles, name)
	}
	return lastErr
}

// resolve picks the destination context for a payload. When the scorer
// decided the route, the winning score rides along so callers can
// report how confident the pick was.
func (m *Manager) resolve(payload *types.Payload, explicit string) (string, *types.ContextScore, *types.Ambiguity, error) {
	m.mu.RLock()
	autoDetect := m.registry.AutoDetect
	current := m.current
	if explicit != "" {
		_, registered := m.registry.Contexts[explicit]
		m.mu.RUnlock()
		if !registered {
			return "", nil, nil, &ContextNotFoundError{Name: explicit}
		}
		return explicit, nil, nil, nil
	}
	m.mu.RUnlock()

	if !autoDetect {
		return current, nil, nil, nil
	}

	scores := m.scorer.ScoreContexts(payload)
	if len(scores) == 0 {
		return current, nil, nil, nil
	}

	top := scores[0]
	var second *types.ContextScore
	if len(scores) > 1 {
		second = &scores[1]
	}

	if scoring.ShouldPromptUser(top, second) {
		reason := "no context scored above the confidence threshold"
		if top.Confidence >= scoring.LowConfidenceThreshold {
			reason = "top two contexts are too close to call"
		}
		return "", nil, &types.Ambiguity{Reason: reason, Candidates: scores}, nil
	}
	return top.Context, &top, nil, nil
}

// degradedFallback unwraps a resilience degradation. The guard already
// substituted the operation class's safe fallback; callers serve it
// directly, bypassing the read cache so the empty result dies with the
// request instead of outliving the outage.
func degradedFallback(err error) (any, bool) {
	var derr *resilience.DegradedError
	if errors.As(err, &derr) {
		return derr.Fallback, true
	}
	return nil, false
}

// execute runs one operation against a handle. Reads are cache-backed;
// mutations invalidate the handle's cached reads and update scorer
// membership before returning. Degraded results are served but never
// cached, and never touch invalidation or membership state.
func (m *Manager) execute(ctx context.Context, h *handle, op types.Operation, payload *types.Payload) (any, error) {
	switch op {
	case types.OpSearchNodes:
		return m.searchOneAny(ctx, h, payload.Query)

	case types.OpOpenNodes:
		key := readKeyPrefix + "open:" + normalizedNameKey(payload.Names)
		result, err := h.cachedRead(ctx, key, func(ctx context.Context) (any, error) {
			return m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
				return h.store.OpenNodes(ctx, payload.Names)
			})
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		return result, nil

	case types.OpReadGraph:
		key := readKeyPrefix + "graph"
		result, err := h.cachedRead(ctx, key, func(ctx context.Context) (any, error) {
			return m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
				return h.store.ReadGraph(ctx)
			})
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		return result, nil

	case types.OpCreateEntities:
		result, err := m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
			return h.store.CreateEntities(ctx, payload.Entities)
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		h.invalidateReads()
		if created, ok := result.([]types.Entity); ok {
			for _, e := range created {
				m.scorer.UpdateEntityContext(e.Name, h.name)
			}
		}
		return result, nil

	case types.OpCreateRelations:
		result, err := m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
			return h.store.CreateRelations(ctx, payload.Relations)
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		h.invalidateReads()
		return result, nil

	case types.OpAddObservations:
		result, err := m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
			return h.store.AddObservations(ctx, payload.Observations)
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		h.invalidateReads()
		return result, nil

	case types.OpDeleteEntities:
		result, err := m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
			return h.store.DeleteEntities(ctx, payload.Names)
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		h.invalidateReads()
		for _, name := range payload.Names {
			m.scorer.RemoveEntityFromContext(name, h.name)
		}
		return result, nil

	case types.OpDeleteRelations:
		result, err := m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
			return h.store.DeleteRelations(ctx, payload.Relations)
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		h.invalidateReads()
		return result, nil

	case types.OpDeleteObservations:
		result, err := m.guard.ExecuteWithResilience(ctx, op, payload, func(ctx context.Context) (any, error) {
			return h.store.DeleteObservations(ctx, payload.Deletions)
		})
		if err != nil {
			if fb, ok := degradedFallback(err); ok {
				return fb, nil
			}
			return nil, err
		}
		h.invalidateReads()
		return result, nil

	default:
		return nil, &validation.ValidationError{
			Field:   "operation",
			Message: fmt.Sprintf("unknown operation %q", op),
		}
	}
}

// searchOne is SearchAll's per-context leg; searchOneAny is the routed
// single-context form. Both share the cache key so repeated queries hit.
func (m *Manager) searchOne(ctx context.Context, h *handle, query string) ([]types.SearchMatch, error) {
	result, err := m.searchOneAny(ctx, h, query)
	if err != nil {
		return nil, err
	}
	matches, ok := result.([]types.SearchMatch)
	if !ok {
		return nil, fmt.Errorf("unexpected search result type %T", result)
	}
	// Copy before tagging: the cached slice must stay untagged.
	out := make([]types.SearchMatch, len(matches))
	copy(out, matches)
	return out, nil
}

func (m *Manager) searchOneAny(ctx context.Context, h *handle, query string) (any, error) {
	key := readKeyPrefix + "search:" + strings.ToLower(query)
	result, err := h.cachedRead(ctx, key, func(ctx context.Context) (any, error) {
		return m.guard.ExecuteWithResilience(ctx, types.OpSearchNodes, &types.Payload{Query: query}, func(ctx context.Context) (any, error) {
			return h.store.SearchNodes(ctx, query)
		})
	})
	if err != nil {
		if fb, ok := degradedFallback(err); ok {
			return fb, nil
		}
		return nil, err
	}
	return result, nil
}

// profilesLocked builds the scorer's view of the registry. Caller holds
// the lock.
func (m *Manager) profilesLocked() []scoring.Profile {
	profiles := make([]scoring.Profile, 0, len(m.registry.Contexts))
	for name, cfg := range m.registry.Contexts {
		profiles = append(profiles, scoring.Profile{
			Name:        name,
			Patterns:    cfg.Patterns,
			EntityTypes: cfg.EntityTypes,
		})
	}
	return profiles
}

func (m *Manager) contextPath(cfg *ContextConfig) string {
	if filepath.IsAbs(cfg.Path) {
		return cfg.Path
	}
	return filepath.Join(m.rootPath, cfg.Path)
}

// normalizedNameKey canonicalizes a name list into a cache key segment.
func normalizedNameKey(names []string) string {
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}
	sort.Strings(lowered)
	return strings.Join(lowered, "\x1f")
}

// validatePayload checks the operation's payload, collecting every
// field failure so the caller sees them all in one pass.
func validatePayload(op types.Operation, p *types.Payload) error {
	var c validation.Collector
	switch op {
	case types.OpCreateEntities:
		if len(p.Entities) == 0 {
			return &validation.ValidationError{Field: "entities", Message: "must not be empty"}
		}
		for i, e := range p.Entities {
			c.Add(validation.ValidateEntityName(fmt.Sprintf("entities[%d].name", i), e.Name))
			for j, obs := range e.Observations {
				c.Add(validation.ValidateMaxLength(
					fmt.Sprintf("entities[%d].observations[%d]", i, j), obs, validation.MaxObservationLength))
			}
		}
	case types.OpCreateRelations, types.OpDeleteRelations:
		if len(p.Relations) == 0 {
			return &validation.ValidationError{Field: "relations", Message: "must not be empty"}
		}
	case types.OpAddObservations:
		if len(p.Observations) == 0 {
			return &validation.ValidationError{Field: "observations", Message: "must not be empty"}
		}
		for i, set := range p.Observations {
			c.Add(validation.ValidateEntityName(fmt.Sprintf("observations[%d].entityName", i), set.EntityName))
			for j, obs := range set.Contents {
				c.Add(validation.ValidateMaxLength(
					fmt.Sprintf("observations[%d].contents[%d]", i, j), obs, validation.MaxObservationLength))
			}
		}
	case types.OpDeleteObservations:
		if len(p.Deletions) == 0 {
			return &validation.ValidationError{Field: "deletions", Message: "must not be empty"}
		}
	case types.OpDeleteEntities, types.OpOpenNodes:
		if len(p.Names) == 0 {
			return &validation.ValidationError{Field: "names", Message: "must not be empty"}
		}
	case types.OpSearchNodes:
		if strings.TrimSpace(p.Query) == "" {
			return &validation.ValidationError{Field: "query", Message: "must not be empty"}
		}
	}
	return c.Err()
}
