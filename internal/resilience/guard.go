// Package resilience wraps storage operations with checksum-verified
// transactions, retry with exponential backoff, and graceful
// degradation. It depends on nothing above it; the manager hands it
// closures to run.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/lattice/internal/types"
)

const (
	// DefaultMaxAttempts bounds retries inside ExecuteWithResilience.
	DefaultMaxAttempts = 3
	// DefaultInitialBackoff seeds the exponential backoff.
	DefaultInitialBackoff = 50 * time.Millisecond
	// DefaultStaleAfter is how long a transaction may stay pending
	// before the reaper force-rolls it back.
	DefaultStaleAfter = 5 * time.Minute
	// defaultMaxLogEntries caps the in-memory transaction log.
	defaultMaxLogEntries = 10000
)

// Guard owns the transaction log, the recovery-action log, and the
// retry/fallback machinery.
type Guard struct {
	maxAttempts    int
	initialBackoff time.Duration
	staleAfter     time.Duration
	maxLogEntries  int

	mu           sync.Mutex
	transactions map[string]*types.Transaction
	order        []string // transaction ids, oldest first
	actions      []types.RecoveryAction
	degradations int64
	repairs      int64
	retries      int64
	now          func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithMaxAttempts sets the total attempt budget for guarded operations.
func WithMaxAttempts(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithInitialBackoff sets the first retry delay.
func WithInitialBackoff(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.initialBackoff = d
		}
	}
}

// WithStaleAfter sets the pending-transaction staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.staleAfter = d
		}
	}
}

// New creates a Guard with the given options.
func New(opts ...Option) *Guard {
	g := &Guard{
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		staleAfter:     DefaultStaleAfter,
		maxLogEntries:  defaultMaxLogEntries,
		transactions:   make(map[string]*types.Transaction),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Begin opens a transaction for the named operation, recording a
// checksum of the input payload. Returns the transaction id.
func (g *Guard) Begin(operation string, input any) (string, error) {
	checksum, err := Checksum(input)
	if err != nil {
		return "", err
	}

	id := ulid.Make().String()
	tx := &types.Transaction{
		ID:            id,
		Operation:     operation,
		InputChecksum: checksum,
		Status:        types.TxPending,
		StartedAt:     g.now().UTC(),
	}

	g.mu.Lock()
	g.transactions[id] = tx
	g.order = append(g.order, id)
	g.pruneOverflowLocked()
	g.mu.Unlock()

	slog.Debug("transaction started",
		"component", "resilience",
		"action", "tx_begin",
		"tx_id", id,
		"operation", operation,
	)

	return id, nil
}

// Commit marks a pending transaction committed, recording a checksum of
// the result. The result checksum is advisory: it is logged for later
// inspection, not compared against the input checksum, because inputs
// and results legitimately differ for every mutating operation.
func (g *Guard) Commit(id string, result any) error {
	checksum, err := Checksum(result)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.transactions[id]
	if !ok {
		return &TransactionStateError{ID: id, Op: "commit"}
	}
	if tx.Status != types.TxPending {
		return &TransactionStateError{ID: id, Status: tx.Status, Op: "commit"}
	}

	now := g.now().UTC()
	tx.Status = types.TxCommitted
	tx.ResultChecksum = checksum
	tx.CompletedAt = &now
	return nil
}

// Rollback marks a pending transaction rolled back and appends a
// rollback recovery action.
func (g *Guard) Rollback(id, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rollbackLocked(id, reason)
}

func (g *Guard) rollbackLocked(id, reason string) error {
	tx, ok := g.transactions[id]
	if !ok {
		return &TransactionStateError{ID: id, Op: "rollback"}
	}
	if tx.Status != types.TxPending {
		return &TransactionStateError{ID: id, Status: tx.Status, Op: "rollback"}
	}

	now := g.now().UTC()
	tx.Status = types.TxRolledBack
	tx.Reason = reason
	tx.CompletedAt = &now

	g.actions = append(g.actions, types.RecoveryAction{
		Type:          types.RecoveryRollback,
		TransactionID: id,
		Reason:        reason,
		Timestamp:     now,
	})

	slog.Warn("transaction rolled back",
		"component", "resilience",
		"action", "tx_rollback",
		"tx_id", id,
		"reason", reason,
	)
	return nil
}

// ReapStale force-rolls-back every transaction pending longer than the
// staleness window. Returns how many were reaped.
func (g *Guard) ReapStale() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.staleAfter)
	reaped := 0
	for _, tx := range g.transactions {
		if tx.Status == types.TxPending && tx.StartedAt.Before(cutoff) {
			g.rollbackLocked(tx.ID, "stale transaction reaped")
			reaped++
		}
	}
	return reaped
}

// Shutdown force-rolls-back every transaction still pending so no
// dangling state survives a process restart.
func (g *Guard) Shutdown() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	rolled := 0
	for _, tx := range g.transactions {
		if tx.Status == types.TxPending {
			g.rollbackLocked(tx.ID, "shutdown")
			rolled++
		}
	}

	if rolled > 0 {
		slog.Info("pending transactions rolled back on shutdown",
			"component", "resilience",
			"action", "shutdown",
			"count", rolled,
		)
	}
	return rolled
}

// Stats returns aggregate guard activity.
func (g *Guard) Stats() types.ResilienceStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	stats := types.ResilienceStats{
		Degradations: g.degradations,
		Repairs:      g.repairs,
		Retries:      g.retries,
	}
	for _, tx := range g.transactions {
		stats.TotalTransactions++
		switch tx.Status {
		case types.TxCommitted:
			stats.Committed++
		case types.TxRolledBack:
			stats.RolledBack++
		case types.TxPending:
			stats.Pending++
		}
	}
	return stats
}

// TransactionLogs returns up to limit transactions, newest first.
// A non-positive limit returns everything.
func (g *Guard) TransactionLogs(limit int) []types.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()

	logs := make([]types.Transaction, 0, len(g.order))
	for i := len(g.order) - 1; i >= 0; i-- {
		if tx, ok := g.transactions[g.order[i]]; ok {
			logs = append(logs, *tx)
		}
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs
}

// RecoveryActions returns the recovery-action log, oldest first.
func (g *Guard) RecoveryActions() []types.RecoveryAction {
	g.mu.Lock()
	defer g.mu.Unlock()

	actions := make([]types.RecoveryAction, len(g.actions))
	copy(actions, g.actions)
	return actions
}

// ClearOldLogs prunes terminal transactions and recovery actions older
// than the given number of days. Pending transactions are never pruned.
// Returns how many log entries were removed.
func (g *Guard) ClearOldLogs(olderThanDays int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	removed := 0

	keptOrder := g.order[:0]
	for _, id := range g.order {
		tx := g.transactions[id]
		if tx.Status.Terminal() && tx.StartedAt.Before(cutoff) {
			delete(g.transactions, id)
			removed++
			continue
		}
		keptOrder = append(keptOrder, id)
	}
	g.order = keptOrder

	keptActions := g.actions[:0]
	for _, a := range g.actions {
		if a.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		keptActions = append(keptActions, a)
	}
	g.actions = keptActions

	return removed
}

// recordDegrade appends a degrade recovery action. Caller must not hold
// the lock.
func (g *Guard) recordDegrade(txID, reason string) {
	g.mu.Lock()
	g.degradations++
	g.actions = append(g.actions, types.RecoveryAction{
		Type:          types.RecoveryDegrade,
		TransactionID: txID,
		Reason:        reason,
		Timestamp:     g.now().UTC(),
	})
	g.mu.Unlock()
}

// recordRepair appends a repair recovery action. Caller must not hold
// the lock.
func (g *Guard) recordRepair(reason string) {
	g.mu.Lock()
	g.repairs++
	g.actions = append(g.actions, types.RecoveryAction{
		Type:      types.RecoveryRepair,
		Reason:    reason,
		Timestamp: g.now().UTC(),
	})
	g.mu.Unlock()
}

// pruneOverflowLocked drops the oldest terminal transactions when the
// log exceeds its cap.
func (g *Guard) pruneOverflowLocked() {
	if len(g.order) <= g.maxLogEntries {
		return
	}
	kept := g.order[:0]
	excess := len(g.order) - g.maxLogEntries
	for _, id := range g.order {
		if excess > 0 {
			if tx := g.transactions[id]; tx.Status.Terminal() {
				delete(g.transactions, id)
				excess--
				continue
			}
		}
		kept = append(kept, id)
	}
	g.order = kept
}
