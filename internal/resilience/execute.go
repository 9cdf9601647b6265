package resilience

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/lattice/internal/store"
	"github.com/hyperengineering/lattice/internal/types"
	"github.com/hyperengineering/lattice/internal/validation"
)

// OperationFunc is a guarded storage operation.
type OperationFunc func(ctx context.Context) (any, error)

// ExecuteWithResilience runs fn inside a transaction with automatic
// retry and exponential backoff. Permanent errors (validation failures,
// not-found, duplicates) are surfaced immediately, never retried. When
// retries are exhausted the transaction is rolled back, a degrade
// recovery action is logged, and a DegradedError carrying the operation
// class's documented fallback value is returned; callers decide whether
// to absorb it.
func (g *Guard) ExecuteWithResilience(ctx context.Context, op types.Operation, input any, fn OperationFunc) (any, error) {
	txID, err := g.Begin(string(op), input)
	if err != nil {
		return nil, err
	}

	var result any
	backoff := retry.WithMaxRetries(uint64(g.maxAttempts-1), retry.NewExponential(g.initialBackoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, ferr := fn(ctx)
		if ferr != nil {
			if isPermanent(ferr) {
				return ferr
			}
			g.mu.Lock()
			g.retries++
			g.mu.Unlock()
			return retry.RetryableError(ferr)
		}
		result = r
		return nil
	})

	if err == nil {
		if cerr := g.Commit(txID, result); cerr != nil {
			return nil, cerr
		}
		return result, nil
	}

	// The caller abandoning the context must not leave the transaction
	// pending; it is rolled back here, or failing that, by the reaper.
	if rerr := g.Rollback(txID, err.Error()); rerr != nil {
		slog.Error("rollback after failed operation",
			"component", "resilience",
			"tx_id", txID,
			"error", rerr,
		)
	}

	if isPermanent(err) {
		return nil, err
	}

	derr := &DegradedError{Op: op, Fallback: fallbackFor(op), Cause: err}
	g.recordDegrade(txID, derr.Error())

	slog.Warn("operation degraded to fallback",
		"component", "resilience",
		"action", "degrade",
		"operation", string(op),
		"tx_id", txID,
		"error", err,
	)

	return nil, derr
}

// isPermanent reports whether the error can never be fixed by retrying:
// a caller contract violation or a definitive domain answer from the
// store. Permanent errors propagate instead of degrading.
func isPermanent(err error) bool {
	var verr *validation.ValidationError
	if errors.As(err, &verr) {
		return true
	}
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrDuplicateEntity) ||
		errors.Is(err, store.ErrDuplicateRelation)
}

// fallbackFor returns the operation-class-specific safe value: create
// and search classes degrade to empty results, update and delete
// classes to a zero progress count so callers skip and continue.
func fallbackFor(op types.Operation) any {
	switch op.Class() {
	case types.ClassCreate:
		if op == types.OpCreateRelations {
			return []types.Relation{}
		}
		return []types.Entity{}
	case types.ClassUpdate:
		return []types.ObservationSet{}
	case types.ClassDelete:
		return int64(0)
	default: // ClassSearch
		switch op {
		case types.OpOpenNodes, types.OpReadGraph:
			return &types.KnowledgeGraph{}
		default:
			return []types.SearchMatch{}
		}
	}
}
