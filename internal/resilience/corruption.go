package resilience

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/lattice/internal/types"
)

// CorruptionStore is the slice of the storage contract that corruption
// detection needs.
type CorruptionStore interface {
	FindDanglingRelations(ctx context.Context) ([]types.Relation, error)
	DeleteRelations(ctx context.Context, relations []types.Relation) (int64, error)
}

// DetectAndRepairCorruption cross-validates one context's graph and
// repairs what it can: relations pointing at entities that no longer
// exist are removed, one repair recovery action each. The returned
// slice holds the actions taken during this invocation.
func (g *Guard) DetectAndRepairCorruption(ctx context.Context, contextName string, s CorruptionStore) ([]types.RecoveryAction, error) {
	dangling, err := s.FindDanglingRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect corruption in %q: %w", contextName, err)
	}
	if len(dangling) == 0 {
		return nil, nil
	}

	var taken []types.RecoveryAction
	for _, r := range dangling {
		if _, err := s.DeleteRelations(ctx, []types.Relation{r}); err != nil {
			// Repair itself failed: this is the only path where
			// corruption surfaces to the caller.
			return taken, fmt.Errorf("repair dangling relation %s-[%s]->%s: %w",
				r.From, r.RelationType, r.To, err)
		}

		reason := fmt.Sprintf("removed dangling relation %s-[%s]->%s in context %q",
			r.From, r.RelationType, r.To, contextName)
		g.recordRepair(reason)
		taken = append(taken, types.RecoveryAction{
			Type:   types.RecoveryRepair,
			Reason: reason,
		})

		slog.Info("corruption repaired",
			"component", "resilience",
			"action", "repair",
			"context", contextName,
			"relation_type", r.RelationType,
		)
	}

	return taken, nil
}
