package worker

import (
	"context"
	"log/slog"
	"time"
)

// LogPruner is the slice of the resilience guard the pruner needs.
type LogPruner interface {
	ClearOldLogs(olderThanDays int) int
}

// LogPruneWorker periodically clears terminal transaction logs and
// recovery actions older than the retention window.
type LogPruneWorker struct {
	guard         LogPruner
	interval      time.Duration
	retentionDays int
}

// NewLogPruneWorker creates a worker with the given guard, interval,
// and retention in days.
func NewLogPruneWorker(guard LogPruner, interval time.Duration, retentionDays int) *LogPruneWorker {
	return &LogPruneWorker{guard: guard, interval: interval, retentionDays: retentionDays}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does NOT run immediately on start (pruning is best done on schedule).
func (w *LogPruneWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "log-prune",
		"interval", w.interval.String(),
		"retention_days", w.retentionDays,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "log-prune",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			removed := w.guard.ClearOldLogs(w.retentionDays)
			slog.Info("log prune cycle completed",
				"component", "worker",
				"worker", "log-prune",
				"action", "prune_complete",
				"removed", removed,
			)
		}
	}
}
