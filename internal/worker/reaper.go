// Package worker holds the background loops: the staleness reaper, the
// transaction-log pruner, and the snapshot coordinator. Each worker is
// a Run(ctx) loop that blocks until its context is cancelled.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// StaleReaper is the slice of the resilience guard the reaper needs.
type StaleReaper interface {
	ReapStale() int
}

// ReaperWorker periodically rolls back transactions left pending past
// the staleness window, so an abandoned operation never stays pending
// indefinitely.
type ReaperWorker struct {
	guard    StaleReaper
	interval time.Duration
}

// NewReaperWorker creates a worker with the given guard and interval.
func NewReaperWorker(guard StaleReaper, interval time.Duration) *ReaperWorker {
	return &ReaperWorker{guard: guard, interval: interval}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *ReaperWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "stale-reaper",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "stale-reaper",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			if reaped := w.guard.ReapStale(); reaped > 0 {
				slog.Info("stale transactions reaped",
					"component", "worker",
					"worker", "stale-reaper",
					"action", "reap_complete",
					"reaped", reaped,
				)
			}
		}
	}
}
