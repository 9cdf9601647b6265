package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/lattice/internal/snapshot"
)

// ContextEnumerator provides access to all registered contexts.
// This interface allows testing with mock implementations; the contexts
// manager satisfies it directly.
type ContextEnumerator interface {
	ContextNames() []string
	SnapshotContext(ctx context.Context, name string) (string, error)
}

// SnapshotCoordinator generates snapshots for all registered contexts.
type SnapshotCoordinator struct {
	manager  ContextEnumerator
	uploader snapshot.Uploader
	interval time.Duration
}

// NewSnapshotCoordinator creates a coordinator that snapshots every
// context the enumerator reports. The uploader parameter is optional;
// if nil, no S3 upload is attempted.
func NewSnapshotCoordinator(manager ContextEnumerator, interval time.Duration, uploader snapshot.Uploader) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		manager:  manager,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the coordinator loop.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Generate snapshots immediately on start
	c.snapshotAll(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.snapshotAll(ctx)
		}
	}
}

// snapshotAll iterates through all contexts and generates snapshots.
func (c *SnapshotCoordinator) snapshotAll(ctx context.Context) {
	names := c.manager.ContextNames()

	var succeeded, failed int
	for _, name := range names {
		if ctx.Err() != nil {
			return // Graceful shutdown, don't log summary
		}
		if c.snapshotOne(ctx, name) {
			succeeded++
		} else {
			failed++
		}
	}

	if succeeded > 0 || failed > 0 {
		slog.Info("snapshot cycle completed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "cycle_complete",
			"total", len(names),
			"succeeded", succeeded,
			"failed", failed,
		)
	}
}

// snapshotOne snapshots a single context. Returns true on success.
func (c *SnapshotCoordinator) snapshotOne(ctx context.Context, name string) bool {
	path, err := c.manager.SnapshotContext(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return false // Graceful shutdown, don't log as error
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"context", name,
			"error", err,
		)
		return false
	}

	// Upload to S3 if configured (non-fatal on failure)
	if c.uploader != nil {
		if err := c.uploader.Upload(ctx, name, path); err != nil {
			slog.Warn("snapshot upload to S3 failed",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "snapshot_upload_failed",
				"context", name,
				"error", err,
			)
			return true // local snapshot remains valid
		}
		slog.Info("snapshot uploaded to S3",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_uploaded",
			"context", name,
		)
	}

	return true
}
