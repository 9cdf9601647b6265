package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/lattice/internal/api"
	"github.com/hyperengineering/lattice/internal/cache"
	"github.com/hyperengineering/lattice/internal/config"
	"github.com/hyperengineering/lattice/internal/contexts"
	"github.com/hyperengineering/lattice/internal/resilience"
	"github.com/hyperengineering/lattice/internal/snapshot"
	"github.com/hyperengineering/lattice/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Lattice - Multi-Context Knowledge Graph Service",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize resilience guard
	guard := resilience.New(
		resilience.WithMaxAttempts(cfg.Resilience.MaxAttempts),
		resilience.WithInitialBackoff(time.Duration(cfg.Resilience.InitialBackoff)),
		resilience.WithStaleAfter(time.Duration(cfg.Resilience.StaleAfter)),
	)

	// 5. Initialize context manager (registry, stores, caches, scorer)
	manager, err := contexts.NewManager(ctx, cfg.Contexts.RootPath,
		cache.Policy(cfg.Cache.Policy), cfg.Cache.Capacity, guard)
	if err != nil {
		return err
	}
	slog.Info("contexts initialized",
		"root", cfg.Contexts.RootPath,
		"cache_policy", cfg.Cache.Policy,
		"contexts", len(manager.ContextNames()),
	)

	// 6. Initialize snapshot uploader (noop when unconfigured)
	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		return err
	}

	// 7. Initialize HTTP router
	handler := api.NewHandler(manager, guard, uploader, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)

	// 8. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 9. Start background workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg,
		worker.NewReaperWorker(guard, time.Duration(cfg.Worker.ReapInterval)).Run)
	startWorker(ctx, &wg,
		worker.NewLogPruneWorker(guard, time.Duration(cfg.Worker.LogPruneInterval), cfg.Worker.LogRetentionDays).Run)
	startWorker(ctx, &wg,
		worker.NewSnapshotCoordinator(manager, time.Duration(cfg.Worker.SnapshotInterval), uploader).Run)

	// 10. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 12. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 12a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 12b. Wait for workers to complete
	wg.Wait()

	// 12c. Roll back any transaction still pending
	if rolled := guard.Shutdown(); rolled > 0 {
		slog.Warn("pending transactions rolled back at shutdown", "count", rolled)
	}

	// 12d. Close every context store
	if err := manager.Close(); err != nil {
		slog.Error("contexts close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects
// context cancellation. Workers are tracked via WaitGroup for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn(ctx)
	}()
}
