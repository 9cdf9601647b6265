package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hyperengineering/lattice/internal/cache"
	"github.com/hyperengineering/lattice/internal/config"
	"github.com/hyperengineering/lattice/internal/contexts"
	"github.com/hyperengineering/lattice/internal/resilience"
	"github.com/spf13/cobra"
)

var (
	contextRootOverride string
	contextJSONOutput   bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Manage Lattice contexts",
	Long:  "Create, list, inspect, switch, and delete Lattice contexts without running the server.",
}

func init() {
	contextCmd.PersistentFlags().StringVar(&contextRootOverride, "root", "",
		"Context root path (overrides config and LATTICE_CONTEXTS_ROOT)")
	contextCmd.PersistentFlags().BoolVar(&contextJSONOutput, "json", false,
		"Output in JSON format")

	contextCmd.AddCommand(contextCreateCmd)
	contextCmd.AddCommand(contextListCmd)
	contextCmd.AddCommand(contextInfoCmd)
	contextCmd.AddCommand(contextSwitchCmd)
	contextCmd.AddCommand(contextDeleteCmd)
}

// resolveContextManager creates a Manager from config with optional --root override.
func resolveContextManager(ctx context.Context) (*contexts.Manager, error) {
	contextsCfg, cacheCfg, err := config.LoadContextsConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	rootPath := contextRootOverride
	if rootPath == "" {
		rootPath = contextsCfg.RootPath
	}

	return contexts.NewManager(ctx, rootPath, cache.Policy(cacheCfg.Policy), cacheCfg.Capacity, resilience.New())
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSize returns a human-readable file size.
func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
