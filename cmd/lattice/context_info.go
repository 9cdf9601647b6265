package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hyperengineering/lattice/internal/contexts"
	"github.com/spf13/cobra"
)

var contextInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show detailed information about a context",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextInfo,
}

func runContextInfo(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := context.Background()

	mgr, err := resolveContextManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	summaries, err := mgr.ListContexts(ctx)
	if err != nil {
		return err
	}

	for _, s := range summaries {
		if s.Name != name {
			continue
		}

		dbPath, err := mgr.DatabasePath(name)
		if err != nil {
			return err
		}
		var sizeBytes int64
		if info, statErr := os.Stat(dbPath); statErr == nil {
			sizeBytes = info.Size()
		}

		out := cmd.OutOrStdout()

		if contextJSONOutput {
			return printJSON(out, map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"patterns":    s.Patterns,
				"entityTypes": s.EntityTypes,
				"entityCount": s.EntityCount,
				"current":     s.Current,
				"size_bytes":  sizeBytes,
				"path":        dbPath,
			})
		}

		fmt.Fprintf(out, "Context:      %s\n", s.Name)
		if s.Description != "" {
			fmt.Fprintf(out, "Description:  %s\n", s.Description)
		}
		if len(s.Patterns) > 0 {
			fmt.Fprintf(out, "Patterns:     %s\n", strings.Join(s.Patterns, ", "))
		}
		if len(s.EntityTypes) > 0 {
			fmt.Fprintf(out, "Entity Types: %s\n", strings.Join(s.EntityTypes, ", "))
		}
		fmt.Fprintf(out, "Entities:     %d\n", s.EntityCount)
		fmt.Fprintf(out, "Current:      %t\n", s.Current)
		fmt.Fprintf(out, "Size:         %s\n", formatSize(sizeBytes))
		fmt.Fprintf(out, "Path:         %s\n", dbPath)

		return nil
	}

	return &contexts.ContextNotFoundError{Name: name}
}
