package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var contextListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all contexts",
	Args:  cobra.NoArgs,
	RunE:  runContextList,
}

func runContextList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	mgr, err := resolveContextManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	summaries, err := mgr.ListContexts(ctx)
	if err != nil {
		return fmt.Errorf("list contexts: %w", err)
	}

	if contextJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"contexts": summaries,
			"total":    len(summaries),
		})
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "NAME\tENTITIES\tPATTERNS\tDESCRIPTION")
	for _, s := range summaries {
		name := s.Name
		if s.Current {
			name += " *"
		}
		patterns := strings.Join(s.Patterns, ",")
		if patterns == "" {
			patterns = "-"
		}
		desc := s.Description
		if desc == "" {
			desc = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", name, s.EntityCount, patterns, desc)
	}
	w.Flush()

	return nil
}
