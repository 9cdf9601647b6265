package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var contextSwitchCmd = &cobra.Command{
	Use:   "switch <name>",
	Short: "Switch the current context",
	Long:  "Make the given context current. The choice persists across restarts.",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextSwitch,
}

func runContextSwitch(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := context.Background()

	mgr, err := resolveContextManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.SwitchContext(name); err != nil {
		return err
	}

	if contextJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"current": name,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q\n", name)
	return nil
}
