package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var deleteForce bool

var contextDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a context and all its data",
	Long:  "Permanently delete a context and all its data. The current context cannot be deleted. Requires --force for non-empty contexts, plus interactive confirmation.",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextDelete,
}

func init() {
	contextDeleteCmd.Flags().BoolVar(&deleteForce, "force", false,
		"Delete even if the context contains entities, skipping confirmation")
}

func runContextDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := context.Background()

	mgr, err := resolveContextManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	// Interactive confirmation unless --force
	if !deleteForce {
		errOut := cmd.ErrOrStderr()
		fmt.Fprintf(errOut, "WARNING: This will permanently delete context %q and all its data.\n", name)
		fmt.Fprint(errOut, "Type the context name to confirm: ")

		reader := bufio.NewReader(cmd.InOrStdin())
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}

		if strings.TrimSpace(input) != name {
			fmt.Fprintln(errOut, "Aborted. Context name did not match.")
			return nil
		}
	}

	if err := mgr.DeleteContext(ctx, name, deleteForce); err != nil {
		return err
	}

	if contextJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"name":    name,
			"deleted": true,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted context %q\n", name)
	return nil
}
