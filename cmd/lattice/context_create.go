package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/lattice/internal/contexts"
	"github.com/spf13/cobra"
)

var (
	createDescription string
	createPatterns    []string
	createEntityTypes []string
	createIfNotExists bool
)

var contextCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new context",
	Long:  "Create a new Lattice context with the given name. Context names are lowercase alphanumeric with hyphens or underscores.",
	Args:  cobra.ExactArgs(1),
	RunE:  runContextCreate,
}

func init() {
	contextCreateCmd.Flags().StringVar(&createDescription, "description", "",
		"Human-readable description")
	contextCreateCmd.Flags().StringSliceVar(&createPatterns, "patterns", nil,
		"Keyword patterns used for routing (comma-separated)")
	contextCreateCmd.Flags().StringSliceVar(&createEntityTypes, "entity-types", nil,
		"Preferred entity types for routing (comma-separated)")
	contextCreateCmd.Flags().BoolVar(&createIfNotExists, "if-not-exists", false,
		"Exit 0 if context already exists")
}

func runContextCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	ctx := context.Background()

	mgr, err := resolveContextManager(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	summary, err := mgr.CreateContext(ctx, name, contexts.ContextOptions{
		Patterns:    createPatterns,
		EntityTypes: createEntityTypes,
		Description: createDescription,
	})
	if err != nil {
		var exists *contexts.ContextAlreadyExistsError
		if errors.As(err, &exists) && createIfNotExists {
			fmt.Fprintf(cmd.ErrOrStderr(), "Context %q already exists\n", name)
			return nil
		}
		return err
	}

	if contextJSONOutput {
		return printJSON(cmd.OutOrStdout(), summary)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created context %q\n", summary.Name)
	return nil
}
