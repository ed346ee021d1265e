package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Tools Commands
// =============================================================================

// buildToolsCmd creates the "tools" command group for inspecting the
// registered tool catalog.
func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect registered tools",
	}
	cmd.AddCommand(buildToolsListCmd(), buildToolsSchemaCmd())
	return cmd
}

func buildToolsListCmd() *cobra.Command {
	var (
		scopes      []string
		mutatesOnly bool
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tools with their scopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsList(cmd, resolveConfigPath(cmd), scopes, mutatesOnly, jsonOut)
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Only tools requiring one of these scopes")
	cmd.Flags().BoolVar(&mutatesOnly, "mutating", false, "Only tools that change state")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func buildToolsSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <tool>",
		Short: "Print a tool's input JSON Schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToolsSchema(cmd, resolveConfigPath(cmd), args[0])
		},
	}
}
