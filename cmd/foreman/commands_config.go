package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Config Commands
// =============================================================================

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate and inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration file",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigValidate(cmd, resolveConfigPath(cmd))
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets redacted",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigShow(cmd, resolveConfigPath(cmd))
			},
		},
		&cobra.Command{
			Use:   "schema",
			Short: "Print the configuration JSON Schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigSchema(cmd)
			},
		},
	)
	return cmd
}
