package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that runs the background
// components: scheduler, session sweeper, workflow watcher and metrics.
func buildServeCmd() *cobra.Command {
	var (
		metricsAddr string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, session sweeper and metrics endpoint",
		Long: `Run foreman as a long-lived process.

The server will:
1. Load configuration from the specified file (or foreman.yaml)
2. Open the store and run migrations
3. Load workflow definitions and watch their directory when enabled
4. Re-arm active scheduled tasks and fire them on schedule
5. Expire stale agent sessions on the sweep interval
6. Serve Prometheus metrics and a health check over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  foreman serve

  # Start with a custom config and metrics address
  foreman serve --config /etc/foreman/production.yaml --metrics-addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(cmd), metricsAddr, debug)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics (overrides observability.metrics_addr)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}
