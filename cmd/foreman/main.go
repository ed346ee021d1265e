// Package main provides the foreman CLI: the agent server and the operator
// commands around it.
//
// # Basic Usage
//
// Start the server (scheduler, session sweeper, workflow watcher, metrics):
//
//	foreman serve --config foreman.yaml
//
// Plan and run a request from the command line:
//
//	foreman plan --user pm-1 --project p1 --approve --execute "create a task called Draft brief"
//
// Manage scheduled jobs:
//
//	foreman schedule create --name standup --cron DAILY_9AM --action daily_standup --param projectId=p1 --user pm-1
//	foreman schedule list
//
// # Environment Variables
//
//   - FOREMAN_CONFIG: path to the configuration file (default: foreman.yaml)
//
// Any ${VAR} in the configuration file is expanded from the environment, so
// secrets such as the Slack bot token or LLM API key can stay out of it.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "foreman.yaml"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "foreman",
		Short: "Foreman - agent orchestration for project management",
		Long: `Foreman turns requests into reviewed plans and runs them against project
tools (tasks, projects, Slack, Drive, knowledge search) under guardrails.
It also runs cron-scheduled workflows and built-in actions.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file (or set FOREMAN_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildToolsCmd(),
		buildPlanCmd(),
		buildChatCmd(),
		buildSessionsCmd(),
		buildScheduleCmd(),
		buildWorkflowsCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}

// resolveConfigPath picks the flag value, then FOREMAN_CONFIG, then
// foreman.yaml. An empty result means no file: defaults only.
func resolveConfigPath(cmd *cobra.Command) string {
	if flag := cmd.Flag("config"); flag != nil {
		if v := strings.TrimSpace(flag.Value.String()); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(os.Getenv("FOREMAN_CONFIG")); v != "" {
		return v
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}
