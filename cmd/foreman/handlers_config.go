package main

import (
	"fmt"

	"github.com/haasonsaas/foreman/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Config Command Handlers
// =============================================================================

const redacted = "[REDACTED]"

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	if configPath == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No config file found; built-in defaults are valid.")
		return nil
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (version %d, database %s, llm %s)\n",
		configPath, cfg.Version, cfg.Database.Driver, cfg.LLM.Provider)
	for _, notice := range cfg.Notices {
		fmt.Fprintf(cmd.OutOrStdout(), "  upgraded: %s\n", notice)
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	redactSecrets(cfg)
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
	return err
}

func redactSecrets(cfg *config.Config) {
	for _, s := range []*string{
		&cfg.Slack.BotToken,
		&cfg.LLM.APIKey,
		&cfg.Drive.SecretAccessKey,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	if cfg.Database.Driver != "sqlite" && cfg.Database.DSN != "" {
		cfg.Database.DSN = redacted
	}
}
