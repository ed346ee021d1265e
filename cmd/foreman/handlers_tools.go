package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/spf13/cobra"
)

// =============================================================================
// Tools Command Handlers
// =============================================================================

func runToolsList(cmd *cobra.Command, configPath string, scopes []string, mutatesOnly, jsonOut bool) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		opts := tools.ListOptions{Scopes: scopes}
		if mutatesOnly {
			mutates := true
			opts.Mutates = &mutates
		}
		infos := a.tools.Infos(opts)
		out := cmd.OutOrStdout()
		if jsonOut {
			return printJSON(out, infos)
		}
		if len(infos) == 0 {
			fmt.Fprintln(out, "No tools found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMUTATES\tSCOPES\tDESCRIPTION")
		for _, info := range infos {
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", info.Name, info.Mutates, strings.Join(info.Scopes, ","), info.Description)
		}
		return w.Flush()
	})
}

func runToolsSchema(cmd *cobra.Command, configPath, name string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		info, ok := a.service.Tool(name)
		if !ok {
			return fmt.Errorf("%w: %s", tools.ErrToolNotFound, name)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, info.Schema, "", "  "); err != nil {
			return fmt.Errorf("format schema: %w", err)
		}
		buf.WriteByte('\n')
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	})
}
