package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Command Handlers
// =============================================================================

func runSessionsList(cmd *cobra.Command, configPath, userID string, limit int) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user is required")
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		list, err := a.service.ListUserSessions(cmd.Context(), userID, limit)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tPROJECT\tPLAN\tUPDATED")
		for _, session := range list {
			title := "-"
			if session.Plan != nil {
				title = session.Plan.Title
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				session.ID, session.State, orDash(session.ProjectID), title, formatTime(session.UpdatedAt))
		}
		return w.Flush()
	})
}

func runSessionsShow(cmd *cobra.Command, configPath, sessionID string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		session, err := a.service.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), session)
	})
}

func runSessionsCancel(cmd *cobra.Command, configPath, sessionID string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		if err := a.service.CancelSession(cmd.Context(), sessionID); err != nil {
			return fmt.Errorf("cancel session: %w", err)
		}
		session, err := a.service.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Session %s is %s\n", session.ID, session.State)
		return nil
	})
}

func runSessionsSweep(cmd *cobra.Command, configPath string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		n, err := a.sweeper.Sweep(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep sessions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Expired %d session(s)\n", n)
		return nil
	})
}
