package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/haasonsaas/foreman/internal/agent"
	"github.com/haasonsaas/foreman/internal/service"
	"github.com/haasonsaas/foreman/pkg/models"
	"github.com/spf13/cobra"
)

// =============================================================================
// Plan and Chat Command Handlers
// =============================================================================

type planOptions struct {
	UserID    string
	ProjectID string
	SessionID string
	Request   string
	Approve   bool
	Execute   bool
	JSON      bool
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runPlan(cmd *cobra.Command, configPath string, opts planOptions) error {
	if opts.SessionID == "" && strings.TrimSpace(opts.UserID) == "" {
		return fmt.Errorf("user is required")
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		ctx := cmd.Context()
		session, err := openOrCreateSession(ctx, a, opts.SessionID, opts.UserID, opts.ProjectID)
		if err != nil {
			return err
		}

		plan, err := a.service.GeneratePlan(ctx, session.ID, opts.Request)
		if err != nil {
			return fmt.Errorf("generate plan: %w", err)
		}
		if opts.Approve {
			if err := a.service.ApprovePlan(ctx, session.ID, session.UserID); err != nil {
				return fmt.Errorf("approve plan: %w", err)
			}
		}

		var result *models.AgentResult
		if opts.Execute {
			result, err = a.service.ExecutePlan(ctx, session.ID)
			if err != nil && !errors.Is(err, agent.ErrCancelled) {
				return fmt.Errorf("execute plan: %w", err)
			}
		}

		out := cmd.OutOrStdout()
		if opts.JSON {
			return printJSON(out, map[string]any{
				"session_id": session.ID,
				"plan":       plan,
				"result":     result,
			})
		}
		fmt.Fprintf(out, "Session: %s\n", session.ID)
		writePlan(out, plan)
		if result != nil {
			writeResult(out, result)
		} else if !opts.Execute {
			fmt.Fprintf(out, "\nRun with --session %s --approve --execute to carry it out.\n", session.ID)
		}
		return nil
	})
}

func runChat(cmd *cobra.Command, configPath, userID, projectID, sessionID string) error {
	if sessionID == "" && strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user is required")
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		ctx := cmd.Context()
		session, err := openOrCreateSession(ctx, a, sessionID, userID, projectID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Session %s. Type a request, or \"exit\" to quit.\n", session.ID)

		var history []models.ChatMessage
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				break
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "exit" || line == "quit" {
				break
			}
			exchange, err := a.service.HandleMessage(ctx, session.ID, line, history)
			if errors.Is(err, service.ErrSessionFinished) {
				fmt.Fprintf(out, "Session %s is finished. Run chat without --session to start a new one.\n", session.ID)
				break
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, exchange.Reply)
			if exchange.Result != nil {
				writeResult(out, exchange.Result)
			}
			history = append(history,
				models.ChatMessage{Role: "user", Content: line},
				models.ChatMessage{Role: "assistant", Content: exchange.Reply},
			)
			if exchange.Phase == models.PhaseCompleted {
				break
			}
		}
		return scanner.Err()
	})
}

func openOrCreateSession(ctx context.Context, a *app, sessionID, userID, projectID string) (*models.AgentSession, error) {
	if sessionID != "" {
		session, err := a.service.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		return session, nil
	}
	session, err := a.service.CreateSession(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func writePlan(w io.Writer, plan *models.Plan) {
	fmt.Fprintf(w, "Plan: %s\n", plan.Title)
	if plan.Description != "" {
		fmt.Fprintf(w, "  %s\n", plan.Description)
	}
	for _, step := range plan.Steps {
		fmt.Fprintf(w, "  %d. %s [%s]\n", step.Order, step.Title, step.Tool)
	}
	for _, risk := range plan.Risks {
		fmt.Fprintf(w, "  risk: %s\n", risk)
	}
	if plan.Approved() {
		fmt.Fprintf(w, "  approved by %s\n", plan.ApprovedBy)
	}
}

func writeResult(w io.Writer, result *models.AgentResult) {
	fmt.Fprintf(w, "\n%s\n", result.Summary)
	for _, step := range result.Steps {
		line := fmt.Sprintf("  %s %s (attempt %d)", step.Status, step.Tool, step.Attempt)
		if step.Code != "" {
			line += " " + step.Code
		}
		if step.Error != "" {
			line += ": " + step.Error
		}
		fmt.Fprintln(w, line)
	}
}
