package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// taskRow is the subset of a get_tasks row the actions read.
type taskRow struct {
	ID          string
	Title       string
	Description string
	Notes       string
	Status      string
	UpdatedAt   time.Time
	DueDate     time.Time
}

func projectID(params map[string]any) (string, error) {
	id, _ := params["projectId"].(string)
	if strings.TrimSpace(id) == "" {
		return "", errors.New("projectId parameter is required")
	}
	return id, nil
}

func (c *Call) projectTasks(ctx context.Context, projectID, status string) ([]taskRow, error) {
	params := map[string]any{"projectId": projectID, "limit": 100}
	if status != "" {
		params["status"] = status
	}
	out, err := c.Tool(ctx, "Collect project tasks", "get_tasks", params)
	if err != nil {
		return nil, err
	}
	obj, _ := out.(map[string]any)
	items, _ := obj["tasks"].([]any)
	rows := make([]taskRow, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, taskRow{
			ID:          str(m["id"]),
			Title:       str(m["title"]),
			Description: str(m["description"]),
			Notes:       str(m["notes"]),
			Status:      str(m["status"]),
			UpdatedAt:   timestamp(m["updated_at"]),
			DueDate:     timestamp(m["due_date"]),
		})
	}
	return rows, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func timestamp(v any) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, str(v))
	return t
}

// dailyStandup posts yesterday's completed tasks to the project's linked
// Slack channel.
func dailyStandup(ctx context.Context, c *Call, params map[string]any) error {
	id, err := projectID(params)
	if err != nil {
		return err
	}
	project, err := c.Project(ctx, id)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	done, err := c.projectTasks(ctx, id, "completed")
	if err != nil {
		return err
	}
	since := c.Now().Add(-24 * time.Hour)

	var b strings.Builder
	fmt.Fprintf(&b, "*Daily Standup Summary: %s*\n", project.Title)
	n := 0
	for _, t := range done {
		if t.UpdatedAt.Before(since) {
			continue
		}
		if n == 0 {
			b.WriteString("\n*Completed Tasks:*\n")
		}
		fmt.Fprintf(&b, "• %s\n", t.Title)
		n++
	}
	if n == 0 {
		b.WriteString("\nNo tasks completed in the last day.\n")
	}

	if project.SlackChannelID == "" {
		c.runner.logger.Info("standup skipped: no slack channel linked", "project_id", id)
		return nil
	}
	_, err = c.Tool(ctx, "Post standup", "slack_send_channel", map[string]any{
		"channel": project.SlackChannelID,
		"message": strings.TrimSpace(b.String()),
	})
	return err
}

// weeklyReport posts a summary of the week's task movement as a project update.
func weeklyReport(ctx context.Context, c *Call, params map[string]any) error {
	id, err := projectID(params)
	if err != nil {
		return err
	}
	project, err := c.Project(ctx, id)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	rows, err := c.projectTasks(ctx, id, "")
	if err != nil {
		return err
	}
	now := c.Now()
	weekAgo := now.AddDate(0, 0, -7)
	counts := map[string]int{}
	for _, t := range rows {
		if t.UpdatedAt.Before(weekAgo) {
			continue
		}
		counts[t.Status]++
	}
	health := project.Health
	if health == "" {
		health = "Not set"
	}
	report := fmt.Sprintf(`Weekly Report: %s
Period: %s - %s

Tasks:
• Completed: %d
• In Progress: %d
• Blocked: %d

Status: %s
Health: %s`,
		project.Title,
		weekAgo.Format("Mon Jan 2 2006"), now.Format("Mon Jan 2 2006"),
		counts["completed"], counts["in-progress"], counts["blocked"],
		project.Status, health)

	_, err = c.Tool(ctx, "Post weekly report", "create_update", map[string]any{
		"projectId": id,
		"body":      report,
	})
	return err
}

// healthScore rates a project from 0 to 100 by the share of open tasks
// that are blocked or overdue.
func healthScore(rows []taskRow, now time.Time) int {
	total, troubled := 0, 0
	for _, t := range rows {
		if t.Status == "completed" {
			continue
		}
		total++
		if t.Status == "blocked" || (!t.DueDate.IsZero() && t.DueDate.Before(now)) {
			troubled++
		}
	}
	if total == 0 {
		return 100
	}
	return 100 - troubled*100/total
}

// healthFor maps a score to green (80+), amber (50+) or red.
func healthFor(score int) string {
	switch {
	case score >= 80:
		return "green"
	case score >= 50:
		return "amber"
	default:
		return "red"
	}
}

// healthCheck recomputes the project's health from its open tasks.
func healthCheck(ctx context.Context, c *Call, params map[string]any) error {
	id, err := projectID(params)
	if err != nil {
		return err
	}
	rows, err := c.projectTasks(ctx, id, "")
	if err != nil {
		return err
	}
	health := healthFor(healthScore(rows, c.Now()))
	_, err = c.Tool(ctx, "Update project health", "update_project", map[string]any{
		"projectId": id,
		"health":    health,
	})
	return err
}

// syncData indexes the project and its tasks for knowledge search.
func syncData(ctx context.Context, c *Call, params map[string]any) error {
	id, err := projectID(params)
	if err != nil {
		return err
	}
	project, err := c.Project(ctx, id)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	body := joinNonEmpty(project.Title, "Status: "+project.Status, project.Notes)
	if _, err := c.Tool(ctx, "Index project", "rag_index_document", map[string]any{
		"documentId": "project:" + project.ID,
		"content":    body,
		"projectId":  project.ID,
	}); err != nil {
		return err
	}

	rows, err := c.projectTasks(ctx, id, "")
	if err != nil {
		return err
	}
	for _, t := range rows {
		content := joinNonEmpty(t.Title, t.Description, t.Notes)
		if _, err := c.Tool(ctx, "Index task", "rag_index_document", map[string]any{
			"documentId": "task:" + t.ID,
			"content":    content,
			"projectId":  id,
		}); err != nil {
			return err
		}
	}
	return nil
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
