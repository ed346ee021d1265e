// Package planner turns a user request into a Plan and makes sure the plan
// can run before anyone is asked to approve it. Plans from a model are
// normalized, unknown tools are repaired to the read-only search tool, and
// the result is validated against the tool registry.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// SafeTool is the read-only tool unknown steps are repaired to.
const SafeTool = "search"

// ErrInvalidPlan is wrapped by every validation failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Planner produces a plan for a request.
type Planner interface {
	GeneratePlan(ctx context.Context, request string, sc models.SessionContext) (*models.Plan, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, request string, sc models.SessionContext) (*models.Plan, error)

// GeneratePlan implements Planner.
func (f PlannerFunc) GeneratePlan(ctx context.Context, request string, sc models.SessionContext) (*models.Plan, error) {
	return f(ctx, request, sc)
}

// FallbackPlanner answers every request with a single search step.
type FallbackPlanner struct {
	Now func() time.Time
}

// GeneratePlan implements Planner.
func (p FallbackPlanner) GeneratePlan(_ context.Context, request string, _ models.SessionContext) (*models.Plan, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	query := strings.TrimSpace(request)
	if r := []rune(query); len(r) > 50 {
		query = string(r[:50])
	}
	return &models.Plan{
		ID:          uuid.NewString(),
		Title:       "Search for information",
		Description: "Search for: " + query,
		Steps: []*models.PlanStep{{
			ID:          uuid.NewString(),
			Order:       1,
			Title:       "Search",
			Description: "Search projects and tasks for relevant information",
			Tool:        SafeTool,
			Parameters:  map[string]any{"query": query},
			Status:      models.StepStatusPending,
		}},
		EstimatedMinutes: 5,
		Risks:            []string{"Limited to basic search functionality"},
		Dependencies:     []string{},
		CreatedAt:        now(),
	}, nil
}

// WithFallback returns a Planner that uses fallback whenever primary fails.
func WithFallback(primary, fallback Planner) Planner {
	logger := slog.Default().With("component", "planner")
	return PlannerFunc(func(ctx context.Context, request string, sc models.SessionContext) (*models.Plan, error) {
		plan, err := primary.GeneratePlan(ctx, request, sc)
		if err == nil && plan != nil {
			return plan, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("plan generation failed, using fallback planner", "error", err)
		return fallback.GeneratePlan(ctx, request, sc)
	})
}

// Normalize fills defaults, assigns ids, sorts steps by order and repairs
// steps whose tool is not registered. Each repair is recorded as a risk.
// The plan is modified in place and returned.
func Normalize(plan *models.Plan, registry *tools.Registry, request string, now time.Time) *models.Plan {
	if plan == nil {
		plan = &models.Plan{}
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if strings.TrimSpace(plan.Title) == "" {
		plan.Title = "Untitled Plan"
	}
	if strings.TrimSpace(plan.Description) == "" {
		plan.Description = request
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	if plan.Risks == nil {
		plan.Risks = []string{}
	}
	if plan.Dependencies == nil {
		plan.Dependencies = []string{}
	}

	steps := make([]*models.PlanStep, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		if step == nil {
			continue
		}
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		if step.Order <= 0 {
			step.Order = i + 1
		}
		if strings.TrimSpace(step.Title) == "" {
			step.Title = fmt.Sprintf("Step %d", i+1)
		}
		if step.Status == "" {
			step.Status = models.StepStatusPending
		}
		if step.Parameters == nil {
			step.Parameters = map[string]any{}
		}
		if registry != nil && !registry.Has(step.Tool) {
			plan.Risks = append(plan.Risks, fmt.Sprintf("Step %q used unknown tool %q and was replaced with %s", step.Title, step.Tool, SafeTool))
			query := step.Title
			if strings.TrimSpace(step.Description) != "" {
				query = step.Description
			}
			step.Tool = SafeTool
			step.Parameters = map[string]any{"query": query}
		}
		steps = append(steps, step)
	}
	plan.Steps = steps
	plan.Steps = plan.OrderedSteps()
	return plan
}

// ValidationError lists everything wrong with a plan.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidPlan, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPlan
}

// Validate checks that plan can execute for the session: it has steps, every
// tool is registered, non-search steps carry parameters, and Slack or Drive
// steps have the integration connected.
func Validate(plan *models.Plan, registry *tools.Registry, sc models.SessionContext) error {
	if plan == nil || len(plan.Steps) == 0 {
		return &ValidationError{Problems: []string{"plan has no steps"}}
	}
	var problems []string
	for _, step := range plan.Steps {
		if step == nil {
			problems = append(problems, "plan contains an empty step")
			continue
		}
		if registry != nil && !registry.Has(step.Tool) {
			problems = append(problems, fmt.Sprintf("step %s: unknown tool %q", step.ID, step.Tool))
			continue
		}
		if step.Tool != SafeTool && len(step.Parameters) == 0 {
			problems = append(problems, fmt.Sprintf("step %s: %s requires parameters", step.ID, step.Tool))
		}
		switch {
		case strings.HasPrefix(step.Tool, "slack_") && !sc.Integrations.Slack:
			problems = append(problems, fmt.Sprintf("step %s: %s requires the Slack integration", step.ID, step.Tool))
		case strings.HasPrefix(step.Tool, "drive_") && !sc.Integrations.Drive:
			problems = append(problems, fmt.Sprintf("step %s: %s requires the Drive integration", step.ID, step.Tool))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Optimize reorders steps so search and analysis run first, then anything
// that creates, then anything that updates, then everything else, keeping
// the original order within each group, and renumbers them from 1. Groups
// match on the tool name, so drive_create_folder counts as a create.
func Optimize(plan *models.Plan) *models.Plan {
	if plan == nil {
		return nil
	}
	buckets := make([][]*models.PlanStep, 4)
	for _, step := range plan.OrderedSteps() {
		g := group(step.Tool)
		buckets[g] = append(buckets[g], step)
	}
	ordered := make([]*models.PlanStep, 0, len(plan.Steps))
	for _, bucket := range buckets {
		ordered = append(ordered, bucket...)
	}
	for i, step := range ordered {
		step.Order = i + 1
	}
	plan.Steps = ordered
	return plan
}

func group(tool string) int {
	switch {
	case strings.Contains(tool, "search"), strings.Contains(tool, "analyze"):
		return 0
	case strings.Contains(tool, "create"):
		return 1
	case strings.Contains(tool, "update"):
		return 2
	default:
		return 3
	}
}
