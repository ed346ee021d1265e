package planner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/foreman/internal/llm"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

type queryInput struct {
	Query string `json:"query"`
}

type anyInput struct {
	ProjectID string `json:"projectId,omitempty"`
	Title     string `json:"title,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Text      string `json:"text,omitempty"`
}

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	noop := func(context.Context, tools.CallContext, anyInput) (any, error) { return nil, nil }
	registry := tools.NewRegistry()
	err := registry.RegisterAll(
		tools.Must(tools.Spec{Name: "search", Scopes: []string{tools.ScopeReadProjects}}, func(context.Context, tools.CallContext, queryInput) (any, error) { return nil, nil }),
		tools.Must(tools.Spec{Name: "get_tasks", Scopes: []string{tools.ScopeReadTasks}}, noop),
		tools.Must(tools.Spec{Name: "create_task", Mutates: true, Scopes: []string{tools.ScopeWriteTasks}}, noop),
		tools.Must(tools.Spec{Name: "update_task", Mutates: true, Scopes: []string{tools.ScopeWriteTasks}}, noop),
		tools.Must(tools.Spec{Name: "slack_send_channel", Mutates: true, Scopes: []string{tools.ScopeSlackWrite}}, noop),
		tools.Must(tools.Spec{Name: "drive_create_folder", Mutates: true, Scopes: []string{tools.ScopeDriveWrite}}, noop),
	)
	if err != nil {
		t.Fatal(err)
	}
	return registry
}

func TestFallbackPlanner(t *testing.T) {
	request := strings.Repeat("x", 80)
	plan, err := FallbackPlanner{Now: func() time.Time { return fixedNow }}.GeneratePlan(context.Background(), request, models.SessionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Tool != SafeTool {
		t.Fatalf("steps = %+v", plan.Steps)
	}
	if q := plan.Steps[0].Parameters["query"].(string); len(q) != 50 {
		t.Errorf("query length = %d, want 50", len(q))
	}
	if plan.EstimatedMinutes != 5 || len(plan.Risks) != 1 || plan.Risks[0] != "Limited to basic search functionality" {
		t.Errorf("plan = %+v", plan)
	}
	if !plan.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v", plan.CreatedAt)
	}
}

func TestNormalize_RepairsUnknownTools(t *testing.T) {
	registry := testRegistry(t)
	plan := &models.Plan{Steps: []*models.PlanStep{
		{Order: 2, Tool: "create_task", Parameters: map[string]any{"title": "x"}},
		{Order: 1, Title: "Look around", Description: "find open login bugs", Tool: "magic_wand", Parameters: map[string]any{"wand": true}},
		nil,
	}}

	got := Normalize(plan, registry, "fix login", fixedNow)

	if got.ID == "" || got.Title != "Untitled Plan" || got.Description != "fix login" {
		t.Errorf("defaults = %+v", got)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	repaired := got.Steps[0]
	if repaired.Tool != SafeTool || repaired.Parameters["query"] != "find open login bugs" {
		t.Errorf("repaired step = %+v", repaired)
	}
	if got.Steps[1].Title != "Step 1" || got.Steps[1].Status != models.StepStatusPending {
		t.Errorf("defaulted step = %+v", got.Steps[1])
	}
	for _, step := range got.Steps {
		if step.ID == "" {
			t.Error("step id not assigned")
		}
	}
	if len(got.Risks) != 1 || !strings.Contains(got.Risks[0], "magic_wand") {
		t.Errorf("risks = %v", got.Risks)
	}
	if err := Validate(got, registry, models.SessionContext{}); err != nil {
		t.Errorf("normalized plan should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	registry := testRegistry(t)
	step := func(tool string, params map[string]any) *models.PlanStep {
		return &models.PlanStep{ID: tool, Tool: tool, Parameters: params}
	}
	params := map[string]any{"channel": "C1", "text": "hi"}

	tests := []struct {
		name    string
		steps   []*models.PlanStep
		sc      models.SessionContext
		wantErr string
	}{
		{name: "empty", wantErr: "no steps"},
		{name: "unknown tool", steps: []*models.PlanStep{step("nope", params)}, wantErr: "unknown tool"},
		{name: "missing parameters", steps: []*models.PlanStep{step("create_task", nil)}, wantErr: "requires parameters"},
		{name: "search without parameters", steps: []*models.PlanStep{step("search", nil)}},
		{name: "slack not connected", steps: []*models.PlanStep{step("slack_send_channel", params)}, wantErr: "Slack integration"},
		{name: "slack connected", steps: []*models.PlanStep{step("slack_send_channel", params)}, sc: models.SessionContext{Integrations: models.Integrations{Slack: true}}},
		{name: "drive not connected", steps: []*models.PlanStep{step("drive_create_folder", params)}, wantErr: "Drive integration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&models.Plan{Steps: tt.steps}, registry, tt.sc)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidPlan) {
				t.Error("error should wrap ErrInvalidPlan")
			}
		})
	}
}

func TestOptimize(t *testing.T) {
	plan := &models.Plan{Steps: []*models.PlanStep{
		{ID: "notify", Order: 1, Tool: "slack_send_channel"},
		{ID: "update", Order: 2, Tool: "update_task"},
		{ID: "create", Order: 3, Tool: "create_task"},
		{ID: "read", Order: 4, Tool: "get_tasks"},
		{ID: "find", Order: 5, Tool: "search"},
		{ID: "folder", Order: 6, Tool: "drive_create_folder"},
	}}
	Optimize(plan)
	var ids []string
	for i, step := range plan.Steps {
		ids = append(ids, step.ID)
		if step.Order != i+1 {
			t.Errorf("%s order = %d, want %d", step.ID, step.Order, i+1)
		}
	}
	if got := strings.Join(ids, ","); got != "find,create,folder,update,notify,read" {
		t.Errorf("order = %s", got)
	}
}

func TestLLMPlanner(t *testing.T) {
	registry := testRegistry(t)
	var prompt string
	completer := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		prompt = req.Prompt
		return &llm.Response{Text: `Here you go:
{"title":"","steps":[
 {"order":2,"title":"Create it","tool":"create_task","parameters":{"projectId":"p1","title":"Fix login bug"}},
 {"order":1,"tool":"teleport","description":"check existing tasks"}
]}`}, nil
	})
	sc := models.SessionContext{User: models.UserRef{ID: "u1", Role: models.RoleDeveloper}}
	p := NewLLMPlanner(completer, registry, WithNow(func() time.Time { return fixedNow }))

	plan, err := p.GeneratePlan(context.Background(), "create a task called Fix login bug", sc)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Title != "Untitled Plan" || plan.Description != "create a task called Fix login bug" {
		t.Errorf("plan = %+v", plan)
	}
	if len(plan.Steps) != 2 || plan.Steps[0].Tool != SafeTool || plan.Steps[1].Tool != "create_task" {
		t.Fatalf("steps = %+v %+v", plan.Steps[0], plan.Steps[1])
	}
	if !strings.Contains(prompt, "create_task") || strings.Contains(prompt, "slack_send_channel") {
		t.Errorf("prompt should list only tools the developer may use:\n%s", prompt)
	}
}

type staticContext struct {
	text    string
	err     error
	request string
}

func (s *staticContext) PlanningContext(_ context.Context, request string, _ models.SessionContext) (string, error) {
	s.request = request
	return s.text, s.err
}

func TestLLMPlanner_Background(t *testing.T) {
	tests := []struct {
		name     string
		provider *staticContext
		want     string
		wantNone bool
	}{
		{
			name:     "recalled context is added",
			provider: &staticContext{text: "## Recent Updates\n- Pat: design signed off"},
			want:     "Background:\n## Recent Updates\n- Pat: design signed off",
		},
		{name: "empty context adds nothing", provider: &staticContext{}, wantNone: true},
		{name: "failing provider adds nothing", provider: &staticContext{text: "stale", err: errors.New("index down")}, wantNone: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompt string
			completer := llm.CompleterFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
				prompt = req.Prompt
				return &llm.Response{Text: `{"title":"Check","steps":[{"order":1,"tool":"get_tasks","parameters":{"projectId":"p1"}}]}`}, nil
			})
			p := NewLLMPlanner(completer, testRegistry(t), WithContextProvider(tt.provider))
			sc := models.SessionContext{User: models.UserRef{ID: "u1", Role: models.RolePM}}

			if _, err := p.GeneratePlan(context.Background(), "what changed on the website", sc); err != nil {
				t.Fatal(err)
			}
			if tt.provider.request != "what changed on the website" {
				t.Errorf("provider saw request %q", tt.provider.request)
			}
			if tt.wantNone {
				if strings.Contains(prompt, "Background:") {
					t.Errorf("unexpected background in prompt:\n%s", prompt)
				}
				return
			}
			if !strings.Contains(prompt, tt.want) {
				t.Errorf("prompt missing background:\n%s", prompt)
			}
		})
	}
}

func TestWithFallback(t *testing.T) {
	failing := NewLLMPlanner(llm.CompleterFunc(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: "no plan today"}, nil
	}), testRegistry(t))
	p := WithFallback(failing, FallbackPlanner{})

	plan, err := p.GeneratePlan(context.Background(), "where is the design doc", models.SessionContext{})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Steps[0].Tool != SafeTool {
		t.Errorf("expected fallback plan, got %+v", plan.Steps[0])
	}
}
