package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/foreman/internal/llm"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// LLMPlanner asks a language model for a plan over the registered tools
// the session is allowed to use.
type LLMPlanner struct {
	completer llm.Completer
	registry  *tools.Registry
	memory    ContextProvider
	model     string
	now       func() time.Time
	logger    *slog.Logger
}

// ContextProvider supplies background for a request, such as related
// documents and earlier sessions. An empty string adds nothing.
type ContextProvider interface {
	PlanningContext(ctx context.Context, request string, sc models.SessionContext) (string, error)
}

// LLMOption configures an LLMPlanner.
type LLMOption func(*LLMPlanner)

// WithModel overrides the provider's default model.
func WithModel(model string) LLMOption {
	return func(p *LLMPlanner) { p.model = model }
}

// WithContextProvider adds recalled background to every prompt.
func WithContextProvider(provider ContextProvider) LLMOption {
	return func(p *LLMPlanner) { p.memory = provider }
}

// WithNow sets the clock.
func WithNow(now func() time.Time) LLMOption {
	return func(p *LLMPlanner) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LLMOption {
	return func(p *LLMPlanner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewLLMPlanner creates an LLMPlanner.
func NewLLMPlanner(completer llm.Completer, registry *tools.Registry, opts ...LLMOption) *LLMPlanner {
	p := &LLMPlanner{
		completer: completer,
		registry:  registry,
		now:       time.Now,
		logger:    slog.Default().With("component", "planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

const plannerSystem = `You plan work for a project management assistant. Use only the tools listed.
Return a JSON object:
{"title": string, "description": string, "estimatedMinutes": number, "risks": [string], "dependencies": [string],
 "steps": [{"order": number, "title": string, "description": string, "tool": string, "parameters": object}]}
Prefer the fewest steps that satisfy the request. Read before you write.`

type rawPlan struct {
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	EstimatedMinutes float64   `json:"estimatedMinutes"`
	Risks            []string  `json:"risks"`
	Dependencies     []string  `json:"dependencies"`
	Steps            []rawStep `json:"steps"`
}

type rawStep struct {
	Order       int            `json:"order"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Tool        string         `json:"tool"`
	Parameters  map[string]any `json:"parameters"`
}

// GeneratePlan implements Planner. The returned plan is normalized.
func (p *LLMPlanner) GeneratePlan(ctx context.Context, request string, sc models.SessionContext) (*models.Plan, error) {
	if p.completer == nil {
		return nil, llm.ErrNotConfigured
	}
	resp, err := p.completer.Complete(ctx, llm.Request{
		Model:       p.model,
		System:      plannerSystem,
		Prompt:      p.prompt(request, sc, p.background(ctx, request, sc)),
		MaxTokens:   2000,
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	var raw rawPlan
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text)), &raw); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	plan := &models.Plan{
		Title:            raw.Title,
		Description:      raw.Description,
		EstimatedMinutes: int(raw.EstimatedMinutes),
		Risks:            raw.Risks,
		Dependencies:     raw.Dependencies,
		CreatedAt:        p.now(),
	}
	for i, s := range raw.Steps {
		order := s.Order
		if order <= 0 {
			order = i + 1
		}
		plan.Steps = append(plan.Steps, &models.PlanStep{
			Order:       order,
			Title:       s.Title,
			Description: s.Description,
			Tool:        strings.TrimSpace(s.Tool),
			Parameters:  s.Parameters,
		})
	}
	plan = Normalize(plan, p.registry, request, p.now())
	p.logger.Info("plan generated", "plan_id", plan.ID, "steps", len(plan.Steps), "model", resp.Model)
	return plan, nil
}

// background never fails planning; without it the model plans from the
// request alone.
func (p *LLMPlanner) background(ctx context.Context, request string, sc models.SessionContext) string {
	if p.memory == nil {
		return ""
	}
	text, err := p.memory.PlanningContext(ctx, request, sc)
	if err != nil {
		p.logger.Warn("planning context unavailable", "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

func (p *LLMPlanner) prompt(request string, sc models.SessionContext, background string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n", request)
	fmt.Fprintf(&b, "User: %s (%s)\n", sc.User.Name, sc.User.Role)
	if sc.Project != nil {
		fmt.Fprintf(&b, "Project: %s (id %s)\n", sc.Project.Title, sc.Project.ID)
	}
	fmt.Fprintf(&b, "Integrations: slack=%t drive=%t\n", sc.Integrations.Slack, sc.Integrations.Drive)

	scopes := sc.Permissions
	if len(scopes) == 0 {
		scopes = tools.ScopesForRole(sc.User.Role)
	}
	b.WriteString("Tools:\n")
	if p.registry != nil {
		for _, info := range p.registry.Infos(tools.ListOptions{Scopes: scopes}) {
			fmt.Fprintf(&b, "- %s: %s\n  input schema: %s\n", info.Name, info.Description, info.Schema)
		}
	}
	if background != "" {
		b.WriteString("\nBackground:\n")
		b.WriteString(background)
		b.WriteString("\n")
	}
	return b.String()
}
