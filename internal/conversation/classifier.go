package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/haasonsaas/foreman/internal/llm"
	"github.com/haasonsaas/foreman/pkg/models"
)

// ConfidenceFloor is the minimum confidence at which a request may proceed
// without clarification.
const ConfidenceFloor = 0.7

// Analysis is the classifier's reading of one message.
type Analysis struct {
	Confidence          float64           `json:"confidence"`
	NeedsClarification  bool              `json:"needsClarification"`
	ClarifyingQuestions []string          `json:"clarifyingQuestions,omitempty"`
	SuggestedIntent     string            `json:"suggestedIntent,omitempty"`
	Entities            map[string]string `json:"extractedEntities,omitempty"`
	Phase               models.Phase      `json:"conversationPhase,omitempty"`
	SuggestedTools      []string          `json:"suggestedTools,omitempty"`
}

// Classifier reads intent from a message.
type Classifier interface {
	Classify(ctx context.Context, message string, sc models.SessionContext, history []models.ChatMessage) (*Analysis, error)
}

// ApplyFloor clamps confidence to [0,1] and forces clarification below floor.
func ApplyFloor(a *Analysis, floor float64) *Analysis {
	if a == nil {
		a = &Analysis{}
	}
	switch {
	case a.Confidence < 0:
		a.Confidence = 0
	case a.Confidence > 1:
		a.Confidence = 1
	}
	if a.Confidence < floor {
		a.NeedsClarification = true
	}
	if a.NeedsClarification {
		a.Phase = models.PhaseClarifying
		if len(a.ClarifyingQuestions) == 0 {
			a.ClarifyingQuestions = []string{defaultQuestion}
		}
	} else if a.Phase == "" || a.Phase == models.PhaseClarifying {
		a.Phase = models.PhaseProposing
	}
	if a.Entities == nil {
		a.Entities = map[string]string{}
	}
	return a
}

const defaultQuestion = "I want to make sure I understand correctly. Could you tell me more about what you'd like to do?"

// HeuristicClassifier recognizes common requests by keyword and extracts
// titles, project references and emails. It is used when no language model
// is configured and as the fallback when the model fails.
type HeuristicClassifier struct{}

var (
	titleRE   = regexp.MustCompile(`(?i)\b(?:called|named|titled)\s+["“']?(.+?)["”']?\s*(?:\bin\b|\bfor\b|\bon\b|$)`)
	quotedRE  = regexp.MustCompile(`["“]([^"”]+)["”]`)
	emailRE   = regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`)
	projectRE = regexp.MustCompile(`(?i)\b(?:in|for|on)\s+(?:the\s+)?(?:project\s+)?["“']?([\w][\w\s-]*?)["”']?\s+project\b|\bproject\s+["“']?([\w][\w-]*)`)
)

type intentRule struct {
	intent   string
	keywords []string
	tools    []string
	// needsProject marks intents that act on a specific project.
	needsProject bool
	// needsTitle marks intents that create a named record.
	needsTitle bool
}

var intentRules = []intentRule{
	{intent: "create_task", keywords: []string{"create a task", "create task", "add a task", "add task", "new task"}, tools: []string{"create_task"}, needsProject: true, needsTitle: true},
	{intent: "create_project", keywords: []string{"create a project", "create project", "new project", "start a project"}, tools: []string{"create_project"}, needsTitle: true},
	{intent: "update_task", keywords: []string{"mark task", "complete task", "update task", "close task"}, tools: []string{"get_tasks", "update_task"}, needsProject: true},
	{intent: "send_message", keywords: []string{"slack", "send a message", "message the", "notify", "dm "}, tools: []string{"slack_send_channel", "slack_send_dm"}},
	{intent: "create_folder", keywords: []string{"folder", "drive"}, tools: []string{"drive_create_folder", "drive_create_project_structure"}},
	{intent: "search_documents", keywords: []string{"document", "docs", "knowledge", "notes about"}, tools: []string{"rag_search"}},
	{intent: "list_tasks", keywords: []string{"my tasks", "list tasks", "show tasks", "open tasks", "overdue"}, tools: []string{"get_tasks"}},
	{intent: "list_projects", keywords: []string{"my projects", "list projects", "show projects", "all projects", "active projects"}, tools: []string{"get_projects"}},
	{intent: "search", keywords: []string{"find", "search", "look up", "where is"}, tools: []string{"search"}},
}

var vagueRequests = []string{"help", "help me", "overview", "status", "update", "what's up", "anything"}

// Classify implements Classifier.
func (HeuristicClassifier) Classify(_ context.Context, message string, sc models.SessionContext, _ []models.ChatMessage) (*Analysis, error) {
	text := strings.TrimSpace(message)
	lower := strings.ToLower(text)
	entities := extractEntities(text)
	if sc.Project != nil && entities["projectId"] == "" {
		entities["projectId"] = sc.Project.ID
		entities["project"] = sc.Project.Title
	}

	for _, vague := range vagueRequests {
		if lower == vague {
			return &Analysis{
				Confidence:         0.3,
				NeedsClarification: true,
				ClarifyingQuestions: []string{
					"Happy to help. Are you looking for project status, your tasks, or something else?",
				},
				Entities: entities,
			}, nil
		}
	}

	rule, ok := matchRule(lower)
	if !ok {
		return &Analysis{
			Confidence:          0.4,
			NeedsClarification:  true,
			ClarifyingQuestions: []string{defaultQuestion},
			Entities:            entities,
		}, nil
	}

	analysis := &Analysis{
		Confidence:      0.9,
		SuggestedIntent: rule.intent,
		Entities:        entities,
		SuggestedTools:  rule.tools,
		Phase:           models.PhaseProposing,
	}
	if rule.needsTitle && entities["title"] == "" {
		analysis.NeedsClarification = true
		analysis.Confidence = 0.6
		analysis.ClarifyingQuestions = append(analysis.ClarifyingQuestions, "What should it be called?")
	}
	if rule.needsProject && entities["projectId"] == "" && entities["project"] == "" {
		analysis.NeedsClarification = true
		analysis.ClarifyingQuestions = append(analysis.ClarifyingQuestions, "Which project should this go in?")
	}
	if analysis.NeedsClarification {
		analysis.Phase = models.PhaseClarifying
	}
	return analysis, nil
}

func matchRule(lower string) (intentRule, bool) {
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule, true
			}
		}
	}
	return intentRule{}, false
}

var notProjectNames = map[string]bool{"a": true, "new": true, "called": true, "named": true, "titled": true, "the": true}

func extractEntities(text string) map[string]string {
	entities := map[string]string{}
	if m := titleRE.FindStringSubmatch(text); m != nil {
		entities["title"] = strings.TrimSpace(m[1])
	} else if m := quotedRE.FindStringSubmatch(text); m != nil {
		entities["title"] = strings.TrimSpace(m[1])
	}
	if m := emailRE.FindString(text); m != "" {
		entities["email"] = m
	}
	if m := projectRE.FindStringSubmatch(text); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if name = strings.TrimSpace(name); name != "" && !notProjectNames[strings.ToLower(name)] {
			entities["project"] = name
		}
	}
	return entities
}

// LLMClassifier asks a language model for the analysis and falls back to
// Fallback (or a safe clarification) when the call or its output fails.
type LLMClassifier struct {
	Completer llm.Completer
	Fallback  Classifier
}

const classifierSystem = `You analyze a user's request to a project management assistant and decide whether it is clear enough to act on.
Return a JSON object:
{"confidence": 0.0-1.0, "needsClarification": bool, "clarifyingQuestions": [string], "suggestedIntent": string,
 "extractedEntities": {string: string}, "conversationPhase": "clarifying"|"proposing", "suggestedTools": [string]}
Ask which project when a request mentions a project without naming it. Ask for title and project when creating a task without details.
Treat vague requests such as "help", "overview" or "status" as needing clarification.`

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, message string, sc models.SessionContext, history []models.ChatMessage) (*Analysis, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "User: %s (%s)\n", sc.User.Name, sc.User.Role)
	if sc.Project != nil {
		fmt.Fprintf(&prompt, "Current project: %s (%s)\n", sc.Project.Title, sc.Project.ID)
	} else {
		prompt.WriteString("Current project: none selected\n")
	}
	if len(history) > 0 {
		prompt.WriteString("Previous conversation:\n")
		start := len(history) - 3
		if start < 0 {
			start = 0
		}
		for _, m := range history[start:] {
			fmt.Fprintf(&prompt, "%s: %s\n", m.Role, m.Content)
		}
	}
	fmt.Fprintf(&prompt, "Current message: %s", message)

	resp, err := c.Completer.Complete(ctx, llm.Request{
		System:      classifierSystem,
		Prompt:      prompt.String(),
		MaxTokens:   500,
		Temperature: 0.3,
		JSON:        true,
	})
	if err != nil {
		return c.fallback(ctx, message, sc, history, err)
	}

	var raw struct {
		Analysis
		NeedsClarification *bool          `json:"needsClarification"`
		Entities           map[string]any `json:"extractedEntities"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text)), &raw); err != nil {
		return c.fallback(ctx, message, sc, history, fmt.Errorf("decode analysis: %w", err))
	}
	analysis := raw.Analysis
	analysis.Entities = make(map[string]string, len(raw.Entities))
	for k, v := range raw.Entities {
		if v != nil {
			analysis.Entities[k] = fmt.Sprint(v)
		}
	}
	if analysis.Confidence == 0 {
		analysis.Confidence = 0.5
	}
	// A missing flag is read as a request for clarification.
	analysis.NeedsClarification = raw.NeedsClarification == nil || *raw.NeedsClarification
	return &analysis, nil
}

func (c *LLMClassifier) fallback(ctx context.Context, message string, sc models.SessionContext, history []models.ChatMessage, cause error) (*Analysis, error) {
	slog.Default().With("component", "conversation").Warn("intent analysis failed, using fallback", "error", cause)
	if c.Fallback != nil {
		return c.Fallback.Classify(ctx, message, sc, history)
	}
	return &Analysis{
		Confidence:          0.3,
		NeedsClarification:  true,
		ClarifyingQuestions: []string{defaultQuestion},
		Phase:               models.PhaseClarifying,
	}, nil
}
