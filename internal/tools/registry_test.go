package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/foreman/pkg/models"
)

type echoInput struct {
	Title string `json:"title" jsonschema:"minLength=1,maxLength=20"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
}

func (in *echoInput) ApplyDefaults() {
	if in.Limit == 0 {
		in.Limit = 10
	}
}

func newEchoTool(t *testing.T, name string, mutates bool, scopes []string, calls *int) Tool {
	t.Helper()
	tool, err := New(Spec{Name: name, Description: "echo", Mutates: mutates, Scopes: scopes},
		func(_ context.Context, _ CallContext, in echoInput) (any, error) {
			if calls != nil {
				*calls++
			}
			return map[string]any{"title": in.Title, "limit": in.Limit}, nil
		})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tool
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	first := newEchoTool(t, "echo", false, []string{ScopeReadTasks}, nil)
	if err := r.Register(first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	second := newEchoTool(t, "echo", true, []string{ScopeWriteTasks}, nil)
	err := r.Register(second)
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateToolError, got %v", err)
	}
	if dup.Name != "echo" {
		t.Errorf("Name = %q, want echo", dup.Name)
	}

	got, ok := r.Get("echo")
	if !ok || got != first {
		t.Fatal("original tool should remain registered")
	}
	if got.Mutates() {
		t.Error("duplicate registration changed the tool")
	}
}

func TestRegistry_Execute(t *testing.T) {
	calls := 0
	r := NewRegistry()
	if err := r.Register(newEchoTool(t, "echo", false, []string{ScopeReadTasks, ScopeReadProjects}, &calls)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		tool    string
		perms   []string
		input   any
		wantErr func(error) bool
	}{
		{
			name:  "success with defaults",
			tool:  "echo",
			perms: []string{ScopeReadTasks},
			input: map[string]any{"title": "hello"},
		},
		{
			name:    "not found",
			tool:    "missing",
			perms:   []string{ScopeAll},
			input:   map[string]any{},
			wantErr: func(err error) bool { return errors.Is(err, ErrToolNotFound) },
		},
		{
			name:    "schema mismatch",
			tool:    "echo",
			perms:   []string{ScopeReadTasks},
			input:   map[string]any{"title": ""},
			wantErr: IsSchemaValidation,
		},
		{
			name:    "missing required",
			tool:    "echo",
			perms:   []string{ScopeReadTasks},
			input:   json.RawMessage(`{"limit": 5}`),
			wantErr: IsSchemaValidation,
		},
		{
			name:    "no intersecting scope",
			tool:    "echo",
			perms:   []string{ScopeWriteTasks},
			input:   map[string]any{"title": "hello"},
			wantErr: IsPermissionDenied,
		},
		{
			name:  "one intersecting scope is enough",
			tool:  "echo",
			perms: []string{ScopeReadProjects},
			input: map[string]any{"title": "hello", "limit": 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.Execute(context.Background(), tt.tool, CallContext{Permissions: tt.perms}, tt.input)
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			out := result.(map[string]any)
			if out["title"] != "hello" {
				t.Errorf("title = %v", out["title"])
			}
		})
	}

	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
}

func TestFunc_ValidateAppliesDefaults(t *testing.T) {
	tool := newEchoTool(t, "echo", false, nil, nil)

	validated, err := tool.Validate(map[string]any{"title": "x", "extra": true})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	in := validated.(echoInput)
	if in.Limit != 10 {
		t.Errorf("Limit = %d, want default 10", in.Limit)
	}

	_, err = tool.Validate(map[string]any{"title": "x", "limit": 500})
	var verr *SchemaValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SchemaValidationError, got %v", err)
	}
	if !strings.Contains(verr.Error(), "/limit") {
		t.Errorf("error should point at /limit: %v", verr)
	}
}

func TestFunc_SchemaReflectsInput(t *testing.T) {
	tool := newEchoTool(t, "echo", false, nil, nil)

	var schema map[string]any
	if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", tool.Schema())
	}
	if _, ok := props["title"]; !ok {
		t.Error("schema missing title property")
	}
	required, _ := schema["required"].([]any)
	if len(required) != 1 || required[0] != "title" {
		t.Errorf("required = %v, want [title]", required)
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	_ = r.RegisterAll(
		newEchoTool(t, "get_tasks", false, []string{ScopeReadTasks}, nil),
		newEchoTool(t, "create_task", true, []string{ScopeWriteTasks}, nil),
		newEchoTool(t, "slack_send_dm", true, []string{ScopeSlackWrite}, nil),
	)

	mutating := true
	got := r.List(ListOptions{Mutates: &mutating})
	if len(got) != 2 || got[0].Name() != "create_task" || got[1].Name() != "slack_send_dm" {
		t.Errorf("mutating list = %v", toolNames(got))
	}

	got = r.List(ListOptions{Scopes: []string{ScopeReadTasks, ScopeSlackWrite}})
	if len(got) != 2 || got[0].Name() != "get_tasks" || got[1].Name() != "slack_send_dm" {
		t.Errorf("scoped list = %v", toolNames(got))
	}

	if infos := r.Infos(ListOptions{}); len(infos) != 3 {
		t.Errorf("Infos() len = %d, want 3", len(infos))
	}
}

func TestScopesForRole(t *testing.T) {
	tests := []struct {
		role     models.Role
		required []string
		want     bool
	}{
		{models.RoleAdmin, []string{ScopeDriveWrite, ScopeRAGWrite}, true},
		{models.RolePM, AllScopes, true},
		{models.RoleDeveloper, []string{ScopeWriteTasks}, true},
		{models.RoleDeveloper, []string{ScopeWriteProjects}, false},
		{models.RoleClient, []string{ScopeRAGRead}, true},
		{models.RoleClient, []string{ScopeReadUsers}, false},
		{models.RoleUser, []string{ScopeReadTasks}, true},
		{models.Role("intern"), []string{ScopeReadProjects}, true},
		{models.Role("intern"), []string{ScopeWriteTasks}, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := HasAllScopes(ScopesForRole(tt.role), tt.required); got != tt.want {
				t.Errorf("HasAllScopes(%s, %v) = %v, want %v", tt.role, tt.required, got, tt.want)
			}
		})
	}
}

func TestMissingScopes(t *testing.T) {
	missing := MissingScopes([]string{ScopeReadTasks}, []string{ScopeReadTasks, ScopeWriteTasks})
	if len(missing) != 1 || missing[0] != ScopeWriteTasks {
		t.Errorf("MissingScopes() = %v", missing)
	}
	if HasAnyScope(nil, []string{ScopeReadTasks}) {
		t.Error("no permissions should not intersect")
	}
	if !HasAnyScope(nil, nil) {
		t.Error("a tool without scopes is open")
	}
}

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name()
	}
	return names
}
