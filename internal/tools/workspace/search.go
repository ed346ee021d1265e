package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// GetUsersInput filters get_users.
type GetUsersInput struct {
	Role  string `json:"role,omitempty" jsonschema:"enum=admin,enum=pm,enum=developer,enum=client,enum=user"`
	Limit int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
}

func (in *GetUsersInput) ApplyDefaults() {
	if in.Limit == 0 {
		in.Limit = 20
	}
}

func (t *toolset) getUsers() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "get_users",
		Description: "List workspace users, optionally by role",
		Scopes:      []string{tools.ScopeReadUsers},
	}, func(ctx context.Context, _ tools.CallContext, in GetUsersInput) (any, error) {
		users, err := t.store.ListUsers(ctx, storage.UserFilter{Role: models.Role(in.Role), Limit: in.Limit})
		if err != nil {
			return nil, fmt.Errorf("list users: %w", err)
		}
		return map[string]any{"users": users, "count": len(users)}, nil
	})
}

// SearchInput is a free-text query across workspace records.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"minLength=1"`
	ProjectID string `json:"projectId,omitempty"`
	Limit     int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
}

func (in *SearchInput) ApplyDefaults() {
	if in.Limit == 0 {
		in.Limit = 10
	}
}

// SearchResult groups matches by record type.
type SearchResult struct {
	Query     string                      `json:"query"`
	Projects  []*models.Project           `json:"projects"`
	Tasks     []*models.Task              `json:"tasks"`
	Documents []*models.KnowledgeDocument `json:"documents"`
	Total     int                         `json:"total"`
}

func (t *toolset) search() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "search",
		Description: "Case-insensitive text search across projects, tasks and indexed documents",
		Scopes:      []string{tools.ScopeReadProjects, tools.ScopeReadTasks},
	}, func(ctx context.Context, _ tools.CallContext, in SearchInput) (any, error) {
		query := strings.ToLower(strings.TrimSpace(in.Query))
		result := &SearchResult{
			Query:     in.Query,
			Projects:  []*models.Project{},
			Tasks:     []*models.Task{},
			Documents: []*models.KnowledgeDocument{},
		}

		if in.ProjectID == "" {
			projects, err := t.store.ListProjects(ctx, storage.ProjectFilter{})
			if err != nil {
				return nil, fmt.Errorf("search projects: %w", err)
			}
			for _, p := range projects {
				if len(result.Projects) >= in.Limit {
					break
				}
				if containsAny(query, p.Title, p.ClientName, p.Notes) {
					result.Projects = append(result.Projects, p)
				}
			}
		}

		items, err := t.store.ListTasks(ctx, storage.TaskFilter{ProjectID: in.ProjectID})
		if err != nil {
			return nil, fmt.Errorf("search tasks: %w", err)
		}
		for _, task := range items {
			if len(result.Tasks) >= in.Limit {
				break
			}
			if containsAny(query, task.Title, task.Description, task.Notes) {
				result.Tasks = append(result.Tasks, task)
			}
		}

		docs, err := t.store.ListDocuments(ctx, in.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("search documents: %w", err)
		}
		for _, doc := range docs {
			if len(result.Documents) >= in.Limit {
				break
			}
			if containsAny(query, doc.Content) {
				result.Documents = append(result.Documents, doc)
			}
		}

		result.Total = len(result.Projects) + len(result.Tasks) + len(result.Documents)
		return result, nil
	})
}

func containsAny(query string, fields ...string) bool {
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
