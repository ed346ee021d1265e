package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// GetProjectsInput filters get_projects.
type GetProjectsInput struct {
	Status string `json:"status,omitempty" jsonschema:"enum=active,enum=completed,enum=on-hold,enum=cancelled"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
	PMID   string `json:"pmId,omitempty"`
}

func (in *GetProjectsInput) ApplyDefaults() {
	if in.Limit == 0 {
		in.Limit = 10
	}
}

func (t *toolset) getProjects() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "get_projects",
		Description: "List projects, optionally filtered by status or PM",
		Scopes:      []string{tools.ScopeReadProjects},
	}, func(ctx context.Context, _ tools.CallContext, in GetProjectsInput) (any, error) {
		projects, err := t.store.ListProjects(ctx, storage.ProjectFilter{Status: in.Status, PMID: in.PMID, Limit: in.Limit})
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		return map[string]any{"projects": projects, "count": len(projects)}, nil
	})
}

// CreateProjectInput describes a new project.
type CreateProjectInput struct {
	Title          string `json:"title" jsonschema:"minLength=1,maxLength=200"`
	ClientName     string `json:"clientName" jsonschema:"minLength=1,maxLength=100"`
	ClientEmail    string `json:"clientEmail,omitempty"`
	StartDate      string `json:"startDate,omitempty"`
	TargetDelivery string `json:"targetDelivery,omitempty"`
	Status         string `json:"status,omitempty" jsonschema:"enum=active,enum=completed,enum=on-hold,enum=cancelled"`
	Notes          string `json:"notes,omitempty"`
	PMID           string `json:"pmId,omitempty"`
}

func (in *CreateProjectInput) ApplyDefaults() {
	if in.Status == "" {
		in.Status = "active"
	}
}

func (t *toolset) createProject() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "create_project",
		Description: "Create a new project; assigns the least loaded PM when none is given",
		Mutates:     true,
		Scopes:      []string{tools.ScopeWriteProjects},
	}, func(ctx context.Context, _ tools.CallContext, in CreateProjectInput) (any, error) {
		now := t.now()
		start, err := parseDate("startDate", in.StartDate)
		if err != nil {
			return nil, err
		}
		if start == nil {
			start = &now
		}
		target, err := parseDate("targetDelivery", in.TargetDelivery)
		if err != nil {
			return nil, err
		}

		pmID := in.PMID
		if pmID == "" {
			if pmID, err = t.leastLoadedPM(ctx); err != nil {
				return nil, err
			}
		}

		project := &models.Project{
			ID:             t.newID(),
			Title:          in.Title,
			ClientName:     in.ClientName,
			ClientEmail:    in.ClientEmail,
			Status:         in.Status,
			Health:         "green",
			Notes:          in.Notes,
			PMID:           pmID,
			StartDate:      start,
			TargetDelivery: target,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := t.store.CreateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("create project: %w", err)
		}
		return project, nil
	})
}

// leastLoadedPM returns the admin or PM with the fewest projects, or "" when
// there is none. Ties go to the earliest name.
func (t *toolset) leastLoadedPM(ctx context.Context) (string, error) {
	var candidates []*models.User
	for _, role := range []models.Role{models.RolePM, models.RoleAdmin} {
		users, err := t.store.ListUsers(ctx, storage.UserFilter{Role: role})
		if err != nil {
			return "", fmt.Errorf("list users: %w", err)
		}
		candidates = append(candidates, users...)
	}
	if len(candidates) == 0 {
		return "", nil
	}
	counts, err := t.store.CountProjectsByPM(ctx)
	if err != nil {
		return "", fmt.Errorf("count projects: %w", err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := counts[candidates[i].ID], counts[candidates[j].ID]
		if ci != cj {
			return ci < cj
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0].ID, nil
}

// UpdateProjectInput changes project status fields.
type UpdateProjectInput struct {
	ProjectID string `json:"projectId" jsonschema:"minLength=1"`
	Status    string `json:"status,omitempty" jsonschema:"enum=active,enum=completed,enum=on-hold,enum=cancelled"`
	Health    string `json:"health,omitempty" jsonschema:"enum=green,enum=amber,enum=red"`
	Notes     string `json:"notes,omitempty"`
}

func (t *toolset) updateProject() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "update_project",
		Description: "Update a project's status, health or notes",
		Mutates:     true,
		Scopes:      []string{tools.ScopeWriteProjects},
	}, func(ctx context.Context, _ tools.CallContext, in UpdateProjectInput) (any, error) {
		project, err := t.store.GetProject(ctx, in.ProjectID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("project %s not found", in.ProjectID)
		}
		if err != nil {
			return nil, fmt.Errorf("get project: %w", err)
		}
		if in.Status != "" {
			project.Status = in.Status
		}
		if in.Health != "" {
			project.Health = in.Health
		}
		if in.Notes != "" {
			project.Notes = in.Notes
		}
		project.UpdatedAt = t.now()
		if err := t.store.UpdateProject(ctx, project); err != nil {
			return nil, fmt.Errorf("update project: %w", err)
		}
		return project, nil
	})
}

// CreateUpdateInput posts a status note on a project.
type CreateUpdateInput struct {
	ProjectID string `json:"projectId" jsonschema:"minLength=1"`
	Body      string `json:"body" jsonschema:"minLength=1,maxLength=10000"`
}

func (t *toolset) createUpdate() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "create_update",
		Description: "Post a status update on a project",
		Mutates:     true,
		Scopes:      []string{tools.ScopeWriteProjects},
	}, func(ctx context.Context, call tools.CallContext, in CreateUpdateInput) (any, error) {
		if _, err := t.store.GetProject(ctx, in.ProjectID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("project %s not found", in.ProjectID)
			}
			return nil, fmt.Errorf("get project: %w", err)
		}
		update := &models.ProjectUpdate{
			ID:        t.newID(),
			ProjectID: in.ProjectID,
			AuthorID:  call.UserID,
			Body:      in.Body,
			CreatedAt: t.now(),
		}
		if err := t.store.CreateProjectUpdate(ctx, update); err != nil {
			return nil, fmt.Errorf("create update: %w", err)
		}
		return update, nil
	})
}
