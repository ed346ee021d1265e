package tools

import (
	"github.com/haasonsaas/foreman/pkg/models"
)

// Authorization scopes.
const (
	ScopeReadProjects  = "read:projects"
	ScopeReadTasks     = "read:tasks"
	ScopeReadUsers     = "read:users"
	ScopeWriteProjects = "write:projects"
	ScopeWriteTasks    = "write:tasks"
	ScopeSlackWrite    = "slack:write"
	ScopeDriveRead     = "drive:read"
	ScopeDriveWrite    = "drive:write"
	ScopeRAGRead       = "rag:read"
	ScopeRAGWrite      = "rag:write"

	// ScopeAll grants every scope.
	ScopeAll = "*"
)

// AllScopes lists every concrete scope.
var AllScopes = []string{
	ScopeReadProjects,
	ScopeReadTasks,
	ScopeReadUsers,
	ScopeWriteProjects,
	ScopeWriteTasks,
	ScopeSlackWrite,
	ScopeDriveRead,
	ScopeDriveWrite,
	ScopeRAGRead,
	ScopeRAGWrite,
}

var roleScopes = map[models.Role][]string{
	models.RoleAdmin: {ScopeAll},
	models.RolePM:    AllScopes,
	models.RoleDeveloper: {
		ScopeReadProjects,
		ScopeReadTasks,
		ScopeReadUsers,
		ScopeWriteTasks,
		ScopeDriveRead,
		ScopeRAGRead,
	},
	models.RoleClient: {ScopeReadProjects, ScopeReadTasks, ScopeRAGRead},
	models.RoleUser:   {ScopeReadProjects, ScopeReadTasks},
}

// ScopesForRole returns the scopes granted to role. Unknown roles get the
// same scopes as RoleUser.
func ScopesForRole(role models.Role) []string {
	scopes, ok := roleScopes[role]
	if !ok {
		scopes = roleScopes[models.RoleUser]
	}
	return append([]string(nil), scopes...)
}

// MissingScopes returns the required scopes not covered by granted.
func MissingScopes(granted, required []string) []string {
	set := scopeSet(granted)
	if _, ok := set[ScopeAll]; ok {
		return nil
	}
	var missing []string
	for _, scope := range required {
		if _, ok := set[scope]; !ok {
			missing = append(missing, scope)
		}
	}
	return missing
}

// HasAllScopes reports whether granted covers every required scope.
func HasAllScopes(granted, required []string) bool {
	return len(MissingScopes(granted, required)) == 0
}

// HasAnyScope reports whether granted intersects required. A tool with no
// required scopes is open to everyone.
func HasAnyScope(granted, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := scopeSet(granted)
	if _, ok := set[ScopeAll]; ok {
		return true
	}
	for _, scope := range required {
		if _, ok := set[scope]; ok {
			return true
		}
	}
	return false
}

func scopeSet(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	return set
}
