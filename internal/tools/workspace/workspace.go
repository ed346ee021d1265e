// Package workspace provides the store-backed project management tools:
// projects, tasks, users, status updates and the read-only search fallback.
package workspace

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
)

// Store is the persistence the workspace tools need.
type Store interface {
	storage.WorkspaceStore
	storage.KnowledgeStore
}

// Option customizes the workspace tools.
type Option func(*toolset)

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(t *toolset) {
		if now != nil {
			t.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(t *toolset) {
		if newID != nil {
			t.newID = newID
		}
	}
}

type toolset struct {
	store Store
	now   func() time.Time
	newID func() string
}

// Tools returns every workspace tool bound to store.
func Tools(store Store, opts ...Option) []tools.Tool {
	ts := &toolset{store: store, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(ts)
	}
	return []tools.Tool{
		ts.getProjects(),
		ts.getTasks(),
		ts.getUsers(),
		ts.createProject(),
		ts.createTask(),
		ts.updateTask(),
		ts.updateProject(),
		ts.createUpdate(),
		ts.search(),
	}
}

// Register adds the workspace tools to registry.
func Register(registry *tools.Registry, store Store, opts ...Option) error {
	return registry.RegisterAll(Tools(store, opts...)...)
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s: invalid date %q", field, value)
}
