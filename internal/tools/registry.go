package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Registry manages the available tools. It is built once at start and is
// safe for concurrent lookups.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a name twice fails with
// DuplicateToolError and leaves the existing tool in place.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("register tool: nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = tool
	return nil
}

// RegisterAll registers tools in order and stops at the first error.
func (r *Registry) RegisterAll(tools ...Tool) error {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListOptions filters List results.
type ListOptions struct {
	// Scopes keeps tools requiring at least one of these scopes.
	Scopes []string
	// Mutates keeps only tools with a matching mutation flag.
	Mutates *bool
}

// List returns tools matching opts, sorted by name.
func (r *Registry) List(opts ListOptions) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if opts.Mutates != nil && tool.Mutates() != *opts.Mutates {
			continue
		}
		if len(opts.Scopes) > 0 && !HasAnyScope(opts.Scopes, tool.Scopes()) {
			continue
		}
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Execute validates input, checks that call.Permissions intersects the
// tool's scopes, and invokes the tool.
func (r *Registry) Execute(ctx context.Context, name string, call CallContext, input any) (any, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	validated, err := tool.Validate(input)
	if err != nil {
		return nil, err
	}
	if !HasAnyScope(call.Permissions, tool.Scopes()) {
		return nil, &PermissionDeniedError{Tool: name, Required: tool.Scopes()}
	}
	return tool.Invoke(ctx, call, validated)
}

// Info is a serializable view of a tool for listings and planner prompts.
type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Mutates     bool            `json:"mutates"`
	Scopes      []string        `json:"scopes"`
	Schema      json.RawMessage `json:"input_schema"`
}

// Infos describes the tools matching opts.
func (r *Registry) Infos(opts ListOptions) []Info {
	tools := r.List(opts)
	out := make([]Info, 0, len(tools))
	for _, tool := range tools {
		out = append(out, Info{
			Name:        tool.Name(),
			Description: tool.Description(),
			Mutates:     tool.Mutates(),
			Scopes:      tool.Scopes(),
			Schema:      tool.Schema(),
		})
	}
	return out
}
