// Package tools holds the tool registry: the closed set of named,
// schema-validated, scope-gated operations an agent plan may call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/foreman/pkg/models"
)

// CallContext identifies who a tool runs as.
type CallContext struct {
	UserID      string
	Role        models.Role
	Permissions []string
	SessionID   string
	Session     *models.SessionContext
}

// Tool is one registered operation.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON schema of the tool input.
	Schema() json.RawMessage
	// Mutates reports whether the tool has side effects that need plan approval.
	Mutates() bool
	// Scopes lists the authorization scopes the tool requires.
	Scopes() []string
	// Validate checks raw input against the schema and returns the decoded,
	// defaulted input accepted by Invoke.
	Validate(input any) (any, error)
	// Invoke runs the tool on validated input.
	Invoke(ctx context.Context, call CallContext, input any) (any, error)
}

// Spec describes a tool's static metadata.
type Spec struct {
	Name        string
	Description string
	Mutates     bool
	Scopes      []string
}

// Handler is the typed implementation of a tool.
type Handler[In any] func(ctx context.Context, call CallContext, in In) (any, error)

// Defaulter is implemented by inputs that fill defaults after decoding.
type Defaulter interface {
	ApplyDefaults()
}

// Func is a Tool backed by a typed handler. Its schema is reflected from In.
type Func[In any] struct {
	spec    Spec
	schema  *compiledSchema
	handler Handler[In]
}

// New builds a tool whose input schema is reflected from In.
func New[In any](spec Spec, handler Handler[In]) (*Func[In], error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %s: handler is required", spec.Name)
	}
	var zero In
	schema, err := reflectSchema(spec.Name, &zero)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", spec.Name, err)
	}
	spec.Scopes = append([]string(nil), spec.Scopes...)
	return &Func[In]{spec: spec, schema: schema, handler: handler}, nil
}

// Must is New that panics on error. Use it for static catalogs.
func Must[In any](spec Spec, handler Handler[In]) *Func[In] {
	tool, err := New(spec, handler)
	if err != nil {
		panic(err)
	}
	return tool
}

func (f *Func[In]) Name() string            { return f.spec.Name }
func (f *Func[In]) Description() string     { return f.spec.Description }
func (f *Func[In]) Schema() json.RawMessage { return f.schema.raw }
func (f *Func[In]) Mutates() bool           { return f.spec.Mutates }

func (f *Func[In]) Scopes() []string {
	return append([]string(nil), f.spec.Scopes...)
}

// Validate implements Tool.
func (f *Func[In]) Validate(input any) (any, error) {
	doc, err := toDocument(input)
	if err != nil {
		return nil, &SchemaValidationError{Tool: f.spec.Name, Problems: []string{err.Error()}, Cause: err}
	}
	if err := f.schema.validate(doc); err != nil {
		return nil, &SchemaValidationError{Tool: f.spec.Name, Problems: validationProblems(err), Cause: err}
	}

	var in In
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, &SchemaValidationError{Tool: f.spec.Name, Cause: err}
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, &SchemaValidationError{Tool: f.spec.Name, Problems: []string{err.Error()}, Cause: err}
	}
	if d, ok := any(&in).(Defaulter); ok {
		d.ApplyDefaults()
	}
	return in, nil
}

// Invoke implements Tool. Input that is not already the decoded type is
// validated first.
func (f *Func[In]) Invoke(ctx context.Context, call CallContext, input any) (any, error) {
	in, ok := input.(In)
	if !ok {
		validated, err := f.Validate(input)
		if err != nil {
			return nil, err
		}
		in = validated.(In)
	}
	return f.handler(ctx, call, in)
}
