package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	invjsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

type compiledSchema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

// reflectSchema reflects a JSON schema from v's type and compiles it for
// validation. Unknown properties are allowed and ignored on decode.
func reflectSchema(name string, v any) (*compiledSchema, error) {
	r := &invjsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	return compileRaw(name, raw)
}

func compileRaw(name string, raw []byte) (*compiledSchema, error) {
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &compiledSchema{raw: raw, compiled: compiled}, nil
}

func (s *compiledSchema) validate(doc any) error {
	return s.compiled.Validate(doc)
}

// toDocument converts tool input into the generic JSON value form the
// validator expects.
func toDocument(input any) (any, error) {
	var payload []byte
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case json.RawMessage:
		payload = v
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode input: %w", err)
		}
		payload = encoded
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return map[string]any{}, nil
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return doc, nil
}

// validationProblems flattens a validator error into "location: message" lines.
func validationProblems(err error) []string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}

	var problems []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "/"
			}
			problems = append(problems, location+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.Strings(problems)
	return problems
}
