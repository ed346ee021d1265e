package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

const schemaID = "https://github.com/haasonsaas/foreman/config.schema.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// JSONSchema returns the JSON Schema for foreman.yaml, keyed by yaml field
// names. Editors can point at it for completion and validation.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:              "yaml",
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		schema := r.Reflect(&Config{})
		schema.ID = jsonschema.ID(schemaID)
		schema.Title = "foreman configuration"
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}
