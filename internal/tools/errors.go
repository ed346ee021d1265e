package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolNotFound indicates a requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// DuplicateToolError is returned when a tool name is registered twice.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// SchemaValidationError reports input that does not match a tool's schema.
type SchemaValidationError struct {
	// Tool is the tool whose schema rejected the input.
	Tool string
	// Problems lists each failing location and message.
	Problems []string
	// Cause is the underlying validator or decoder error.
	Cause error
}

func (e *SchemaValidationError) Error() string {
	if len(e.Problems) == 0 {
		if e.Cause != nil {
			return fmt.Sprintf("invalid input for %s: %v", e.Tool, e.Cause)
		}
		return fmt.Sprintf("invalid input for %s", e.Tool)
	}
	return fmt.Sprintf("invalid input for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Cause
}

// PermissionDeniedError is returned when the caller lacks a tool's scopes.
type PermissionDeniedError struct {
	Tool     string
	Required []string
	Missing  []string
}

func (e *PermissionDeniedError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("permission denied for %s: missing %s", e.Tool, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("permission denied for %s: requires one of %s", e.Tool, strings.Join(e.Required, ", "))
}

// IsSchemaValidation reports whether err is a SchemaValidationError.
func IsSchemaValidation(err error) bool {
	var target *SchemaValidationError
	return errors.As(err, &target)
}

// IsPermissionDenied reports whether err is a PermissionDeniedError.
func IsPermissionDenied(err error) bool {
	var target *PermissionDeniedError
	return errors.As(err, &target)
}
