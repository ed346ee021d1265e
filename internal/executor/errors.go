package executor

import (
	"errors"
	"fmt"
)

// Code classifies a step failure.
type Code string

const (
	CodeToolNotFound      Code = "TOOL_NOT_FOUND"
	CodeInvalidParameters Code = "INVALID_PARAMETERS"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeNeedsApproval     Code = "NEEDS_APPROVAL"
	CodeExecutionFailed   Code = "EXECUTION_FAILED"
)

// Guardrail reports whether the code comes from a deterministic
// pre-execution check. Guardrail failures are never retried.
func (c Code) Guardrail() bool {
	switch c {
	case CodeToolNotFound, CodeInvalidParameters, CodePermissionDenied, CodeNeedsApproval:
		return true
	default:
		return false
	}
}

// StepError is the error returned for a failed step.
type StepError struct {
	Code    Code
	StepID  string
	Tool    string
	Message string
	Cause   error
}

func (e *StepError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("%s: step %s (%s): %s", e.Code, e.StepID, e.Tool, msg)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// IsGuardrail reports whether the step was blocked before its handler ran.
func (e *StepError) IsGuardrail() bool {
	return e.Code.Guardrail()
}

// CodeOf returns the step error code of err, or "" if err is not a StepError.
func CodeOf(err error) Code {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Code
	}
	return ""
}

// IsNeedsApproval reports whether err is an approval-required failure.
func IsNeedsApproval(err error) bool {
	return CodeOf(err) == CodeNeedsApproval
}

// IsGuardrail reports whether err is a guardrail failure.
func IsGuardrail(err error) bool {
	return CodeOf(err).Guardrail()
}
