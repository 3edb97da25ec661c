package publish

import (
	"fmt"

	"go.bryk.io/contractq/errors"
	"go.bryk.io/contractq/validator"
)

// TechnicalError wraps every infrastructural failure: connect, channel
// close, publish-buffer-full, topology declare, and the like. It is never
// the caller's fault and is not retried by the framework.
type TechnicalError struct {
	Message string
	Cause   error
}

func (e *TechnicalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("technical error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("technical error: %s", e.Message)
}

func (e *TechnicalError) Unwrap() error { return e.Cause }

// NewTechnicalError builds a *TechnicalError, wrapping cause with a stack
// trace when non-nil.
func NewTechnicalError(message string, cause error) *TechnicalError {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &TechnicalError{Message: message, Cause: cause}
}

// MessageValidationError is raised synchronously by publish when a payload
// fails its validator; it is surfaced to the caller and never retried, the
// message never leaves the process.
type MessageValidationError struct {
	Publisher string
	Issues    validator.Issues
}

func (e *MessageValidationError) Error() string {
	return fmt.Sprintf("message validation failed for publisher %q: %s", e.Publisher, e.Issues.Error())
}
