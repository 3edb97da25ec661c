package worker

import "fmt"

// NonRetryableError is returned by a handler to bypass the retry engine
// entirely: the delivery goes straight to the dead letter queue.
type NonRetryableError struct {
	Cause error
}

func (e *NonRetryableError) Error() string {
	if e.Cause == nil {
		return "non-retryable error"
	}
	return fmt.Sprintf("non-retryable error: %v", e.Cause)
}

func (e *NonRetryableError) Unwrap() error { return e.Cause }

// NonRetryable wraps cause so the retry engine routes it straight to the
// configured dead letter queue, skipping any retry attempt.
func NonRetryable(cause error) error {
	return &NonRetryableError{Cause: cause}
}

// HandlerError wraps any other error a safe handler returns; it feeds the
// retry engine.
type HandlerError struct {
	Cause error
}

func (e *HandlerError) Error() string {
	if e.Cause == nil {
		return "handler error"
	}
	return fmt.Sprintf("handler error: %v", e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }
