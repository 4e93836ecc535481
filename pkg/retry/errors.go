package retry

import (
	"errors"
	"fmt"
)

// ErrRetryExhausted matches an *ExhaustedError.
var ErrRetryExhausted = errors.New("retries exhausted")

// ExhaustedError wraps the last failure after every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retries (%d) exhausted: last error: %v", e.Attempts-1, e.Last)
}

// Is matches ErrRetryExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
