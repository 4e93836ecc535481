package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is returned when a request is rejected instead of waited for.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// LimitError describes a rejected admission.
type LimitError struct {
	Model  string
	Tokens int
	Limits Limits
	// Wait is the additional wait that would have been needed, zero when the
	// request can never be admitted.
	Wait   time.Duration
	Reason string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for model %q: %s (tokens=%d rpm=%d tpm=%d)",
		e.Model, e.Reason, e.Tokens, e.Limits.RPM, e.Limits.TPM)
}

// Is matches ErrRateLimitExceeded.
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
