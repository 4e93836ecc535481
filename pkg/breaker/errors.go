package breaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrOpen is returned when the breaker refuses a call without invoking it.
var ErrOpen = errors.New("circuit breaker open")

// OpenError carries the refused circuit's details.
type OpenError struct {
	Name         string
	FailureCount int
	// RetryAfter is the remaining time until a trial call is permitted.
	// Zero while a trial call is already in flight.
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open: too many failures (%d)", e.Name, e.FailureCount)
}

// Is matches ErrOpen.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}
