package cost

import (
	"errors"
	"fmt"
)

// ErrCostExceeded is returned when a job's cost ceiling is or would be crossed.
var ErrCostExceeded = errors.New("cost exceeded")

// ExceededError describes a ceiling breach.
type ExceededError struct {
	JobID string
	// Total is the ledger total the call reached (committed) or would reach (pre-check).
	Total float64
	Max   float64
	// Cost is the cost of the offending call.
	Cost float64
	// PreCheck is true when the call was refused before any I/O.
	PreCheck bool
}

func (e *ExceededError) Error() string {
	if e.PreCheck {
		return fmt.Sprintf("job %s: request would exceed cost limit: $%.4f > $%.4f", e.JobID, e.Total, e.Max)
	}
	return fmt.Sprintf("job %s exceeded max cost: $%.4f > $%.4f", e.JobID, e.Total, e.Max)
}

// Is matches ErrCostExceeded.
func (e *ExceededError) Is(target error) bool {
	return target == ErrCostExceeded
}

// Overshoot is how far Total lies beyond Max.
func (e *ExceededError) Overshoot() float64 {
	return e.Total - e.Max
}
