package orchestrator

import (
	"context"
	"errors"

	"github.com/pario-ai/warden/pkg/breaker"
	"github.com/pario-ai/warden/pkg/cost"
	"github.com/pario-ai/warden/pkg/models"
	"github.com/pario-ai/warden/pkg/policy"
	"github.com/pario-ai/warden/pkg/ratelimit"
	"github.com/pario-ai/warden/pkg/retry"
)

// UsageRecorder receives every committed call. Implemented by tracker.SQLiteTracker.
type UsageRecorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// AuditLogger receives the outcome of every Execute call. Implemented by audit.Logger.
type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}

// EventPublisher receives governance events. Implemented by events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Error kinds recorded in audit entries.
const (
	KindModelNotAllowed = "model_not_allowed"
	KindCostExceeded    = "cost_exceeded"
	KindRateLimited     = "rate_limited"
	KindCircuitOpen     = "circuit_open"
	KindRetryExhausted  = "retry_exhausted"
	KindCanceled        = "canceled"
	KindError           = "error"
)

// ErrorKind classifies err into one of the Kind constants. Errors that carry
// no governance sentinel are KindError; whether they stem from the caller's
// cancellation is decided against the caller's context by Execute.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, policy.ErrModelNotAllowed):
		return KindModelNotAllowed
	case errors.Is(err, cost.ErrCostExceeded):
		return KindCostExceeded
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return KindRateLimited
	case errors.Is(err, breaker.ErrOpen):
		return KindCircuitOpen
	case errors.Is(err, retry.ErrRetryExhausted):
		return KindRetryExhausted
	default:
		return KindError
	}
}

// IsGovernanceError reports whether err was raised by the governance layer
// itself rather than by the request function.
func IsGovernanceError(err error) bool {
	switch ErrorKind(err) {
	case "", KindError:
		return false
	}
	return true
}

func errorKind(ctx context.Context, err error) string {
	kind := ErrorKind(err)
	if kind == KindError && ctx.Err() != nil {
		return KindCanceled
	}
	return kind
}
