package quota

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/entitlements/pkg/billing"
)

var (
	// ErrUnknownResource means no Definition is registered for the resource.
	ErrUnknownResource = errors.New("quota: unknown resource type")

	// ErrCountFailed wraps counting-query failures.
	ErrCountFailed = errors.New("quota: failed to count resource usage")
)

// QuotaExceededError is the expected, user-facing denial. It carries exactly
// the fields the route layer needs to render an actionable message without a
// re-query: the plan name, the numeric limit and the resource label.
type QuotaExceededError struct {
	Plan     billing.PlanType
	Limit    int64
	Resource string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s plan allows %d %s", e.Plan, e.Limit, e.Resource)
}

// IsQuotaExceeded reports whether err is (or wraps) a QuotaExceededError.
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
