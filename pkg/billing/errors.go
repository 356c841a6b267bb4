package billing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUserNotFound         = errors.New("billing: user not found")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")

	// ErrUnresolvableLinkage means an event carried no usable user linkage
	// and no existing subscription row could recover it. It is reported to
	// the exception sink before being returned so an audit trail survives
	// the caller's retry/dead-letter handling.
	ErrUnresolvableLinkage = errors.New("billing: cannot resolve user for subscription event")

	ErrNoBillableLineItem = errors.New("billing: event carries no billable line item")
	ErrProviderError      = errors.New("billing: provider request failed")
	ErrStoreError         = errors.New("billing: store operation failed")
)

// ValidationError describes a malformed event payload. There is no prior row
// to recover from, so validation failures always propagate to the caller.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError from field/reason pairs.
func NewValidationError(pairs ...string) *ValidationError {
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[pairs[i]] = pairs[i+1]
	}
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "billing: invalid event payload"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, reason := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, reason))
	}
	return "billing: invalid event payload: " + strings.Join(parts, ", ")
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
