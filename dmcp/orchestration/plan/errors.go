package plan

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan is matched by every InvalidPlanError.
var ErrInvalidPlan = errors.New("invalid execution plan")

// InvalidPlanError reports a plan that cannot be executed as described.
type InvalidPlanError struct {
	Reason string
	Err    error
}

func (e *InvalidPlanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid plan: %s: %v", e.Reason, e.Err)
	}
	return "invalid plan: " + e.Reason
}

func (e *InvalidPlanError) Unwrap() error { return e.Err }

func (e *InvalidPlanError) Is(target error) bool { return target == ErrInvalidPlan }

func invalid(format string, args ...any) error {
	return &InvalidPlanError{Reason: fmt.Sprintf(format, args...)}
}
