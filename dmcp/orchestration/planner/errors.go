package planner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPlannerTimeout is matched by PlannerTimeoutError.
	ErrPlannerTimeout = errors.New("planner timed out")
	// ErrTransport is matched by TransportError.
	ErrTransport = errors.New("planner transport failure")
)

// PlannerTimeoutError is returned when the remote backend exceeds its budget.
type PlannerTimeoutError struct {
	Timeout time.Duration
}

func (e *PlannerTimeoutError) Error() string {
	return fmt.Sprintf("planner did not answer within %s", e.Timeout)
}

func (e *PlannerTimeoutError) Is(target error) bool {
	return target == ErrPlannerTimeout || target == context.DeadlineExceeded
}

// TransportError wraps provider and rate limiter failures.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "planner transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
