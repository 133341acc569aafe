package executor

import (
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/dynamic-mcp/dmcp/orchestration/plan"
)

var (
	// ErrToolInvocation is matched by every ToolInvocationError.
	ErrToolInvocation = errors.New("tool invocation failed")
	// ErrToolTimeout is wrapped when a tool exceeds its time budget.
	ErrToolTimeout = errors.New("tool timed out")
	// ErrToolPanic is wrapped when a tool panics.
	ErrToolPanic = errors.New("tool panicked")
	// ErrTooManySteps is returned for plans longer than the configured maximum.
	ErrTooManySteps = errors.New("plan exceeds the step limit")
)

// ToolInvocationError wraps a failure raised while invoking one step's tool.
type ToolInvocationError struct {
	Tool string
	Step int
	Err  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("step %d: tool %s: %v", e.Step, e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

func (e *ToolInvocationError) Is(target error) bool { return target == ErrToolInvocation }

// ExecutionFailure is the structured result of an aborted execution. Records
// holds every step attempted up to and including the failing one.
type ExecutionFailure struct {
	SessionID string
	Plan      *plan.ExecutionPlan
	Records   []Record
	StepIndex int // -1 when the plan was rejected before any step ran
	Err       error
}

func (e *ExecutionFailure) Error() string {
	if e.StepIndex < 0 {
		return fmt.Sprintf("execution %s failed: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("execution %s failed at step %d: %v", e.SessionID, e.StepIndex, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }
