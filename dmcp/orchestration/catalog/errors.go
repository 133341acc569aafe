package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrDuplicateTool     = errors.New("duplicate tool")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInvalidDescriptor = errors.New("invalid tool descriptor")
	ErrInvalidArguments  = errors.New("invalid tool arguments")
)

// DuplicateToolError is returned by Register when the name is already taken.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

func (e *DuplicateToolError) Is(target error) bool { return target == ErrDuplicateTool }

// UnknownToolError is returned by Lookup when no tool has the name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.Name)
}

func (e *UnknownToolError) Is(target error) bool { return target == ErrUnknownTool }

// InvalidDescriptorError wraps descriptor validation failures.
type InvalidDescriptorError struct {
	Name string
	Err  error
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid descriptor for tool %q: %v", e.Name, e.Err)
}

func (e *InvalidDescriptorError) Unwrap() error { return e.Err }

func (e *InvalidDescriptorError) Is(target error) bool { return target == ErrInvalidDescriptor }

// ArgumentsError lists schema violations of a tool call.
type ArgumentsError struct {
	Tool       string
	Violations []string
}

func (e *ArgumentsError) Error() string {
	return fmt.Sprintf("arguments for tool %q violate its input schema: %v", e.Tool, e.Violations)
}

func (e *ArgumentsError) Is(target error) bool { return target == ErrInvalidArguments }
