package resolve

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvedPlaceholder is matched by every UnresolvedPlaceholderError.
var ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")

// UnresolvedPlaceholderError is returned when every resolution rule failed.
type UnresolvedPlaceholderError struct {
	Token         string
	AvailableKeys []string // sorted context keys at the time of failure
}

func (e *UnresolvedPlaceholderError) Error() string {
	return fmt.Sprintf("placeholder {{%s}} could not be resolved; available keys: [%s]",
		e.Token, strings.Join(e.AvailableKeys, ", "))
}

func (e *UnresolvedPlaceholderError) Is(target error) bool { return target == ErrUnresolvedPlaceholder }
