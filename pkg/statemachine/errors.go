package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTable          = errors.New("statemachine: table has no transitions")
	ErrDuplicateTransition = errors.New("statemachine: duplicate transition for state and event")
)

// TransitionError is returned by Next when event is not legal in From.
type TransitionError struct {
	From  string
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("statemachine: %s is not allowed in state %s", e.Event, e.From)
}

// IsTransitionError reports whether err wraps a *TransitionError.
func IsTransitionError(err error) bool {
	var e *TransitionError
	return errors.As(err, &e)
}
