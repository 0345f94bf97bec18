package orders

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrProofNotFound       = errors.New("payment proof not found")
	ErrConcurrencyConflict = errors.New("order was modified concurrently")
	ErrEmptyProofRef       = errors.New("proof reference is required")
	ErrNotApproved         = errors.New("order is not approved")
	ErrAlreadyFulfilled    = errors.New("order is already fulfilled")
	ErrOrderExpired        = errors.New("order has expired")
	ErrNotOwner            = errors.New("order belongs to another owner")
)

// InvalidStateError reports an event that the legality matrix does not
// allow in the order's current state.
type InvalidStateError struct {
	OrderID uuid.UUID
	State   State
	Event   Event
	cause   error
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s: event %s is not allowed in state %s", e.OrderID, e.Event, e.State)
}

func (e *InvalidStateError) Unwrap() error { return e.cause }

// IsInvalidState reports whether err wraps an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}
