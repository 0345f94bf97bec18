package pool

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrAlreadyAllocated    = errors.New("order already has leased profiles")
	ErrProfileNotFree      = errors.New("profile is not free")
	ErrInvalidProfileState = errors.New("profile is not in the required state")
	ErrInvalidCapacity     = errors.New("account capacity must be between 1 and 6")
	ErrInvalidRequest      = errors.New("invalid allocation request")
	ErrEmptyService        = errors.New("service is required")
	ErrEmptyCredential     = errors.New("account credential is required")
)

// InsufficientCapacityError reports that fewer free profiles exist than an
// order needs. Nothing is leased when it is returned.
type InsufficientCapacityError struct {
	Service   string
	Requested int
	Available int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity for %s: requested %d, available %d", e.Service, e.Requested, e.Available)
}

// IsInsufficientCapacity reports whether err wraps an InsufficientCapacityError.
func IsInsufficientCapacity(err error) bool {
	var e *InsufficientCapacityError
	return errors.As(err, &e)
}
