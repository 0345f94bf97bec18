package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists orders and their proofs.
type Store interface {
	CreateOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	GetProof(ctx context.Context, orderID uuid.UUID) (PaymentProof, error)

	// Apply performs c atomically and returns the updated order. It returns
	// ErrConcurrencyConflict when the order is no longer in c.FromState at
	// c.FromVersion.
	Apply(ctx context.Context, c Change) (Order, error)

	// MarkFulfilled sets fulfilled-at once; it is a no-op for an order that
	// is already fulfilled.
	MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListUnfulfilled returns approved orders without fulfilled-at, oldest
	// approval first.
	ListUnfulfilled(ctx context.Context) ([]Order, error)
	// ListExpiring returns approved orders with after < expires-at <= before.
	ListExpiring(ctx context.Context, after, before time.Time) ([]Order, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Order, error)
	ListByState(ctx context.Context, state State) ([]Order, error)
}
