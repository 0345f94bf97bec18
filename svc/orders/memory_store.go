package orders

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store guarded by a single mutex.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]Order
	proofs map[uuid.UUID]PaymentProof
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[uuid.UUID]Order),
		proofs: make(map[uuid.UUID]PaymentProof),
	}
}

func (s *MemoryStore) CreateOrder(_ context.Context, order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) GetProof(_ context.Context, orderID uuid.UUID) (PaymentProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proofs[orderID]
	if !ok {
		return PaymentProof{}, ErrProofNotFound
	}
	return cloneProof(p), nil
}

func (s *MemoryStore) Apply(_ context.Context, c Change) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[c.OrderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if o.State != c.FromState || o.Version != c.FromVersion {
		return Order{}, ErrConcurrencyConflict
	}

	o.State = c.ToState
	o.Version++
	if c.ApprovedAt != nil {
		o.ApprovedAt = cloneTime(c.ApprovedAt)
	}
	if c.ExpiresAt != nil {
		o.ExpiresAt = cloneTime(c.ExpiresAt)
	}
	if c.Comment != "" {
		o.AdminComment = c.Comment
	}
	s.orders[o.ID] = o

	if c.Proof != nil {
		p := cloneProof(*c.Proof)
		p.OrderID = o.ID
		p.Version = s.proofs[o.ID].Version + 1
		s.proofs[o.ID] = p
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) MarkFulfilled(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if o.FulfilledAt != nil {
		return nil
	}
	o.FulfilledAt = &at
	o.Version++
	s.orders[id] = o
	return nil
}

func (s *MemoryStore) ListUnfulfilled(_ context.Context) ([]Order, error) {
	out := s.filter(func(o Order) bool { return o.State == StateApproved && o.FulfilledAt == nil })
	slices.SortFunc(out, func(a, b Order) int { return a.ApprovedAt.Compare(*b.ApprovedAt) })
	return out, nil
}

func (s *MemoryStore) ListExpiring(_ context.Context, after, before time.Time) ([]Order, error) {
	out := s.filter(func(o Order) bool {
		return o.State == StateApproved && o.ExpiresAt != nil &&
			o.ExpiresAt.After(after) && !o.ExpiresAt.After(before)
	})
	slices.SortFunc(out, func(a, b Order) int { return a.ExpiresAt.Compare(*b.ExpiresAt) })
	return out, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]Order, error) {
	out := s.filter(func(o Order) bool { return o.OwnerID == ownerID })
	slices.SortFunc(out, byCreatedAt)
	return out, nil
}

func (s *MemoryStore) ListByState(_ context.Context, state State) ([]Order, error) {
	out := s.filter(func(o Order) bool { return o.State == state })
	slices.SortFunc(out, byCreatedAt)
	return out, nil
}

func (s *MemoryStore) filter(match func(Order) bool) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if match(o) {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

func byCreatedAt(a, b Order) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}
