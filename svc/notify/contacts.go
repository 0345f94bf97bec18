package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrContactNotFound is returned when an owner has no email on file.
var ErrContactNotFound = errors.New("owner contact not found")

// Contacts resolves the email address of an order owner.
type Contacts interface {
	Email(ctx context.Context, ownerID uuid.UUID) (string, error)
}

// MemoryContacts is an in-process Contacts store.
type MemoryContacts struct {
	mu     sync.RWMutex
	emails map[uuid.UUID]string
}

func NewMemoryContacts() *MemoryContacts {
	return &MemoryContacts{emails: make(map[uuid.UUID]string)}
}

func (c *MemoryContacts) SetEmail(_ context.Context, ownerID uuid.UUID, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails[ownerID] = email
	return nil
}

func (c *MemoryContacts) Email(_ context.Context, ownerID uuid.UUID) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.emails[ownerID]
	if !ok {
		return "", ErrContactNotFound
	}
	return e, nil
}
