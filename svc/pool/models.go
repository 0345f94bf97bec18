package pool

import (
	"time"

	"github.com/google/uuid"
)

// ProfileState is the lifecycle state of a profile.
type ProfileState string

const (
	ProfileFree    ProfileState = "free"
	ProfileLeased  ProfileState = "leased"
	ProfileBlocked ProfileState = "blocked"
)

// MaxProfilesPerAccount bounds an account's capacity.
const MaxProfilesPerAccount = 6

// Account is one credential-bearing subscription with several profiles.
type Account struct {
	ID         uuid.UUID `json:"id"`
	Service    string    `json:"service"`
	Credential string    `json:"-"`
	Capacity   int       `json:"capacity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Lease binds a profile to an order until End.
type Lease struct {
	OrderID uuid.UUID `json:"order_id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

// Profile is one leasable slot of an account. Lease is nil iff State is free.
type Profile struct {
	ID        uuid.UUID    `json:"id"`
	AccountID uuid.UUID    `json:"account_id"`
	Service   string       `json:"service"`
	Name      string       `json:"name"`
	Position  int          `json:"position"`
	State     ProfileState `json:"state"`
	Lease     *Lease       `json:"lease,omitempty"`
	Version   int64        `json:"version"`
}

// Candidate is a free profile together with its account, as returned in
// allocation order.
type Candidate struct {
	Profile Profile
	Account Account
}

// Request asks for Count profiles of Service for one order.
type Request struct {
	OrderID   uuid.UUID
	OwnerID   uuid.UUID
	Service   string
	Count     int
	ExpiresAt time.Time
}

// Seat is what the customer receives for one leased profile.
type Seat struct {
	ProfileID         uuid.UUID `json:"profile_id"`
	ProfileName       string    `json:"profile_name"`
	AccountID         uuid.UUID `json:"account_id"`
	AccountCredential string    `json:"account_credential"`
}

// Allocation is the outcome of a successful Allocate.
type Allocation struct {
	OrderID   uuid.UUID `json:"order_id"`
	Service   string    `json:"service"`
	Seats     []Seat    `json:"seats"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats counts the profiles of one service by state.
type Stats struct {
	Service  string `json:"service"`
	Accounts int    `json:"accounts"`
	Free     int    `json:"free"`
	Leased   int    `json:"leased"`
	Blocked  int    `json:"blocked"`
}

// Total is the number of profiles across all states.
func (s Stats) Total() int {
	return s.Free + s.Leased + s.Blocked
}
