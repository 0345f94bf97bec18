package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists accounts and profiles.
//
// InServiceTx is the serialization point: implementations must guarantee
// that no two transactions for the same service observe the same free
// profile, and that the writes made through Tx commit together or not at all.
type Store interface {
	InServiceTx(ctx context.Context, service string, fn func(ctx context.Context, tx Tx) error) error

	CreateAccount(ctx context.Context, account Account, profiles []Profile) error
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	GetProfile(ctx context.Context, id uuid.UUID) (Profile, error)
	ListProfiles(ctx context.Context, accountID uuid.UUID) ([]Profile, error)
	ListServices(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, service string) (Stats, error)
	// SeatsByOrder returns the seats currently leased to orderID, in allocation order.
	SeatsByOrder(ctx context.Context, orderID uuid.UUID) ([]Seat, error)
}

// Tx is the view of one service's profiles inside InServiceTx.
type Tx interface {
	// FreeProfiles returns up to limit free profiles ordered by account
	// (created_at, id) and then profile position.
	FreeProfiles(ctx context.Context, limit int) ([]Candidate, error)
	OrderHasLeases(ctx context.Context, orderID uuid.UUID) (bool, error)
	// LeaseProfile moves a free profile to leased. It fails with
	// ErrProfileNotFree when the profile is no longer free.
	LeaseProfile(ctx context.Context, profileID uuid.UUID, lease Lease) error
	// ExpiredLeases returns leased profiles whose lease ended at or before now.
	ExpiredLeases(ctx context.Context, now time.Time) ([]Profile, error)
	GetProfile(ctx context.Context, profileID uuid.UUID) (Profile, error)
	// SetProfileState moves a profile from one state to another, clearing
	// the lease when the target is free. It fails with ErrInvalidProfileState
	// when the current state is not from.
	SetProfileState(ctx context.Context, profileID uuid.UUID, from, to ProfileState) error
}
