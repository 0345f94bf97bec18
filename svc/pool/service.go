package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/metrics"
)

// Service leases, reclaims and administers profiles.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now for lease start and reclaim cut-off.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService panics if store is nil.
func NewService(store Store, opts ...Option) *Service {
	if store == nil {
		panic("pool: store is required")
	}
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("pool"))
	return s
}

// Allocate leases exactly req.Count free profiles of req.Service to the
// order, or nothing. Profiles are taken in account order (oldest account
// first) and by position, so one account fills up before the next is opened.
//
// It returns *InsufficientCapacityError when not enough profiles are free and
// ErrAlreadyAllocated when the order already holds leases.
func (s *Service) Allocate(ctx context.Context, req Request) (Allocation, error) {
	now := s.now()
	if err := validateRequest(req, now); err != nil {
		return Allocation{}, err
	}

	var seats []Seat
	err := s.store.InServiceTx(ctx, req.Service, func(ctx context.Context, tx Tx) error {
		seats = seats[:0]

		has, err := tx.OrderHasLeases(ctx, req.OrderID)
		if err != nil {
			return err
		}
		if has {
			return ErrAlreadyAllocated
		}

		candidates, err := tx.FreeProfiles(ctx, req.Count)
		if err != nil {
			return err
		}
		if len(candidates) < req.Count {
			return &InsufficientCapacityError{
				Service:   req.Service,
				Requested: req.Count,
				Available: len(candidates),
			}
		}

		lease := Lease{OrderID: req.OrderID, OwnerID: req.OwnerID, Start: now, End: req.ExpiresAt}
		for _, c := range candidates {
			if err := tx.LeaseProfile(ctx, c.Profile.ID, lease); err != nil {
				return fmt.Errorf("lease profile %s: %w", c.Profile.ID, err)
			}
			seats = append(seats, seatOf(c))
		}
		return nil
	})

	attrs := []slog.Attr{
		logger.OrderID(req.OrderID),
		logger.Service(req.Service),
		slog.Int("count", req.Count),
	}
	if err != nil {
		s.metrics.Allocation(req.Service, allocationOutcome(err), 0)
		s.logger.LogAttrs(ctx, slog.LevelWarn, "allocation failed", append(attrs, logger.Error(err))...)
		return Allocation{}, err
	}

	s.metrics.Allocation(req.Service, "success", len(seats))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "profiles allocated", attrs...)

	return Allocation{
		OrderID:   req.OrderID,
		Service:   req.Service,
		Seats:     seats,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

// Reclaim frees every leased profile whose lease ended at or before now.
// Services are processed independently; a failing service does not stop
// the others, and the returned error joins every failure.
func (s *Service) Reclaim(ctx context.Context) (int, error) {
	services, err := s.store.ListServices(ctx)
	if err != nil {
		return 0, fmt.Errorf("list services: %w", err)
	}

	now := s.now()
	total := 0
	var errs []error
	for _, svc := range services {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.reclaimService(ctx, svc, now)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("reclaim %s: %w", svc, err))
		}
	}

	s.metrics.Reclaimed(total)
	if total > 0 {
		s.logger.InfoContext(ctx, "expired leases reclaimed", slog.Int("profiles", total))
	}
	return total, errors.Join(errs...)
}

func (s *Service) reclaimService(ctx context.Context, service string, now time.Time) (int, error) {
	freed := 0
	err := s.store.InServiceTx(ctx, service, func(ctx context.Context, tx Tx) error {
		freed = 0
		expired, err := tx.ExpiredLeases(ctx, now)
		if err != nil {
			return err
		}
		for _, p := range expired {
			if err := tx.SetProfileState(ctx, p.ID, ProfileLeased, ProfileFree); err != nil {
				return fmt.Errorf("free profile %s: %w", p.ID, err)
			}
			s.logger.DebugContext(ctx, "lease expired",
				logger.ProfileID(p.ID),
				logger.OrderID(p.Lease.OrderID),
				slog.Time("lease_end", p.Lease.End))
			freed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

// CreateAccountParams describes a new account. ProfileNames, when given,
// must have Capacity entries; otherwise profiles are named "Profile N".
type CreateAccountParams struct {
	Service      string
	Credential   string
	Capacity     int
	ProfileNames []string
}

// CreateAccount adds an account with Capacity free profiles.
func (s *Service) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, []Profile, error) {
	switch {
	case params.Service == "":
		return Account{}, nil, ErrEmptyService
	case params.Credential == "":
		return Account{}, nil, ErrEmptyCredential
	case params.Capacity < 1 || params.Capacity > MaxProfilesPerAccount:
		return Account{}, nil, ErrInvalidCapacity
	case len(params.ProfileNames) > 0 && len(params.ProfileNames) != params.Capacity:
		return Account{}, nil, fmt.Errorf("%w: %d names for capacity %d", ErrInvalidCapacity, len(params.ProfileNames), params.Capacity)
	}

	account := Account{
		ID:         uuid.New(),
		Service:    params.Service,
		Credential: params.Credential,
		Capacity:   params.Capacity,
		CreatedAt:  s.now(),
	}
	profiles := make([]Profile, params.Capacity)
	for i := range profiles {
		name := fmt.Sprintf("Profile %d", i+1)
		if len(params.ProfileNames) > 0 {
			name = params.ProfileNames[i]
		}
		profiles[i] = Profile{
			ID:        uuid.New(),
			AccountID: account.ID,
			Service:   account.Service,
			Name:      name,
			Position:  i + 1,
			State:     ProfileFree,
		}
	}

	if err := s.store.CreateAccount(ctx, account, profiles); err != nil {
		return Account{}, nil, fmt.Errorf("create account: %w", err)
	}
	s.logger.InfoContext(ctx, "account created",
		logger.AccountID(account.ID),
		logger.Service(account.Service),
		slog.Int("capacity", account.Capacity))
	return account, profiles, nil
}

// ReleaseProfile frees a leased profile before its lease ends.
func (s *Service) ReleaseProfile(ctx context.Context, profileID uuid.UUID) error {
	return s.changeState(ctx, profileID, ProfileLeased, ProfileFree)
}

// BlockProfile takes a free profile out of rotation.
func (s *Service) BlockProfile(ctx context.Context, profileID uuid.UUID) error {
	return s.changeState(ctx, profileID, ProfileFree, ProfileBlocked)
}

// UnblockProfile returns a blocked profile to the free pool.
func (s *Service) UnblockProfile(ctx context.Context, profileID uuid.UUID) error {
	return s.changeState(ctx, profileID, ProfileBlocked, ProfileFree)
}

func (s *Service) changeState(ctx context.Context, profileID uuid.UUID, from, to ProfileState) error {
	p, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return err
	}
	err = s.store.InServiceTx(ctx, p.Service, func(ctx context.Context, tx Tx) error {
		return tx.SetProfileState(ctx, profileID, from, to)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "profile state changed",
		logger.ProfileID(profileID),
		slog.String("from", string(from)),
		slog.String("to", string(to)))
	return nil
}

func (s *Service) Stats(ctx context.Context, service string) (Stats, error) {
	return s.store.Stats(ctx, service)
}

// Seats returns the seats currently leased to an order.
func (s *Service) Seats(ctx context.Context, orderID uuid.UUID) ([]Seat, error) {
	return s.store.SeatsByOrder(ctx, orderID)
}

func (s *Service) Account(ctx context.Context, id uuid.UUID) (Account, []Profile, error) {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return Account{}, nil, err
	}
	profiles, err := s.store.ListProfiles(ctx, id)
	if err != nil {
		return Account{}, nil, err
	}
	return a, profiles, nil
}

func validateRequest(req Request, now time.Time) error {
	switch {
	case req.OrderID == uuid.Nil:
		return fmt.Errorf("%w: missing order id", ErrInvalidRequest)
	case req.Service == "":
		return fmt.Errorf("%w: %w", ErrInvalidRequest, ErrEmptyService)
	case req.Count < 1:
		return fmt.Errorf("%w: count must be positive", ErrInvalidRequest)
	case !req.ExpiresAt.After(now):
		return fmt.Errorf("%w: lease would end before it starts", ErrInvalidRequest)
	}
	return nil
}

func allocationOutcome(err error) string {
	switch {
	case IsInsufficientCapacity(err):
		return "insufficient_capacity"
	case errors.Is(err, ErrAlreadyAllocated):
		return "already_allocated"
	default:
		return "error"
	}
}
