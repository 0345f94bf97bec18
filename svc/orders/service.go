package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/metrics"
	"github.com/dmitrymomot/sharepool/svc/notify"
	"github.com/dmitrymomot/sharepool/svc/pool"
	"github.com/dmitrymomot/sharepool/svc/pricing"
	"github.com/dmitrymomot/sharepool/svc/validation"
)

// Validator classifies a payment proof.
type Validator interface {
	Validate(ctx context.Context, req validation.Request) validation.Verdict
}

// Allocator leases profiles for an approved order. pool.Service satisfies it.
type Allocator interface {
	Allocate(ctx context.Context, req pool.Request) (pool.Allocation, error)
	Seats(ctx context.Context, orderID uuid.UUID) ([]pool.Seat, error)
}

// Pricer fixes the price of a new order.
type Pricer interface {
	Quote(service string, profiles, months int) (pricing.Quote, error)
}

// Service drives orders through their lifecycle.
type Service struct {
	store      Store
	validator  Validator
	allocator  Allocator
	pricer     Pricer
	dispatcher notify.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
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

// WithDispatcher sets where customer notifications go. Defaults to
// notify.Discard.
func WithDispatcher(d notify.Dispatcher) Option {
	return func(s *Service) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService panics if any dependency is nil.
func NewService(store Store, validator Validator, allocator Allocator, pricer Pricer, opts ...Option) *Service {
	if store == nil {
		panic("orders: store is required")
	}
	if validator == nil {
		panic("orders: validator is required")
	}
	if allocator == nil {
		panic("orders: allocator is required")
	}
	if pricer == nil {
		panic("orders: pricer is required")
	}

	s := &Service{
		store:      store,
		validator:  validator,
		allocator:  allocator,
		pricer:     pricer,
		dispatcher: notify.Discard,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("orders"))
	return s
}

type CreateOrderParams struct {
	OwnerID  uuid.UUID
	Service  string
	Profiles int
	Months   int
}

// CreateOrder prices and stores a new pending order. The price is fixed
// here and never changes afterwards.
func (s *Service) CreateOrder(ctx context.Context, params CreateOrderParams) (Order, error) {
	if params.OwnerID == uuid.Nil {
		return Order{}, errors.New("owner id is required")
	}
	quote, err := s.pricer.Quote(params.Service, params.Profiles, params.Months)
	if err != nil {
		return Order{}, fmt.Errorf("price order: %w", err)
	}

	order := Order{
		ID:        uuid.New(),
		OwnerID:   params.OwnerID,
		Service:   params.Service,
		Profiles:  params.Profiles,
		Months:    params.Months,
		Price:     quote.Total,
		Currency:  quote.Currency,
		State:     StatePending,
		CreatedAt: s.now().UTC(),
		Version:   1,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}

	s.logger.InfoContext(ctx, "order created",
		logger.OrderID(order.ID),
		logger.OwnerID(order.OwnerID),
		logger.Service(order.Service),
		slog.String("price", order.Price.String()))
	return order, nil
}

// SubmitProof validates a payment proof for a pending order and records it
// together with the resulting transition. An auto-approved order is
// allocated right away; allocation errors are returned alongside the
// approved order.
func (s *Service) SubmitProof(ctx context.Context, orderID uuid.UUID, proofRef string) (Order, error) {
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return Order{}, ErrEmptyProofRef
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := CheckAcceptsProof(order); err != nil {
		return Order{}, err
	}

	verdict := s.validator.Validate(ctx, validation.Request{
		ProofRef:       proofRef,
		ExpectedAmount: order.Price,
		Currency:       order.Currency,
	})

	now := s.now().UTC()
	proof := &PaymentProof{
		OrderID:     order.ID,
		Ref:         proofRef,
		Extraction:  verdict.Extraction,
		Confidence:  verdict.Confidence,
		State:       ProofPending,
		SubmittedAt: now,
	}
	change := Change{
		OrderID:     order.ID,
		FromState:   order.State,
		FromVersion: order.Version,
		Proof:       proof,
	}

	event := EventSubmitProofReview
	if verdict.Decision == validation.DecisionAutoApprove {
		event = EventSubmitProofAuto
		proof.State = ProofApproved
		proof.AutoValidated = true
		proof.ValidatedAt = &now
		expires := order.expiry(now)
		change.ApprovedAt = &now
		change.ExpiresAt = &expires
	}

	order, err = s.apply(ctx, order, event, change)
	if err != nil {
		return Order{}, err
	}
	if order.State != StateApproved {
		return order, nil
	}
	// The approval is committed; the caller going away must not strand it
	// without profiles.
	ctx = context.WithoutCancel(ctx)
	s.announceApproval(ctx, order, true)
	return s.fulfil(ctx, order)
}

// AdminApprove approves a pending or reviewing order, marks its proof (if
// any) as manually validated and allocates profiles. A capacity shortfall
// leaves the order approved and unfulfilled; the approved order is returned
// together with the allocation error.
func (s *Service) AdminApprove(ctx context.Context, orderID uuid.UUID, comment string) (Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := checkLegal(order, EventApprove); err != nil {
		return Order{}, err
	}

	now := s.now().UTC()
	expires := order.expiry(now)
	change := Change{
		OrderID:     order.ID,
		FromState:   order.State,
		FromVersion: order.Version,
		ApprovedAt:  &now,
		ExpiresAt:   &expires,
		Comment:     strings.TrimSpace(comment),
	}
	proof, err := s.existingProof(ctx, order.ID)
	if err != nil {
		return Order{}, err
	}
	if proof != nil {
		proof.State = ProofApproved
		proof.ManualValidated = true
		proof.ValidatedAt = &now
		change.Proof = proof
	}

	order, err = s.apply(ctx, order, EventApprove, change)
	if err != nil {
		return Order{}, err
	}
	ctx = context.WithoutCancel(ctx)
	s.announceApproval(ctx, order, false)
	return s.fulfil(ctx, order)
}

// AdminReject rejects a pending or reviewing order. Nothing is leased.
func (s *Service) AdminReject(ctx context.Context, orderID uuid.UUID, comment string) (Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := checkLegal(order, EventReject); err != nil {
		return Order{}, err
	}

	now := s.now().UTC()
	comment = strings.TrimSpace(comment)
	change := Change{
		OrderID:     order.ID,
		FromState:   order.State,
		FromVersion: order.Version,
		Comment:     comment,
	}
	proof, err := s.existingProof(ctx, order.ID)
	if err != nil {
		return Order{}, err
	}
	if proof != nil {
		proof.State = ProofRejected
		proof.ValidatedAt = &now
		change.Proof = proof
	}

	order, err = s.apply(ctx, order, EventReject, change)
	if err != nil {
		return Order{}, err
	}

	s.dispatch(ctx, notify.PaymentRejected{OrderID: order.ID, OwnerID: order.OwnerID, Reason: comment})
	return order, nil
}

// Cancel withdraws a pending order on behalf of its owner.
func (s *Service) Cancel(ctx context.Context, orderID, ownerID uuid.UUID) (Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.OwnerID != ownerID {
		return Order{}, ErrNotOwner
	}
	if err := checkLegal(order, EventCancel); err != nil {
		return Order{}, err
	}
	return s.apply(ctx, order, EventCancel, Change{
		OrderID:     order.ID,
		FromState:   order.State,
		FromVersion: order.Version,
	})
}

// RetryAllocation re-runs allocation for an approved order that has no
// profiles yet. It is the operator's answer to an InsufficientCapacityError.
func (s *Service) RetryAllocation(ctx context.Context, orderID uuid.UUID) (Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	switch {
	case order.State != StateApproved:
		return Order{}, fmt.Errorf("%w: state %s", ErrNotApproved, order.State)
	case order.Fulfilled():
		return Order{}, ErrAlreadyFulfilled
	case !order.ExpiresAt.After(s.now()):
		return Order{}, ErrOrderExpired
	}

	s.logger.InfoContext(ctx, "retrying allocation", logger.OrderID(order.ID))
	return s.fulfil(ctx, order)
}

func (s *Service) Get(ctx context.Context, orderID uuid.UUID) (Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

func (s *Service) Proof(ctx context.Context, orderID uuid.UUID) (PaymentProof, error) {
	return s.store.GetProof(ctx, orderID)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Order, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// ListForReview returns the orders waiting for an operator decision.
func (s *Service) ListForReview(ctx context.Context) ([]Order, error) {
	return s.store.ListByState(ctx, StateReviewing)
}

// ListUnfulfilled returns approved orders still waiting for profiles.
func (s *Service) ListUnfulfilled(ctx context.Context) ([]Order, error) {
	return s.store.ListUnfulfilled(ctx)
}

// CheckAcceptsProof returns an *InvalidStateError unless a payment proof may
// be submitted for order. Both submit events share the same sources, so the
// answer is known before the proof is stored or validated.
func CheckAcceptsProof(order Order) error {
	return checkLegal(order, EventSubmitProofReview)
}

func checkLegal(order Order, event Event) error {
	if !Transitions.CanFire(order.State, event) {
		return &InvalidStateError{OrderID: order.ID, State: order.State, Event: event}
	}
	return nil
}

func (s *Service) existingProof(ctx context.Context, orderID uuid.UUID) (*PaymentProof, error) {
	p, err := s.store.GetProof(ctx, orderID)
	if errors.Is(err, ErrProofNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load proof: %w", err)
	}
	return &p, nil
}

// apply fires event against the order read by the caller and writes the
// change guarded by that read's state and version.
func (s *Service) apply(ctx context.Context, order Order, event Event, change Change) (Order, error) {
	to, err := Transitions.Next(order.State, event)
	if err != nil {
		return Order{}, &InvalidStateError{OrderID: order.ID, State: order.State, Event: event, cause: err}
	}
	change.ToState = to

	updated, err := s.store.Apply(ctx, change)
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			s.logger.WarnContext(ctx, "lost transition race",
				logger.OrderID(order.ID),
				logger.Event(string(event)))
		}
		return Order{}, fmt.Errorf("%s order %s: %w", event, order.ID, err)
	}

	s.metrics.Transition(string(event), string(to))
	s.logger.InfoContext(ctx, "order transitioned",
		logger.OrderID(order.ID),
		logger.Event(string(event)),
		slog.String("from", string(order.State)),
		slog.String("to", string(to)))
	return updated, nil
}

// fulfil leases profiles for an approved order. On failure the order
// stays approved and unfulfilled.
func (s *Service) fulfil(ctx context.Context, order Order) (Order, error) {
	if order.ExpiresAt == nil {
		return order, fmt.Errorf("%w: order %s has no expiry", ErrNotApproved, order.ID)
	}

	alloc, err := s.allocator.Allocate(ctx, pool.Request{
		OrderID:   order.ID,
		OwnerID:   order.OwnerID,
		Service:   order.Service,
		Count:     order.Profiles,
		ExpiresAt: *order.ExpiresAt,
	})
	if errors.Is(err, pool.ErrAlreadyAllocated) {
		// Leases exist from an earlier attempt that failed to record
		// fulfilment, so the owner was never told either.
		return s.recoverFulfilment(ctx, order)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "order approved but not fulfilled",
			logger.OrderID(order.ID),
			logger.Service(order.Service),
			logger.Error(err))
		return order, fmt.Errorf("allocate order %s: %w", order.ID, err)
	}

	if err := s.markFulfilled(ctx, &order); err != nil {
		return order, err
	}
	s.announceCredentials(ctx, order, alloc.Seats, alloc.ExpiresAt)
	return order, nil
}

// recoverFulfilment records fulfilment for an order whose leases already
// exist and sends the credentials from the stored seats.
func (s *Service) recoverFulfilment(ctx context.Context, order Order) (Order, error) {
	seats, err := s.allocator.Seats(ctx, order.ID)
	if err != nil {
		return order, fmt.Errorf("load seats for order %s: %w", order.ID, err)
	}
	if err := s.markFulfilled(ctx, &order); err != nil {
		return order, err
	}
	s.logger.InfoContext(ctx, "recorded fulfilment of existing leases",
		logger.OrderID(order.ID),
		slog.Int("seats", len(seats)))
	s.announceCredentials(ctx, order, seats, *order.ExpiresAt)
	return order, nil
}

func (s *Service) announceCredentials(ctx context.Context, order Order, seats []pool.Seat, expiresAt time.Time) {
	creds := make([]notify.Credential, 0, len(seats))
	for _, seat := range seats {
		creds = append(creds, notify.Credential{
			AccountCredential: seat.AccountCredential,
			ProfileName:       seat.ProfileName,
		})
	}
	s.dispatch(ctx, notify.CredentialsReady{
		OrderID:   order.ID,
		OwnerID:   order.OwnerID,
		Service:   order.Service,
		Leases:    creds,
		ExpiresAt: expiresAt,
	})
}

func (s *Service) markFulfilled(ctx context.Context, order *Order) error {
	now := s.now().UTC()
	if err := s.store.MarkFulfilled(ctx, order.ID, now); err != nil {
		return fmt.Errorf("mark order %s fulfilled: %w", order.ID, err)
	}
	if order.FulfilledAt == nil {
		order.FulfilledAt = &now
		order.Version++
	}
	return nil
}

func (s *Service) announceApproval(ctx context.Context, order Order, automatic bool) {
	s.dispatch(ctx, notify.OrderApproved{
		OrderID:   order.ID,
		OwnerID:   order.OwnerID,
		Service:   order.Service,
		Price:     order.Price,
		Currency:  order.Currency,
		ExpiresAt: *order.ExpiresAt,
		Automatic: automatic,
	})
}

func (s *Service) dispatch(ctx context.Context, event notify.Event) {
	if err := s.dispatcher.Dispatch(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "notification not delivered",
			logger.Event(event.Name()),
			logger.OrderID(event.Order()),
			logger.Error(err))
	}
}

func (o Order) expiry(approvedAt time.Time) time.Time {
	return approvedAt.AddDate(0, o.Months, 0)
}
