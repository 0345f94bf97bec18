package orders_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sharepool/svc/notify"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/pool"
	"github.com/dmitrymomot/sharepool/svc/pricing"
	"github.com/dmitrymomot/sharepool/svc/validation"
)

const catalogYAML = `
currency: USD
services:
  netflix:
    monthly_price: "4.50"
    max_profiles: 4
`

var now = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

type validatorFunc func(ctx context.Context, req validation.Request) validation.Verdict

func (f validatorFunc) Validate(ctx context.Context, req validation.Request) validation.Verdict {
	return f(ctx, req)
}

func verdict(d validation.Decision, confidence int) orders.Validator {
	return validatorFunc(func(_ context.Context, req validation.Request) validation.Verdict {
		amount := req.ExpectedAmount
		return validation.Verdict{
			Decision:   d,
			Confidence: confidence,
			Extraction: &validation.Extraction{Amount: &amount, Confidence: confidence},
		}
	})
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Dispatch(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name())
	}
	return out
}

type fixture struct {
	svc    *orders.Service
	pool   *pool.Service
	events *recorder
}

func newFixture(t *testing.T, v orders.Validator, freeProfiles int) fixture {
	t.Helper()
	return buildFixture(t, orders.NewMemoryStore(), v, freeProfiles, nil)
}

// buildFixture lets a test swap the order store and wrap the event recorder.
func buildFixture(t *testing.T, store orders.Store, v orders.Validator, freeProfiles int, wrap func(*recorder) notify.Dispatcher) fixture {
	t.Helper()

	catalog, err := pricing.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	clock := func() time.Time { return now }
	ps := pool.NewService(pool.NewMemoryStore(), pool.WithClock(clock))
	if freeProfiles > 0 {
		addAccount(t, ps, freeProfiles)
	}

	rec := &recorder{}
	var dispatcher notify.Dispatcher = rec
	if wrap != nil {
		dispatcher = wrap(rec)
	}
	svc := orders.NewService(store, v, ps, catalog,
		orders.WithClock(clock),
		orders.WithDispatcher(dispatcher))
	return fixture{svc: svc, pool: ps, events: rec}
}

func addAccount(t *testing.T, ps *pool.Service, capacity int) {
	t.Helper()
	_, _, err := ps.CreateAccount(context.Background(), pool.CreateAccountParams{
		Service:    "netflix",
		Credential: "family@example.com:secret",
		Capacity:   capacity,
	})
	require.NoError(t, err)
}

func (f fixture) create(t *testing.T, profiles int) orders.Order {
	t.Helper()
	o, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderParams{
		OwnerID:  uuid.New(),
		Service:  "netflix",
		Profiles: profiles,
		Months:   1,
	})
	require.NoError(t, err)
	return o
}

func (f fixture) stats(t *testing.T) pool.Stats {
	t.Helper()
	st, err := f.pool.Stats(context.Background(), "netflix")
	require.NoError(t, err)
	return st
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 0), 0)
	o := f.create(t, 2)

	assert.Equal(t, orders.StatePending, o.State)
	assert.True(t, o.Price.Equal(decimal.RequireFromString("9")))
	assert.Equal(t, "USD", o.Currency)
	assert.Nil(t, o.ExpiresAt)

	_, err := f.svc.CreateOrder(context.Background(), orders.CreateOrderParams{
		OwnerID: uuid.New(), Service: "netflix", Profiles: 5, Months: 1,
	})
	assert.ErrorIs(t, err, pricing.ErrInvalidProfileCount)
}

func TestSubmitProof_AutoApprove(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionAutoApprove, 95), 4)
	o := f.create(t, 2)

	got, err := f.svc.SubmitProof(context.Background(), o.ID, "proofs/abc.png")
	require.NoError(t, err)

	assert.Equal(t, orders.StateApproved, got.State)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 1, 0), *got.ExpiresAt)
	assert.True(t, got.Fulfilled())

	proof, err := f.svc.Proof(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.ProofApproved, proof.State)
	assert.True(t, proof.AutoValidated)
	assert.False(t, proof.ManualValidated)
	assert.Equal(t, 95, proof.Confidence)
	require.NotNil(t, proof.Extraction)

	assert.Equal(t, 2, f.stats(t).Leased)
	assert.Equal(t, []string{notify.EventOrderApproved, notify.EventCredentialsReady}, f.events.names())

	ready := f.events.events[1].(notify.CredentialsReady)
	assert.Len(t, ready.Leases, 2)
	assert.Equal(t, *got.ExpiresAt, ready.ExpiresAt)
}

func TestSubmitProof_NeedsReview(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 60), 4)
	o := f.create(t, 1)

	got, err := f.svc.SubmitProof(context.Background(), o.ID, "proofs/abc.png")
	require.NoError(t, err)
	assert.Equal(t, orders.StateReviewing, got.State)
	assert.Nil(t, got.ExpiresAt)

	proof, err := f.svc.Proof(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.ProofPending, proof.State)
	assert.Nil(t, proof.ValidatedAt)
	assert.Zero(t, f.stats(t).Leased)

	queue, err := f.svc.ListForReview(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, o.ID, queue[0].ID)
}

func TestSubmitProof_Illegal(t *testing.T) {
	t.Parallel()

	calls := 0
	v := validatorFunc(func(context.Context, validation.Request) validation.Verdict {
		calls++
		return validation.Verdict{Decision: validation.DecisionNeedsReview}
	})
	f := newFixture(t, v, 1)
	o := f.create(t, 1)

	_, err := f.svc.SubmitProof(context.Background(), o.ID, "  ")
	assert.ErrorIs(t, err, orders.ErrEmptyProofRef)

	_, err = f.svc.SubmitProof(context.Background(), uuid.New(), "ref")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.svc.SubmitProof(context.Background(), o.ID, "ref")
	require.NoError(t, err)
	_, err = f.svc.SubmitProof(context.Background(), o.ID, "ref-2")
	assert.True(t, orders.IsInvalidState(err))
	assert.Equal(t, 1, calls)
}

func TestAdminApprove_FromReview(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 70), 2)
	o := f.create(t, 1)
	_, err := f.svc.SubmitProof(context.Background(), o.ID, "ref")
	require.NoError(t, err)

	got, err := f.svc.AdminApprove(context.Background(), o.ID, " looks fine ")
	require.NoError(t, err)
	assert.Equal(t, orders.StateApproved, got.State)
	assert.Equal(t, "looks fine", got.AdminComment)
	assert.True(t, got.Fulfilled())

	proof, err := f.svc.Proof(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.ProofApproved, proof.State)
	assert.True(t, proof.ManualValidated)
	assert.False(t, proof.AutoValidated)
	assert.Equal(t, int64(2), proof.Version)
}

type mockAllocator struct{ mock.Mock }

func (m *mockAllocator) Allocate(ctx context.Context, req pool.Request) (pool.Allocation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(pool.Allocation), args.Error(1)
}

func (m *mockAllocator) Seats(ctx context.Context, orderID uuid.UUID) ([]pool.Seat, error) {
	args := m.Called(ctx, orderID)
	seats, _ := args.Get(0).([]pool.Seat)
	return seats, args.Error(1)
}

func TestAdminApprove_Twice(t *testing.T) {
	t.Parallel()

	catalog, err := pricing.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	alloc := &mockAllocator{}
	alloc.On("Allocate", mock.Anything, mock.MatchedBy(func(r pool.Request) bool {
		return r.Count == 1 && r.Service == "netflix"
	})).Return(pool.Allocation{Seats: []pool.Seat{{ProfileName: "Profile 1"}}}, nil).Once()

	rec := &recorder{}
	svc := orders.NewService(orders.NewMemoryStore(), verdict(validation.DecisionNeedsReview, 0), alloc, catalog,
		orders.WithClock(func() time.Time { return now }),
		orders.WithDispatcher(rec))

	o, err := svc.CreateOrder(context.Background(), orders.CreateOrderParams{
		OwnerID: uuid.New(), Service: "netflix", Profiles: 1, Months: 3,
	})
	require.NoError(t, err)

	_, err = svc.AdminApprove(context.Background(), o.ID, "")
	require.NoError(t, err)

	_, err = svc.AdminApprove(context.Background(), o.ID, "")
	var stateErr *orders.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, orders.StateApproved, stateErr.State)
	assert.Equal(t, orders.EventApprove, stateErr.Event)

	alloc.AssertExpectations(t)
	assert.Len(t, rec.names(), 2)
}

func TestAdminApprove_InsufficientCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 0), 1)
	o := f.create(t, 2)

	got, err := f.svc.AdminApprove(context.Background(), o.ID, "")
	require.Error(t, err)
	assert.True(t, pool.IsInsufficientCapacity(err))
	assert.Equal(t, orders.StateApproved, got.State)
	assert.False(t, got.Fulfilled())
	assert.Zero(t, f.stats(t).Leased)
	assert.Equal(t, []string{notify.EventOrderApproved}, f.events.names())

	pending, err := f.svc.ListUnfulfilled(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, o.ID, pending[0].ID)

	addAccount(t, f.pool, 2)
	got, err = f.svc.RetryAllocation(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, got.Fulfilled())
	assert.Equal(t, 2, f.stats(t).Leased)

	_, err = f.svc.RetryAllocation(context.Background(), o.ID)
	assert.ErrorIs(t, err, orders.ErrAlreadyFulfilled)

	pending, err = f.svc.ListUnfulfilled(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRetryAllocation_NotApproved(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 0), 1)
	o := f.create(t, 1)

	_, err := f.svc.RetryAllocation(context.Background(), o.ID)
	assert.ErrorIs(t, err, orders.ErrNotApproved)
}

func TestAdminReject(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 40), 3)
	o := f.create(t, 1)
	_, err := f.svc.SubmitProof(context.Background(), o.ID, "ref")
	require.NoError(t, err)

	got, err := f.svc.AdminReject(context.Background(), o.ID, "amount does not match")
	require.NoError(t, err)
	assert.Equal(t, orders.StateRejected, got.State)
	assert.Nil(t, got.ExpiresAt)
	assert.Zero(t, f.stats(t).Leased)

	proof, err := f.svc.Proof(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.ProofRejected, proof.State)

	require.Equal(t, []string{notify.EventPaymentRejected}, f.events.names())
	assert.Equal(t, "amount does not match", f.events.events[0].(notify.PaymentRejected).Reason)

	_, err = f.svc.AdminApprove(context.Background(), o.ID, "")
	assert.True(t, orders.IsInvalidState(err))
}

func TestCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 0), 0)
	o := f.create(t, 1)

	_, err := f.svc.Cancel(context.Background(), o.ID, uuid.New())
	assert.ErrorIs(t, err, orders.ErrNotOwner)

	got, err := f.svc.Cancel(context.Background(), o.ID, o.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateCancelled, got.State)
	assert.Equal(t, o.Version+1, got.Version)

	_, err = f.svc.Cancel(context.Background(), o.ID, o.OwnerID)
	assert.True(t, orders.IsInvalidState(err))
	_, err = f.svc.SubmitProof(context.Background(), o.ID, "ref")
	assert.True(t, orders.IsInvalidState(err))
}

func TestAdminApprove_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionNeedsReview, 0), 6)
	o := f.create(t, 2)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		handled   int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AdminApprove(context.Background(), o.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, orders.ErrConcurrencyConflict), orders.IsInvalidState(err):
				handled++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, handled)
	assert.Equal(t, 2, f.stats(t).Leased)
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	states := []orders.State{orders.StatePending, orders.StateReviewing, orders.StateApproved, orders.StateRejected, orders.StateCancelled}
	events := []orders.Event{orders.EventSubmitProofAuto, orders.EventSubmitProofReview, orders.EventApprove, orders.EventReject, orders.EventCancel}

	legal := map[orders.State]map[orders.Event]orders.State{
		orders.StatePending: {
			orders.EventSubmitProofAuto:   orders.StateApproved,
			orders.EventSubmitProofReview: orders.StateReviewing,
			orders.EventApprove:           orders.StateApproved,
			orders.EventReject:            orders.StateRejected,
			orders.EventCancel:            orders.StateCancelled,
		},
		orders.StateReviewing: {
			orders.EventApprove: orders.StateApproved,
			orders.EventReject:  orders.StateRejected,
		},
	}

	for _, s := range states {
		for _, e := range events {
			to, err := orders.Transitions.Next(s, e)
			want, ok := legal[s][e]
			assert.Equal(t, ok, orders.Transitions.CanFire(s, e), "%s --%s-->", s, e)
			if ok {
				assert.NoError(t, err, "%s --%s-->", s, e)
				assert.Equal(t, want, to)
			} else {
				assert.Error(t, err, "%s --%s--> must be illegal", s, e)
			}
		}
	}
}

// flakyFulfilStore fails the first MarkFulfilled calls, as a dropped
// connection would after the leases were committed.
type flakyFulfilStore struct {
	*orders.MemoryStore
	failures atomic.Int32
}

func (s *flakyFulfilStore) MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return s.MemoryStore.MarkFulfilled(ctx, id, at)
}

func TestRetryAllocation_RecoversUnrecordedFulfilment(t *testing.T) {
	t.Parallel()

	store := &flakyFulfilStore{MemoryStore: orders.NewMemoryStore()}
	store.failures.Store(1)
	f := buildFixture(t, store, verdict(validation.DecisionNeedsReview, 0), 4, nil)
	o := f.create(t, 2)

	got, err := f.svc.AdminApprove(context.Background(), o.ID, "")
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, orders.StateApproved, got.State)
	assert.False(t, got.Fulfilled())
	assert.Equal(t, 2, f.stats(t).Leased, "leases are committed before fulfilment is recorded")
	assert.Equal(t, []string{notify.EventOrderApproved}, f.events.names())

	got, err = f.svc.RetryAllocation(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, got.Fulfilled())
	assert.Equal(t, 2, f.stats(t).Leased, "no second allocation")
	require.Equal(t, []string{notify.EventOrderApproved, notify.EventCredentialsReady}, f.events.names())

	ready := f.events.events[1].(notify.CredentialsReady)
	assert.Equal(t, o.ID, ready.OrderID)
	assert.Len(t, ready.Leases, 2)
	assert.Equal(t, "family@example.com:secret", ready.Leases[0].AccountCredential)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, ready.ExpiresAt.Equal(*got.ExpiresAt))

	_, err = f.svc.RetryAllocation(context.Background(), o.ID)
	assert.ErrorIs(t, err, orders.ErrAlreadyFulfilled)
	assert.Len(t, f.events.names(), 2, "credentials are sent once")
}

func TestRetryAllocation_SeatsLookupFails(t *testing.T) {
	t.Parallel()

	catalog, err := pricing.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)

	alloc := &mockAllocator{}
	alloc.On("Allocate", mock.Anything, mock.Anything).Return(pool.Allocation{}, pool.ErrAlreadyAllocated)
	alloc.On("Seats", mock.Anything, mock.Anything).Return(nil, errors.New("pool unavailable"))

	rec := &recorder{}
	svc := orders.NewService(orders.NewMemoryStore(), verdict(validation.DecisionNeedsReview, 0), alloc, catalog,
		orders.WithClock(func() time.Time { return now }),
		orders.WithDispatcher(rec))

	o, err := svc.CreateOrder(context.Background(), orders.CreateOrderParams{
		OwnerID: uuid.New(), Service: "netflix", Profiles: 1, Months: 1,
	})
	require.NoError(t, err)

	got, err := svc.AdminApprove(context.Background(), o.ID, "")
	assert.ErrorContains(t, err, "pool unavailable")
	assert.False(t, got.Fulfilled(), "fulfilment is not recorded without the seats to announce")

	pending, err := svc.ListUnfulfilled(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, []string{notify.EventOrderApproved}, rec.names())
	alloc.AssertExpectations(t)
}

// cancelOnEvent records events and cancels the caller's context once the
// named event is dispatched, as a client disconnecting mid-request would.
type cancelOnEvent struct {
	*recorder
	name   string
	cancel context.CancelFunc
}

func (c cancelOnEvent) Dispatch(ctx context.Context, e notify.Event) error {
	if err := c.recorder.Dispatch(ctx, e); err != nil {
		return err
	}
	if e.Name() == c.name {
		c.cancel()
	}
	return nil
}

func TestApproval_SurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		decide  validation.Decision
		approve func(ctx context.Context, svc *orders.Service, id uuid.UUID) (orders.Order, error)
	}{
		{
			name:   "admin approve",
			decide: validation.DecisionNeedsReview,
			approve: func(ctx context.Context, svc *orders.Service, id uuid.UUID) (orders.Order, error) {
				return svc.AdminApprove(ctx, id, "")
			},
		},
		{
			name:   "auto-approved proof",
			decide: validation.DecisionAutoApprove,
			approve: func(ctx context.Context, svc *orders.Service, id uuid.UUID) (orders.Order, error) {
				return svc.SubmitProof(ctx, id, "proof-ref")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			f := buildFixture(t, orders.NewMemoryStore(), verdict(tt.decide, 95), 4, func(r *recorder) notify.Dispatcher {
				return cancelOnEvent{recorder: r, name: notify.EventOrderApproved, cancel: cancel}
			})
			o := f.create(t, 2)

			got, err := tt.approve(ctx, f.svc, o.ID)
			require.NoError(t, err)
			assert.Error(t, ctx.Err(), "caller context was cancelled mid-approval")
			assert.Equal(t, orders.StateApproved, got.State)
			assert.True(t, got.Fulfilled())
			assert.Equal(t, 2, f.stats(t).Leased)
			assert.Equal(t, []string{notify.EventOrderApproved, notify.EventCredentialsReady}, f.events.names())
		})
	}
}

func TestSubmitProof_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionAutoApprove, 95), 6)
	o := f.create(t, 2)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		handled   int
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitProof(context.Background(), o.ID, fmt.Sprintf("proof-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, orders.ErrConcurrencyConflict), orders.IsInvalidState(err):
				handled++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, handled)
	assert.Equal(t, 2, f.stats(t).Leased)
	assert.Equal(t, []string{notify.EventOrderApproved, notify.EventCredentialsReady}, f.events.names())

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StateApproved, got.State)
	assert.True(t, got.Fulfilled())
}

func TestApproveAndSubmitProof_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, verdict(validation.DecisionAutoApprove, 95), 6)
	o := f.create(t, 2)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		handled   int
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = f.svc.AdminApprove(context.Background(), o.ID, "")
			} else {
				_, err = f.svc.SubmitProof(context.Background(), o.ID, fmt.Sprintf("proof-%d", i))
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, orders.ErrConcurrencyConflict), orders.IsInvalidState(err):
				handled++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, handled)
	assert.Equal(t, 2, f.stats(t).Leased)
	assert.Equal(t, []string{notify.EventOrderApproved, notify.EventCredentialsReady}, f.events.names())
}
