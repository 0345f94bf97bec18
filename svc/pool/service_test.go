package pool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/svc/pool"
)

var t0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store *pool.MemoryStore
	svc   *pool.Service
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: t0}
	store := pool.NewMemoryStore()
	return &fixture{
		store: store,
		clock: c,
		svc:   pool.NewService(store, pool.WithClock(c.Now), pool.WithLogger(logger.Discard())),
	}
}

// account creates an account and advances the clock so accounts get
// distinct creation times in creation order.
func (f *fixture) account(t *testing.T, service string, capacity int) (pool.Account, []pool.Profile) {
	t.Helper()
	a, ps, err := f.svc.CreateAccount(context.Background(), pool.CreateAccountParams{
		Service:    service,
		Credential: "login-" + uuid.NewString()[:8],
		Capacity:   capacity,
	})
	require.NoError(t, err)
	f.clock.Set(f.clock.Now().Add(time.Second))
	return a, ps
}

func request(service string, count int) pool.Request {
	return pool.Request{
		OrderID:   uuid.New(),
		OwnerID:   uuid.New(),
		Service:   service,
		Count:     count,
		ExpiresAt: t0.AddDate(0, 1, 0),
	}
}

func TestAllocate_FillsOldestAccountFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, firstProfiles := f.account(t, "netflix", 2)
	second, secondProfiles := f.account(t, "netflix", 4)
	f.account(t, "spotify", 6)

	alloc, err := f.svc.Allocate(ctx, request("netflix", 3))
	require.NoError(t, err)
	require.Len(t, alloc.Seats, 3)

	assert.Equal(t, first.ID, alloc.Seats[0].AccountID)
	assert.Equal(t, firstProfiles[0].ID, alloc.Seats[0].ProfileID)
	assert.Equal(t, firstProfiles[1].ID, alloc.Seats[1].ProfileID)
	assert.Equal(t, second.ID, alloc.Seats[2].AccountID)
	assert.Equal(t, secondProfiles[0].ID, alloc.Seats[2].ProfileID)
	assert.Equal(t, first.Credential, alloc.Seats[0].AccountCredential)
	assert.Equal(t, "Profile 1", alloc.Seats[0].ProfileName)

	st, err := f.svc.Stats(ctx, "netflix")
	require.NoError(t, err)
	assert.Equal(t, pool.Stats{Service: "netflix", Accounts: 2, Free: 3, Leased: 3}, st)

	p, err := f.store.GetProfile(ctx, alloc.Seats[0].ProfileID)
	require.NoError(t, err)
	assert.Equal(t, pool.ProfileLeased, p.State)
	require.NotNil(t, p.Lease)
	assert.Equal(t, alloc.OrderID, p.Lease.OrderID)
	assert.Equal(t, t0.AddDate(0, 1, 0), p.Lease.End)
	assert.False(t, p.Lease.End.Before(p.Lease.Start))
}

func TestAllocate_InsufficientCapacityLeasesNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, profiles := f.account(t, "netflix", 2)
	require.NoError(t, f.svc.BlockProfile(ctx, profiles[1].ID))

	_, err := f.svc.Allocate(ctx, request("netflix", 2))
	var capErr *pool.InsufficientCapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Requested)
	assert.Equal(t, 1, capErr.Available)
	assert.True(t, pool.IsInsufficientCapacity(err))

	st, err := f.svc.Stats(ctx, "netflix")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Free)
	assert.Zero(t, st.Leased)
}

func TestAllocate_IdempotentPerOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "netflix", 6)

	req := request("netflix", 2)
	_, err := f.svc.Allocate(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, req)
	assert.ErrorIs(t, err, pool.ErrAlreadyAllocated)

	seats, err := f.svc.Seats(ctx, req.OrderID)
	require.NoError(t, err)
	assert.Len(t, seats, 2)
}

func TestAllocate_InvalidRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*pool.Request)
	}{
		{name: "nil order", mutate: func(r *pool.Request) { r.OrderID = uuid.Nil }},
		{name: "no service", mutate: func(r *pool.Request) { r.Service = "" }},
		{name: "zero count", mutate: func(r *pool.Request) { r.Count = 0 }},
		{name: "expired", mutate: func(r *pool.Request) { r.ExpiresAt = t0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request("netflix", 1)
			tt.mutate(&req)
			_, err := f.svc.Allocate(context.Background(), req)
			assert.ErrorIs(t, err, pool.ErrInvalidRequest)
		})
	}
}

func TestAllocate_ConcurrentOrdersNeverShareProfiles(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.account(t, "netflix", 5)
	f.account(t, "netflix", 5)

	const orders = 30
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted = make(map[uuid.UUID]uuid.UUID)
		success int
		short   int
	)
	for i := range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := request("netflix", 1+i%2)
			alloc, err := f.svc.Allocate(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if pool.IsInsufficientCapacity(err) {
					short++
				}
				return
			}
			success++
			for _, s := range alloc.Seats {
				prev, dup := granted[s.ProfileID]
				assert.False(t, dup, "profile %s granted to %s and %s", s.ProfileID, prev, req.OrderID)
				granted[s.ProfileID] = req.OrderID
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, orders, success+short)
	assert.LessOrEqual(t, len(granted), 10)

	st, err := f.svc.Stats(ctx, "netflix")
	require.NoError(t, err)
	assert.Equal(t, len(granted), st.Leased)
	assert.Equal(t, 10, st.Total())
}

func TestReclaim(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "netflix", 3)
	f.account(t, "spotify", 1)

	short := request("netflix", 2)
	short.ExpiresAt = t0.Add(2 * time.Hour)
	long := request("netflix", 1)
	long.ExpiresAt = t0.Add(48 * time.Hour)
	other := request("spotify", 1)
	other.ExpiresAt = t0.Add(2 * time.Hour)

	for _, r := range []pool.Request{short, long, other} {
		_, err := f.svc.Allocate(ctx, r)
		require.NoError(t, err)
	}

	// One second before the lease end nothing is freed.
	f.clock.Set(t0.Add(2*time.Hour - time.Second))
	n, err := f.svc.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Exactly at the lease end the profiles are freed.
	f.clock.Set(t0.Add(2 * time.Hour))
	n, err = f.svc.Reclaim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	seats, err := f.svc.Seats(ctx, short.OrderID)
	require.NoError(t, err)
	assert.Empty(t, seats)
	seats, err = f.svc.Seats(ctx, long.OrderID)
	require.NoError(t, err)
	assert.Len(t, seats, 1)

	// Running again is a no-op.
	n, err = f.svc.Reclaim(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Freed profiles are allocatable again.
	f.clock.Set(t0.Add(3 * time.Hour))
	next := request("netflix", 2)
	_, err = f.svc.Allocate(ctx, next)
	require.NoError(t, err)
}

func TestReclaim_ConcurrentWithAllocate(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "netflix", 6)

	for range 6 {
		r := request("netflix", 1)
		r.ExpiresAt = t0.Add(time.Hour)
		_, err := f.svc.Allocate(ctx, r)
		require.NoError(t, err)
	}
	f.clock.Set(t0.Add(time.Hour))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.svc.Reclaim(ctx)
	}()
	go func() {
		defer wg.Done()
		for range 6 {
			r := request("netflix", 1)
			r.ExpiresAt = t0.Add(24 * time.Hour)
			_, _ = f.svc.Allocate(ctx, r)
		}
	}()
	wg.Wait()

	st, err := f.svc.Stats(ctx, "netflix")
	require.NoError(t, err)
	assert.Equal(t, 6, st.Free+st.Leased)
}

func TestProfileAdministration(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	_, profiles := f.account(t, "netflix", 2)
	id := profiles[0].ID

	assert.ErrorIs(t, f.svc.ReleaseProfile(ctx, id), pool.ErrInvalidProfileState)
	assert.ErrorIs(t, f.svc.UnblockProfile(ctx, id), pool.ErrInvalidProfileState)

	require.NoError(t, f.svc.BlockProfile(ctx, id))
	assert.ErrorIs(t, f.svc.BlockProfile(ctx, id), pool.ErrInvalidProfileState)

	alloc, err := f.svc.Allocate(ctx, request("netflix", 1))
	require.NoError(t, err)
	assert.Equal(t, profiles[1].ID, alloc.Seats[0].ProfileID, "blocked profile must be skipped")

	require.NoError(t, f.svc.UnblockProfile(ctx, id))
	require.NoError(t, f.svc.ReleaseProfile(ctx, profiles[1].ID))

	p, err := f.store.GetProfile(ctx, profiles[1].ID)
	require.NoError(t, err)
	assert.Equal(t, pool.ProfileFree, p.State)
	assert.Nil(t, p.Lease)

	assert.ErrorIs(t, f.svc.BlockProfile(ctx, uuid.New()), pool.ErrProfileNotFound)
}

func TestCreateAccount_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params pool.CreateAccountParams
		want   error
	}{
		{name: "no service", params: pool.CreateAccountParams{Credential: "x", Capacity: 1}, want: pool.ErrEmptyService},
		{name: "no credential", params: pool.CreateAccountParams{Service: "s", Capacity: 1}, want: pool.ErrEmptyCredential},
		{name: "zero capacity", params: pool.CreateAccountParams{Service: "s", Credential: "x"}, want: pool.ErrInvalidCapacity},
		{name: "too large", params: pool.CreateAccountParams{Service: "s", Credential: "x", Capacity: 7}, want: pool.ErrInvalidCapacity},
		{name: "names mismatch", params: pool.CreateAccountParams{Service: "s", Credential: "x", Capacity: 2, ProfileNames: []string{"a"}}, want: pool.ErrInvalidCapacity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.CreateAccount(ctx, tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	a, ps, err := f.svc.CreateAccount(ctx, pool.CreateAccountParams{
		Service: "s", Credential: "x", Capacity: 2, ProfileNames: []string{"Kids", "Guest"},
	})
	require.NoError(t, err)
	got, profiles, err := f.svc.Account(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, ps, profiles)
	assert.Equal(t, "Guest", profiles[1].Name)
}

type failingStore struct {
	*pool.MemoryStore
	failService string
}

func (s failingStore) InServiceTx(ctx context.Context, service string, fn func(context.Context, pool.Tx) error) error {
	if service == s.failService {
		return errors.New("connection reset")
	}
	return s.MemoryStore.InServiceTx(ctx, service, fn)
}

func TestReclaim_ServiceFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	c := &clock{now: t0}
	mem := pool.NewMemoryStore()
	base := pool.NewService(mem, pool.WithClock(c.Now), pool.WithLogger(logger.Discard()))
	ctx := context.Background()

	for _, svc := range []string{"alpha", "beta"} {
		_, _, err := base.CreateAccount(ctx, pool.CreateAccountParams{Service: svc, Credential: "x", Capacity: 1})
		require.NoError(t, err)
		r := request(svc, 1)
		r.ExpiresAt = t0.Add(time.Hour)
		_, err = base.Allocate(ctx, r)
		require.NoError(t, err)
	}
	c.Set(t0.Add(time.Hour))

	svc := pool.NewService(failingStore{MemoryStore: mem, failService: "alpha"}, pool.WithClock(c.Now), pool.WithLogger(logger.Discard()))
	n, err := svc.Reclaim(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
	assert.Equal(t, 1, n)
}
