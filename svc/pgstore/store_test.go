package pgstore_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sharepool/pkg/pg"
	"github.com/dmitrymomot/sharepool/pkg/secrets"
	"github.com/dmitrymomot/sharepool/svc/notify"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/pgstore"
	"github.com/dmitrymomot/sharepool/svc/pool"
	"github.com/dmitrymomot/sharepool/svc/validation"
)

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("PG_CONN_URL")
	if url == "" {
		t.Skip("PG_CONN_URL is not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: url,
		MaxOpenConns:     10,
		RetryAttempts:    1,
		RetryInterval:    time.Second,
		MigrationsTable:  "schema_migrations",
	}
	db, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	require.NoError(t, pg.Migrate(ctx, db, pgstore.Migrations(), cfg, slog.New(slog.DiscardHandler)))
	return db
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	f, err := pgstore.Migrations().Open("00001_init.sql")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestOrderStore(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	s := pgstore.NewOrderStore(db)

	created := time.Now().UTC().Truncate(time.Microsecond)
	o := orders.Order{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Service:   "netflix",
		Profiles:  2,
		Months:    1,
		Price:     decimal.RequireFromString("9.00"),
		Currency:  "USD",
		State:     orders.StatePending,
		CreatedAt: created,
		Version:   1,
	}
	require.NoError(t, s.CreateOrder(ctx, o))

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(o.Price))
	assert.Equal(t, orders.StatePending, got.State)

	_, err = s.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	amount := decimal.RequireFromString("9.00")
	approved, err := s.Apply(ctx, orders.Change{
		OrderID:     o.ID,
		FromState:   orders.StatePending,
		FromVersion: 1,
		ToState:     orders.StateApproved,
		ApprovedAt:  &created,
		ExpiresAt:   ptr(created.AddDate(0, 1, 0)),
		Proof: &orders.PaymentProof{
			Ref:           "proofs/1.png",
			Extraction:    &validation.Extraction{Amount: &amount, Confidence: 92},
			Confidence:    92,
			AutoValidated: true,
			State:         orders.ProofApproved,
			SubmittedAt:   created,
			ValidatedAt:   &created,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), approved.Version)
	require.NotNil(t, approved.ExpiresAt)

	_, err = s.Apply(ctx, orders.Change{OrderID: o.ID, FromState: orders.StatePending, FromVersion: 1, ToState: orders.StateCancelled})
	assert.ErrorIs(t, err, orders.ErrConcurrencyConflict)

	proof, err := s.GetProof(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, proof.Extraction)
	require.NotNil(t, proof.Extraction.Amount)
	assert.True(t, proof.Extraction.Amount.Equal(amount))
	assert.True(t, proof.AutoValidated)

	unfulfilled, err := s.ListUnfulfilled(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids(unfulfilled), o.ID)

	require.NoError(t, s.MarkFulfilled(ctx, o.ID, created))
	require.NoError(t, s.MarkFulfilled(ctx, o.ID, created.Add(time.Hour)))
	got, err = s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FulfilledAt)
	assert.True(t, got.FulfilledAt.Equal(created))

	expiring, err := s.ListExpiring(ctx, created, created.AddDate(0, 1, 1))
	require.NoError(t, err)
	assert.Contains(t, ids(expiring), o.ID)

	owned, err := s.ListByOwner(ctx, o.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{o.ID}, ids(owned))
}

func TestPoolStore_Allocate(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	service := "svc-" + uuid.NewString()[:8]
	svc := pool.NewService(pgstore.NewPoolStore(db))

	_, _, err := svc.CreateAccount(ctx, pool.CreateAccountParams{Service: service, Credential: "a@example.com", Capacity: 3})
	require.NoError(t, err)

	const callers = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		short   int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Allocate(ctx, pool.Request{
				OrderID:   uuid.New(),
				Service:   service,
				Count:     1,
				ExpiresAt: time.Now().Add(time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
			} else if pool.IsInsufficientCapacity(err) {
				short++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.Equal(t, 2, short)

	st, err := svc.Stats(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, pool.Stats{Service: service, Accounts: 1, Leased: 3}, st)
}

func TestPoolStore_Reclaim(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	service := "svc-" + uuid.NewString()[:8]

	clock := time.Now().UTC()
	svc := pool.NewService(pgstore.NewPoolStore(db), pool.WithClock(func() time.Time { return clock }))

	_, profiles, err := svc.CreateAccount(ctx, pool.CreateAccountParams{Service: service, Credential: "b@example.com", Capacity: 2})
	require.NoError(t, err)

	orderID := uuid.New()
	alloc, err := svc.Allocate(ctx, pool.Request{OrderID: orderID, Service: service, Count: 2, ExpiresAt: clock.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, alloc.Seats, 2)
	assert.Equal(t, profiles[0].ID, alloc.Seats[0].ProfileID)

	_, err = svc.Allocate(ctx, pool.Request{OrderID: orderID, Service: service, Count: 1, ExpiresAt: clock.Add(time.Hour)})
	assert.ErrorIs(t, err, pool.ErrAlreadyAllocated)

	seats, err := svc.Seats(ctx, orderID)
	require.NoError(t, err)
	assert.Len(t, seats, 2)

	clock = clock.Add(time.Hour)
	n, err := svc.Reclaim(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)

	st, err := svc.Stats(ctx, service)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Free)

	require.NoError(t, svc.BlockProfile(ctx, profiles[0].ID))
	assert.ErrorIs(t, svc.BlockProfile(ctx, profiles[0].ID), pool.ErrInvalidProfileState)
	require.NoError(t, svc.UnblockProfile(ctx, profiles[0].ID))
	assert.ErrorIs(t, svc.ReleaseProfile(ctx, uuid.New()), pool.ErrProfileNotFound)
}

func TestPoolStore_SealedCredentials(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	service := "svc-" + uuid.NewString()[:8]

	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	cipher, err := secrets.New(key, "pool-credentials")
	require.NoError(t, err)
	svc := pool.NewService(pgstore.NewPoolStore(db, pgstore.WithCredentialSealer(cipher)))

	account, _, err := svc.CreateAccount(ctx, pool.CreateAccountParams{Service: service, Credential: "c@example.com:pw", Capacity: 1})
	require.NoError(t, err)

	var raw string
	require.NoError(t, db.QueryRow(ctx, `SELECT credential FROM accounts WHERE id = $1`, account.ID).Scan(&raw))
	assert.True(t, secrets.IsSealed(raw))
	assert.NotContains(t, raw, "c@example.com")

	got, _, err := svc.Account(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "c@example.com:pw", got.Credential)

	orderID := uuid.New()
	alloc, err := svc.Allocate(ctx, pool.Request{OrderID: orderID, Service: service, Count: 1, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, alloc.Seats, 1)
	assert.Equal(t, "c@example.com:pw", alloc.Seats[0].AccountCredential)

	seats, err := svc.Seats(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, seats, 1)
	assert.Equal(t, "c@example.com:pw", seats[0].AccountCredential)

	// plaintext rows from before the sealer was configured still read back
	plain := pool.NewService(pgstore.NewPoolStore(db))
	legacy, _, err := plain.CreateAccount(ctx, pool.CreateAccountParams{Service: service, Credential: "legacy@example.com", Capacity: 1})
	require.NoError(t, err)
	got, _, err = svc.Account(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Equal(t, "legacy@example.com", got.Credential)
}

func TestContactStore(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	s := pgstore.NewContactStore(db)
	owner := uuid.New()

	_, err := s.Email(ctx, owner)
	assert.ErrorIs(t, err, notify.ErrContactNotFound)

	require.NoError(t, s.SetEmail(ctx, owner, "one@example.com"))
	require.NoError(t, s.SetEmail(ctx, owner, "two@example.com"))
	email, err := s.Email(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "two@example.com", email)
}

func ptr[T any](v T) *T { return &v }

func ids(list []orders.Order) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(list))
	for _, o := range list {
		out = append(out, o.ID)
	}
	return out
}
