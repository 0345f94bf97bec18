package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/sharepool/pkg/pg"
	"github.com/dmitrymomot/sharepool/pkg/secrets"
	"github.com/dmitrymomot/sharepool/svc/pool"
)

// PoolStore implements pool.Store.
type PoolStore struct {
	db     *pgxpool.Pool
	sealer CredentialSealer
}

var _ pool.Store = (*PoolStore)(nil)

// CredentialSealer encrypts account credentials at rest. *secrets.Cipher
// satisfies it.
type CredentialSealer interface {
	Seal(plaintext string, aad []byte) (string, error)
	Open(sealed string, aad []byte) (string, error)
}

// PoolStoreOption configures a PoolStore.
type PoolStoreOption func(*PoolStore)

// WithCredentialSealer stores credentials sealed, bound to the account id.
// Rows written before a sealer was configured are still read as plaintext.
func WithCredentialSealer(s CredentialSealer) PoolStoreOption {
	return func(ps *PoolStore) {
		ps.sealer = s
	}
}

// NewPoolStore panics if db is nil.
func NewPoolStore(db *pgxpool.Pool, opts ...PoolStoreOption) *PoolStore {
	if db == nil {
		panic("pgstore: pool is required")
	}
	s := &PoolStore{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PoolStore) sealCredential(a pool.Account) (string, error) {
	if s.sealer == nil {
		return a.Credential, nil
	}
	sealed, err := s.sealer.Seal(a.Credential, a.ID[:])
	if err != nil {
		return "", fmt.Errorf("seal credential of account %s: %w", a.ID, err)
	}
	return sealed, nil
}

func (s *PoolStore) openCredential(a *pool.Account) error {
	if s.sealer == nil || !secrets.IsSealed(a.Credential) {
		return nil
	}
	plain, err := s.sealer.Open(a.Credential, a.ID[:])
	if err != nil {
		return fmt.Errorf("open credential of account %s: %w", a.ID, err)
	}
	a.Credential = plain
	return nil
}

func (s *PoolStore) openCandidates(cs []pool.Candidate) ([]pool.Candidate, error) {
	for i := range cs {
		if err := s.openCredential(&cs[i].Account); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

const profileColumns = `p.id, p.account_id, p.service, p.name, p.position, p.state,
	p.lease_order_id, p.lease_owner_id, p.lease_start, p.lease_end, p.version`

const accountColumns = `a.id, a.service, a.credential, a.capacity, a.created_at`

type profileRow struct {
	profile    pool.Profile
	orderID    *uuid.UUID
	ownerID    *uuid.UUID
	leaseStart *time.Time
	leaseEnd   *time.Time
}

func (r *profileRow) dest() []any {
	p := &r.profile
	return []any{&p.ID, &p.AccountID, &p.Service, &p.Name, &p.Position, &p.State,
		&r.orderID, &r.ownerID, &r.leaseStart, &r.leaseEnd, &p.Version}
}

func (r *profileRow) build() pool.Profile {
	p := r.profile
	if r.orderID != nil && r.leaseStart != nil && r.leaseEnd != nil {
		l := pool.Lease{OrderID: *r.orderID, Start: *r.leaseStart, End: *r.leaseEnd}
		if r.ownerID != nil {
			l.OwnerID = *r.ownerID
		}
		p.Lease = &l
	}
	return p
}

func scanProfile(row pgx.CollectableRow) (pool.Profile, error) {
	var r profileRow
	if err := row.Scan(r.dest()...); err != nil {
		return pool.Profile{}, err
	}
	return r.build(), nil
}

func scanCandidate(row pgx.CollectableRow) (pool.Candidate, error) {
	var (
		r pool.Candidate
		p profileRow
	)
	a := &r.Account
	dest := append(p.dest(), &a.ID, &a.Service, &a.Credential, &a.Capacity, &a.CreatedAt)
	if err := row.Scan(dest...); err != nil {
		return pool.Candidate{}, err
	}
	r.Profile = p.build()
	return r, nil
}

// InServiceTx takes a transaction-scoped advisory lock on the service name,
// so allocation, reclaim and manual state changes of one service never
// interleave.
func (s *PoolStore) InServiceTx(ctx context.Context, service string, fn func(ctx context.Context, tx pool.Tx) error) error {
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "pool:"+service); err != nil {
			return err
		}
		return fn(ctx, &poolTx{tx: tx, service: service, store: s})
	})
}

func (s *PoolStore) CreateAccount(ctx context.Context, account pool.Account, profiles []pool.Profile) error {
	credential, err := s.sealCredential(account)
	if err != nil {
		return err
	}
	return pg.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`INSERT INTO accounts (id, service, credential, capacity, created_at) VALUES ($1, $2, $3, $4, $5)`,
			account.ID, account.Service, credential, account.Capacity, account.CreatedAt)
		for _, p := range profiles {
			batch.Queue(`INSERT INTO profiles (id, account_id, service, name, position, state, version) VALUES ($1, $2, $3, $4, $5, $6, 1)`,
				p.ID, account.ID, account.Service, p.Name, p.Position, string(p.State))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PoolStore) GetAccount(ctx context.Context, id uuid.UUID) (pool.Account, error) {
	var a pool.Account
	err := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts a WHERE a.id = $1`, id).
		Scan(&a.ID, &a.Service, &a.Credential, &a.Capacity, &a.CreatedAt)
	if pg.IsNotFoundError(err) {
		return pool.Account{}, pool.ErrAccountNotFound
	}
	if err != nil {
		return pool.Account{}, err
	}
	if err := s.openCredential(&a); err != nil {
		return pool.Account{}, err
	}
	return a, nil
}

func (s *PoolStore) GetProfile(ctx context.Context, id uuid.UUID) (pool.Profile, error) {
	rows, _ := s.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id = $1`, id)
	p, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if pg.IsNotFoundError(err) {
		return pool.Profile{}, pool.ErrProfileNotFound
	}
	return p, err
}

func (s *PoolStore) ListProfiles(ctx context.Context, accountID uuid.UUID) ([]pool.Profile, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.account_id = $1 ORDER BY p.position`, accountID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProfile)
}

func (s *PoolStore) ListServices(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT service FROM accounts ORDER BY service`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *PoolStore) Stats(ctx context.Context, service string) (pool.Stats, error) {
	st := pool.Stats{Service: service}
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM accounts WHERE service = $1),
			count(*) FILTER (WHERE state = 'free'),
			count(*) FILTER (WHERE state = 'leased'),
			count(*) FILTER (WHERE state = 'blocked')
		FROM profiles WHERE service = $1`, service).
		Scan(&st.Accounts, &st.Free, &st.Leased, &st.Blocked)
	return st, err
}

func (s *PoolStore) SeatsByOrder(ctx context.Context, orderID uuid.UUID) ([]pool.Seat, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`, `+accountColumns+`
		FROM profiles p JOIN accounts a ON a.id = p.account_id
		WHERE p.state = 'leased' AND p.lease_order_id = $1
		ORDER BY a.created_at, a.id, p.position`, orderID)
	if err != nil {
		return nil, err
	}
	candidates, err := pgx.CollectRows(rows, scanCandidate)
	if err != nil {
		return nil, err
	}
	if _, err := s.openCandidates(candidates); err != nil {
		return nil, err
	}
	seats := make([]pool.Seat, 0, len(candidates))
	for _, c := range candidates {
		seats = append(seats, pool.Seat{
			ProfileID:         c.Profile.ID,
			ProfileName:       c.Profile.Name,
			AccountID:         c.Account.ID,
			AccountCredential: c.Account.Credential,
		})
	}
	return seats, nil
}

type poolTx struct {
	tx      pgx.Tx
	service string
	store   *PoolStore
}

func (t *poolTx) FreeProfiles(ctx context.Context, limit int) ([]pool.Candidate, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+profileColumns+`, `+accountColumns+`
		FROM profiles p JOIN accounts a ON a.id = p.account_id
		WHERE p.service = $1 AND p.state = 'free'
		ORDER BY a.created_at, a.id, p.position
		LIMIT $2
		FOR UPDATE OF p`, t.service, limit)
	if err != nil {
		return nil, err
	}
	candidates, err := pgx.CollectRows(rows, scanCandidate)
	if err != nil {
		return nil, err
	}
	return t.store.openCandidates(candidates)
}

func (t *poolTx) OrderHasLeases(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var has bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM profiles WHERE service = $1 AND state = 'leased' AND lease_order_id = $2)`,
		t.service, orderID).Scan(&has)
	return has, err
}

func (t *poolTx) LeaseProfile(ctx context.Context, profileID uuid.UUID, lease pool.Lease) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE profiles SET
			state = 'leased',
			lease_order_id = $3,
			lease_owner_id = $4,
			lease_start = $5,
			lease_end = $6,
			version = version + 1
		WHERE id = $1 AND service = $2 AND state = 'free'`,
		profileID, t.service, lease.OrderID, lease.OwnerID, lease.Start, lease.End)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return t.missOr(ctx, profileID, pool.ErrProfileNotFree)
	}
	return nil
}

func (t *poolTx) ExpiredLeases(ctx context.Context, now time.Time) ([]pool.Profile, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles p JOIN accounts a ON a.id = p.account_id
		WHERE p.service = $1 AND p.state = 'leased' AND p.lease_end <= $2
		ORDER BY a.created_at, a.id, p.position
		FOR UPDATE OF p`, t.service, now)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanProfile)
}

func (t *poolTx) GetProfile(ctx context.Context, profileID uuid.UUID) (pool.Profile, error) {
	rows, _ := t.tx.Query(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE p.id = $1 AND p.service = $2 FOR UPDATE`, profileID, t.service)
	p, err := pgx.CollectExactlyOneRow(rows, scanProfile)
	if pg.IsNotFoundError(err) {
		return pool.Profile{}, pool.ErrProfileNotFound
	}
	return p, err
}

func (t *poolTx) SetProfileState(ctx context.Context, profileID uuid.UUID, from, to pool.ProfileState) error {
	query := `UPDATE profiles SET state = $4, version = version + 1
		WHERE id = $1 AND service = $2 AND state = $3`
	if to == pool.ProfileFree {
		query = `UPDATE profiles SET state = $4, version = version + 1,
			lease_order_id = NULL, lease_owner_id = NULL, lease_start = NULL, lease_end = NULL
		WHERE id = $1 AND service = $2 AND state = $3`
	}
	tag, err := t.tx.Exec(ctx, query, profileID, t.service, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return t.missOr(ctx, profileID, pool.ErrInvalidProfileState)
	}
	return nil
}

// missOr distinguishes a missing profile from a failed state precondition.
func (t *poolTx) missOr(ctx context.Context, profileID uuid.UUID, otherwise error) error {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1 AND service = $2)`, profileID, t.service).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return pool.ErrProfileNotFound
	}
	return otherwise
}
