package pool

import (
	"bytes"
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Each service has its own mutex, held
// for the whole of InServiceTx; writes are staged and applied on success.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	profiles map[uuid.UUID]Profile

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[uuid.UUID]Account),
		profiles: make(map[uuid.UUID]Profile),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) serviceLock(service string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[service]
	if !ok {
		l = &sync.Mutex{}
		s.locks[service] = l
	}
	return l
}

func (s *MemoryStore) InServiceTx(ctx context.Context, service string, fn func(ctx context.Context, tx Tx) error) error {
	lock := s.serviceLock(service)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: s, service: service, staged: make(map[uuid.UUID]Profile)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range tx.staged {
		s.profiles[id] = p
	}
	return nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, account Account, profiles []Profile) error {
	lock := s.serviceLock(account.Service)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	for _, p := range profiles {
		s.profiles[p.ID] = cloneProfile(p)
	}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *MemoryStore) GetProfile(_ context.Context, id uuid.UUID) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return cloneProfile(p), nil
}

func (s *MemoryStore) ListProfiles(_ context.Context, accountID uuid.UUID) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	var out []Profile
	for _, p := range s.profiles {
		if p.AccountID == accountID {
			out = append(out, cloneProfile(p))
		}
	}
	slices.SortFunc(out, func(a, b Profile) int { return cmp.Compare(a.Position, b.Position) })
	return out, nil
}

func (s *MemoryStore) ListServices(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, a := range s.accounts {
		seen[a.Service] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for svc := range seen {
		out = append(out, svc)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context, service string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Service: service}
	for _, a := range s.accounts {
		if a.Service == service {
			st.Accounts++
		}
	}
	for _, p := range s.profiles {
		if p.Service != service {
			continue
		}
		switch p.State {
		case ProfileFree:
			st.Free++
		case ProfileLeased:
			st.Leased++
		case ProfileBlocked:
			st.Blocked++
		}
	}
	return st, nil
}

func (s *MemoryStore) SeatsByOrder(_ context.Context, orderID uuid.UUID) ([]Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Seat
	for _, c := range s.ordered(func(p Profile) bool {
		return p.State == ProfileLeased && p.Lease != nil && p.Lease.OrderID == orderID
	}, nil) {
		out = append(out, seatOf(c))
	}
	return out, nil
}

// ordered returns matching profiles in allocation order. view overrides
// stored profiles with staged ones. Callers hold s.mu.
func (s *MemoryStore) ordered(match func(Profile) bool, view map[uuid.UUID]Profile) []Candidate {
	var out []Candidate
	for id, p := range s.profiles {
		if staged, ok := view[id]; ok {
			p = staged
		}
		if !match(p) {
			continue
		}
		out = append(out, Candidate{Profile: cloneProfile(p), Account: s.accounts[p.AccountID]})
	}
	slices.SortFunc(out, compareCandidates)
	return out
}

func compareCandidates(a, b Candidate) int {
	if c := a.Account.CreatedAt.Compare(b.Account.CreatedAt); c != 0 {
		return c
	}
	if c := bytes.Compare(a.Account.ID[:], b.Account.ID[:]); c != 0 {
		return c
	}
	return cmp.Compare(a.Profile.Position, b.Profile.Position)
}

type memoryTx struct {
	store   *MemoryStore
	service string
	staged  map[uuid.UUID]Profile
}

func (tx *memoryTx) FreeProfiles(_ context.Context, limit int) ([]Candidate, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	free := tx.store.ordered(func(p Profile) bool {
		return p.Service == tx.service && p.State == ProfileFree
	}, tx.staged)
	if limit > 0 && len(free) > limit {
		free = free[:limit]
	}
	return free, nil
}

func (tx *memoryTx) OrderHasLeases(_ context.Context, orderID uuid.UUID) (bool, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	leased := tx.store.ordered(func(p Profile) bool {
		return p.Service == tx.service && p.State == ProfileLeased && p.Lease != nil && p.Lease.OrderID == orderID
	}, tx.staged)
	return len(leased) > 0, nil
}

func (tx *memoryTx) ExpiredLeases(_ context.Context, now time.Time) ([]Profile, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	var out []Profile
	for _, c := range tx.store.ordered(func(p Profile) bool {
		return p.Service == tx.service && p.State == ProfileLeased && p.Lease != nil && !p.Lease.End.After(now)
	}, tx.staged) {
		out = append(out, c.Profile)
	}
	return out, nil
}

func (tx *memoryTx) GetProfile(_ context.Context, id uuid.UUID) (Profile, error) {
	return tx.current(id)
}

func (tx *memoryTx) LeaseProfile(_ context.Context, id uuid.UUID, lease Lease) error {
	p, err := tx.current(id)
	if err != nil {
		return err
	}
	if p.State != ProfileFree {
		return ErrProfileNotFree
	}
	p.State = ProfileLeased
	p.Lease = &lease
	p.Version++
	tx.staged[id] = p
	return nil
}

func (tx *memoryTx) SetProfileState(_ context.Context, id uuid.UUID, from, to ProfileState) error {
	p, err := tx.current(id)
	if err != nil {
		return err
	}
	if p.State != from {
		return ErrInvalidProfileState
	}
	p.State = to
	if to == ProfileFree {
		p.Lease = nil
	}
	p.Version++
	tx.staged[id] = p
	return nil
}

func (tx *memoryTx) current(id uuid.UUID) (Profile, error) {
	if p, ok := tx.staged[id]; ok {
		return cloneProfile(p), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	p, ok := tx.store.profiles[id]
	if !ok || p.Service != tx.service {
		return Profile{}, ErrProfileNotFound
	}
	return cloneProfile(p), nil
}

func cloneProfile(p Profile) Profile {
	if p.Lease != nil {
		l := *p.Lease
		p.Lease = &l
	}
	return p
}

func seatOf(c Candidate) Seat {
	return Seat{
		ProfileID:         c.Profile.ID,
		ProfileName:       c.Profile.Name,
		AccountID:         c.Account.ID,
		AccountCredential: c.Account.Credential,
	}
}
