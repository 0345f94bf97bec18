package ratelimiter

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	tokens int
	last   time.Time
}

// MemoryStore keeps buckets in process. Full buckets are dropped during
// periodic sweeps since they carry no state.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	calls   int
}

var _ Store = (*MemoryStore)(nil)

const sweepEvery = 1024

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

func (s *MemoryStore) Take(_ context.Context, key string, cfg Config, now time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%sweepEvery == 0 {
		s.sweep(cfg, now)
	}

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{tokens: cfg.Burst, last: now}
		s.buckets[key] = b
	}
	b.tokens, b.last = refill(b.tokens, b.last, now, cfg)

	if b.tokens < 1 {
		return -1, b.last.Add(cfg.Interval), nil
	}
	b.tokens--
	return b.tokens, b.last.Add(cfg.Interval), nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

// Len reports how many buckets are tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

func (s *MemoryStore) sweep(cfg Config, now time.Time) {
	for k, b := range s.buckets {
		if tokens, _ := refill(b.tokens, b.last, now, cfg); tokens >= cfg.Burst {
			delete(s.buckets, k)
		}
	}
}
