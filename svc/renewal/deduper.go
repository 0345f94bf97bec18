package renewal

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which reminders were already sent.
type Deduper interface {
	// Claim reports true the first time key is seen within the TTL.
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisDeduper claims keys with SET NX so that several engine instances
// share one view.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper panics if client is nil.
func NewRedisDeduper(client redis.Cmdable, prefix string, ttl time.Duration) *RedisDeduper {
	if client == nil {
		panic("renewal: redis client is required")
	}
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

// MemoryDeduper is a process-local Deduper for tests and single-node runs.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if !exp.After(now) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}
