package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("ratelimiter: invalid configuration")
	ErrEmptyKey      = errors.New("ratelimiter: key is required")
)

// Config describes one bucket shape. Zero Burst disables limiting.
type Config struct {
	Burst    int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	Refill   int           `env:"RATE_LIMIT_REFILL" envDefault:"1"`
	Interval time.Duration `env:"RATE_LIMIT_INTERVAL" envDefault:"6s"`
}

// Enabled reports whether the limiter should be installed at all.
func (c Config) Enabled() bool {
	return c.Burst > 0
}

func (c Config) Validate() error {
	switch {
	case c.Burst <= 0:
		return fmt.Errorf("%w: burst must be positive, got %d", ErrInvalidConfig, c.Burst)
	case c.Refill <= 0:
		return fmt.Errorf("%w: refill must be positive, got %d", ErrInvalidConfig, c.Refill)
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidConfig, c.Interval)
	}
	return nil
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Limit     int
	Remaining int
	// ResetAt is when the next token is added.
	ResetAt time.Time
}

func (d Decision) Allowed() bool {
	return d.Remaining >= 0
}

// RetryAfter is zero for allowed decisions.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed() || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Store applies the bucket arithmetic atomically for one key. A negative
// remaining count means the request was denied and nothing was consumed.
type Store interface {
	Take(ctx context.Context, key string, cfg Config, now time.Time) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

type Limiter struct {
	store Store
	cfg   Config
	now   func() time.Time
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// New panics on a nil store or an invalid config.
func New(store Store, cfg Config, opts ...Option) *Limiter {
	if store == nil {
		panic("ratelimiter: store is required")
	}
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow takes one token from the bucket named key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}
	remaining, resetAt, err := l.store.Take(ctx, key, l.cfg, l.now())
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimiter: take %q: %w", key, err)
	}
	return Decision{Limit: l.cfg.Burst, Remaining: remaining, ResetAt: resetAt}, nil
}

func (l *Limiter) Reset(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return l.store.Reset(ctx, key)
}

// refill returns the token count after the intervals elapsed since last
// and the new refill mark. Whole intervals only, so the mark never drifts.
func refill(tokens int, last, now time.Time, cfg Config) (int, time.Time) {
	if !now.After(last) {
		return tokens, last
	}
	intervals := int64(now.Sub(last) / cfg.Interval)
	if intervals <= 0 {
		return tokens, last
	}
	// cap before multiplying so long idle periods cannot overflow
	needed := int64(cfg.Burst/cfg.Refill + 1)
	tokens = min(tokens+int(min(intervals, needed))*cfg.Refill, cfg.Burst)
	return tokens, last.Add(time.Duration(intervals) * cfg.Interval)
}
