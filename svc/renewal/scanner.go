package renewal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/metrics"
	"github.com/dmitrymomot/sharepool/svc/notify"
	"github.com/dmitrymomot/sharepool/svc/orders"
)

// ExpiringLister finds approved orders that expire in (after, before].
// orders.Store satisfies it.
type ExpiringLister interface {
	ListExpiring(ctx context.Context, after, before time.Time) ([]orders.Order, error)
}

// Scanner emits RenewalEligible for orders nearing expiry, at most once
// per order per UTC day.
type Scanner struct {
	orders     ExpiringLister
	deduper    Deduper
	dispatcher notify.Dispatcher
	window     time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Scanner)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWindow overrides the default 72h look-ahead.
func WithWindow(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.window = d
		}
	}
}

// NewScanner panics on nil dependencies.
func NewScanner(lister ExpiringLister, deduper Deduper, dispatcher notify.Dispatcher, opts ...Option) *Scanner {
	if lister == nil {
		panic("renewal: order lister is required")
	}
	if deduper == nil {
		panic("renewal: deduper is required")
	}
	if dispatcher == nil {
		panic("renewal: dispatcher is required")
	}
	s := &Scanner{
		orders:     lister,
		deduper:    deduper,
		dispatcher: dispatcher,
		window:     72 * time.Hour,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("renewal"))
	return s
}

// Run scans once and returns how many reminders were emitted. Failures on
// individual orders do not stop the scan; they are joined into the error.
// A claimed reminder is not retried the same day even if delivery failed.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.orders.ListExpiring(ctx, now, now.Add(s.window))
	if err != nil {
		return 0, fmt.Errorf("list expiring orders: %w", err)
	}

	var (
		sent int
		errs []error
	)
	for _, o := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		claimed, err := s.deduper.Claim(ctx, DedupKey(o.ID, now))
		if err != nil {
			errs = append(errs, fmt.Errorf("claim reminder for order %s: %w", o.ID, err))
			continue
		}
		if !claimed {
			continue
		}

		event := notify.RenewalEligible{
			OrderID:       o.ID,
			OwnerID:       o.OwnerID,
			Service:       o.Service,
			ExpiresAt:     *o.ExpiresAt,
			DaysRemaining: DaysRemaining(now, *o.ExpiresAt),
			Price:         o.Price,
			Currency:      o.Currency,
		}
		if err := s.dispatcher.Dispatch(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "renewal reminder not delivered",
				logger.OrderID(o.ID),
				logger.Error(err))
		}
		sent++
		s.metrics.RenewalReminder()
	}

	s.logger.InfoContext(ctx, "renewal scan finished",
		slog.Int("expiring", len(due)),
		slog.Int("reminded", sent))
	return sent, errors.Join(errs...)
}

// DedupKey buckets reminders by order and UTC calendar day.
func DedupKey(orderID uuid.UUID, at time.Time) string {
	return "renewal:" + orderID.String() + ":" + at.UTC().Format(time.DateOnly)
}

// DaysRemaining rounds the time left up to whole days.
func DaysRemaining(now, expiresAt time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	return int((left + day - 1) / day)
}
