package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/metrics"
)

// Dispatcher delivers events to customers. The engine logs dispatch errors
// and never retries; retrying is the dispatcher's concern.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, event Event) error

func (f DispatcherFunc) Dispatch(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// MultiDispatcher fans an event out to several dispatchers. Every
// dispatcher is attempted; failures are logged and joined into the
// returned error.
type MultiDispatcher struct {
	dispatchers []Dispatcher
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type MultiOption func(*MultiDispatcher)

func WithMultiLogger(l *slog.Logger) MultiOption {
	return func(m *MultiDispatcher) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMultiMetrics(mt *metrics.Metrics) MultiOption {
	return func(m *MultiDispatcher) { m.metrics = mt }
}

func NewMultiDispatcher(dispatchers []Dispatcher, opts ...MultiOption) *MultiDispatcher {
	m := &MultiDispatcher{logger: slog.Default()}
	for _, d := range dispatchers {
		if d != nil {
			m.dispatchers = append(m.dispatchers, d)
		}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MultiDispatcher) Dispatch(ctx context.Context, event Event) error {
	var errs []error
	for i, d := range m.dispatchers {
		err := safeDispatch(ctx, d, event)
		m.metrics.Notification(event.Name(), err)
		if err != nil {
			m.logger.LogAttrs(ctx, slog.LevelError, "failed to dispatch event",
				logger.Event(event.Name()),
				logger.OrderID(event.Order()),
				slog.Int("dispatcher_index", i),
				logger.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeDispatch(ctx context.Context, d Dispatcher, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher panicked: %v", r)
		}
	}()
	return d.Dispatch(ctx, event)
}

// LogDispatcher writes event names and identifiers to the log, never the
// payload, which may carry credentials.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(l *slog.Logger) *LogDispatcher {
	if l == nil {
		l = slog.Default()
	}
	return &LogDispatcher{logger: l.With(logger.Component("notify"))}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, event Event) error {
	d.logger.InfoContext(ctx, "event dispatched",
		logger.Event(event.Name()),
		logger.OrderID(event.Order()),
		logger.OwnerID(event.Recipient()),
	)
	return nil
}

// Discard drops every event.
var Discard Dispatcher = DispatcherFunc(func(context.Context, Event) error { return nil })
