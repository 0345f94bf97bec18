package cron_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sharepool/pkg/cron"
	"github.com/dmitrymomot/sharepool/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func noop(context.Context) error { return nil }

func newScheduler(opts ...cron.Option) *cron.Scheduler {
	return cron.New(append([]cron.Option{cron.WithLogger(logger.Discard())}, opts...)...)
}

func TestAddJob(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	require.NoError(t, s.AddJob("a", cron.Every(time.Hour), noop))

	err := s.AddJob("a", cron.Every(time.Hour), noop)
	assert.ErrorIs(t, err, cron.ErrJobAlreadyRegistered)

	assert.ErrorIs(t, s.AddJob("", cron.Every(time.Hour), noop), cron.ErrInvalidJob)
	assert.ErrorIs(t, s.AddJob("b", nil, noop), cron.ErrInvalidJob)
	assert.ErrorIs(t, s.AddJob("b", cron.Every(time.Hour), nil), cron.ErrInvalidJob)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "every 1h0m0s", jobs[0].Schedule)
}

func TestStart_NoJobs(t *testing.T) {
	t.Parallel()

	assert.ErrorIs(t, newScheduler().Start(context.Background()), cron.ErrNoJobs)
}

func TestTrigger_UnknownJob(t *testing.T) {
	t.Parallel()

	_, err := newScheduler().Trigger(context.Background(), "missing")
	assert.ErrorIs(t, err, cron.ErrJobNotFound)
}

func TestTrigger_SkipsWhileRunning(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var calls atomic.Int32

	s := newScheduler()
	require.NoError(t, s.AddJob("slow", cron.Every(time.Hour), func(ctx context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}))

	ctx := context.Background()
	ok, err := s.Trigger(ctx, "slow")
	require.NoError(t, err)
	require.True(t, ok)
	<-started

	ok, err = s.Trigger(ctx, "slow")
	require.NoError(t, err)
	assert.False(t, ok, "second trigger must be skipped while the first run is in flight")

	close(release)
	s.Wait()

	ok, err = s.Trigger(ctx, "slow")
	require.NoError(t, err)
	assert.True(t, ok)
	s.Wait()

	assert.Equal(t, int32(2), calls.Load())
	st := s.Jobs()[0]
	assert.Equal(t, int64(2), st.Runs)
	assert.Equal(t, int64(1), st.Skipped)
	assert.False(t, st.Running)
}

func TestFailuresAreContained(t *testing.T) {
	t.Parallel()

	type result struct {
		name string
		err  error
	}
	var mu sync.Mutex
	var results []result

	s := newScheduler(cron.WithObserver(func(name string, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, result{name: name, err: err})
	}))

	boom := errors.New("boom")
	require.NoError(t, s.AddJob("failing", cron.Every(time.Hour), func(context.Context) error { return boom }))
	require.NoError(t, s.AddJob("panicking", cron.Every(time.Hour), func(context.Context) error { panic("kaboom") }))
	require.NoError(t, s.AddJob("healthy", cron.Every(time.Hour), noop))

	ctx := context.Background()
	for _, name := range []string{"failing", "panicking", "healthy"} {
		ok, err := s.Trigger(ctx, name)
		require.NoError(t, err)
		require.True(t, ok)
	}
	s.Wait()

	mu.Lock()
	got := make(map[string]error, len(results))
	for _, r := range results {
		got[r.name] = r.err
	}
	mu.Unlock()

	require.Len(t, got, 3)
	assert.ErrorIs(t, got["failing"], boom)
	assert.ErrorIs(t, got["panicking"], cron.ErrJobPanicked)
	assert.NoError(t, got["healthy"])

	statuses := make(map[string]cron.JobStatus)
	for _, st := range s.Jobs() {
		statuses[st.Name] = st
	}
	assert.Equal(t, "boom", statuses["failing"].LastError)
	assert.Contains(t, statuses["panicking"].LastError, "kaboom")
	assert.Empty(t, statuses["healthy"].LastError)
}

func TestRunDue(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 3, 10, 10, 5, 0, 0, time.UTC)}
	var hourly, eager atomic.Int32

	s := newScheduler(cron.WithClock(clock.Now))
	require.NoError(t, s.AddJob("hourly", cron.Every(time.Hour), func(context.Context) error {
		hourly.Add(1)
		return nil
	}))
	require.NoError(t, s.AddJob("eager", cron.Every(time.Hour), func(context.Context) error {
		eager.Add(1)
		return nil
	}, cron.WithRunOnStart()))

	ctx := context.Background()

	assert.Equal(t, 1, s.RunDue(ctx), "only the run-on-start job is due")
	s.Wait()

	clock.Set(time.Date(2025, 3, 10, 10, 59, 59, 0, time.UTC))
	assert.Equal(t, 0, s.RunDue(ctx))

	clock.Set(time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC))
	assert.Equal(t, 2, s.RunDue(ctx))
	s.Wait()

	assert.Equal(t, 0, s.RunDue(ctx), "same instant must not fire twice")

	// Missed slots are not replayed.
	clock.Set(time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC))
	assert.Equal(t, 2, s.RunDue(ctx))
	s.Wait()

	assert.Equal(t, int32(2), hourly.Load())
	assert.Equal(t, int32(3), eager.Load())

	for _, st := range s.Jobs() {
		assert.Equal(t, time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC), st.NextRun)
	}
}

func TestWithTimeout(t *testing.T) {
	t.Parallel()

	s := newScheduler()
	var gotErr atomic.Value
	require.NoError(t, s.AddJob("bounded", cron.Every(time.Hour), func(ctx context.Context) error {
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	}, cron.WithTimeout(20*time.Millisecond)))

	_, err := s.Trigger(context.Background(), "bounded")
	require.NoError(t, err)
	s.Wait()

	assert.ErrorIs(t, gotErr.Load().(error), context.DeadlineExceeded)
	assert.Contains(t, s.Jobs()[0].LastError, "deadline exceeded")
}

func TestStart_StopsOnCancel(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	s := newScheduler(cron.WithCheckInterval(10 * time.Millisecond))
	require.NoError(t, s.AddJob("tick", cron.Every(time.Hour), func(context.Context) error {
		runs.Add(1)
		return nil
	}, cron.WithRunOnStart()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// A second Start on a running scheduler is refused.
	assert.ErrorIs(t, s.Start(ctx), cron.ErrAlreadyStarted)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
