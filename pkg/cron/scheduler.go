package cron

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/sharepool/pkg/logger"
)

// JobFunc is the body of a periodic job.
type JobFunc func(ctx context.Context) error

// Observer receives the outcome of every finished run.
type Observer func(name string, duration time.Duration, err error)

// JobStatus is a point-in-time snapshot of a registered job.
type JobStatus struct {
	Name         string
	Schedule     string
	Running      bool
	NextRun      time.Time
	LastRun      time.Time
	LastDuration time.Duration
	LastError    string
	Runs         int64
	Skipped      int64
}

type job struct {
	name       string
	schedule   Schedule
	fn         JobFunc
	timeout    time.Duration
	runOnStart bool

	// running is the re-entrancy guard: a trigger that finds it set is dropped.
	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu           sync.Mutex
	nextRun      time.Time
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
}

// Scheduler runs registered jobs on their schedules. Every job runs in its
// own goroutine, so a slow or failing job never delays the others, and a job
// whose previous run is still in flight is skipped rather than queued.
type Scheduler struct {
	mu    sync.RWMutex
	jobs  map[string]*job
	order []string

	checkInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
	observers     []Observer

	started atomic.Bool
	wg      sync.WaitGroup
}

// New creates a scheduler. Jobs are added with AddJob before Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:          make(map[string]*job),
		checkInterval: time.Second,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("cron"))
	return s
}

// AddJob registers a named job.
func (s *Scheduler) AddJob(name string, schedule Schedule, fn JobFunc, opts ...JobOption) error {
	if name == "" || schedule == nil || fn == nil {
		return ErrInvalidJob
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	for _, opt := range opts {
		opt(j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, name)
	}
	s.jobs[name] = j
	s.order = append(s.order, name)

	s.logger.Info("registered job",
		logger.Job(name),
		slog.String("schedule", schedule.String()))

	return nil
}

// Start checks for due jobs every check interval until ctx is cancelled,
// then waits for in-flight runs to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	count := len(s.jobs)
	s.mu.RUnlock()
	if count == 0 {
		return ErrNoJobs
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer s.started.Store(false)

	s.initNextRuns(s.now())

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.RunDue(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down, waiting for running jobs")
			s.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// Run returns a function suitable for errgroup.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		return s.Start(ctx)
	}
}

// RunDue launches every job whose next run time has passed and returns how
// many were launched. Start calls it on every tick.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()
	launched := 0
	for _, j := range s.snapshot() {
		j.mu.Lock()
		if j.nextRun.IsZero() {
			j.nextRun = j.firstRun(now)
		}
		due := !j.nextRun.After(now)
		if due {
			// Missed slots are not replayed: the next run is computed from now.
			j.nextRun = j.schedule.Next(now)
		}
		j.mu.Unlock()

		if due && s.launch(ctx, j) {
			launched++
		}
	}
	return launched
}

// Trigger runs the named job immediately unless it is already running.
// It reports whether a run was started.
func (s *Scheduler) Trigger(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.launch(ctx, j), nil
}

// Wait blocks until all in-flight runs have returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Jobs returns status snapshots in registration order.
func (s *Scheduler) Jobs() []JobStatus {
	jobs := s.snapshot()
	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		st := JobStatus{
			Name:         j.name,
			Schedule:     j.schedule.String(),
			Running:      j.running.Load(),
			NextRun:      j.nextRun,
			LastRun:      j.lastRun,
			LastDuration: j.lastDuration,
			Runs:         j.runs.Load(),
			Skipped:      j.skipped.Load(),
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	return out
}

func (s *Scheduler) snapshot() []*job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*job, 0, len(s.order))
	for _, name := range s.order {
		jobs = append(jobs, s.jobs[name])
	}
	return jobs
}

func (s *Scheduler) initNextRuns(now time.Time) {
	for _, j := range s.snapshot() {
		j.mu.Lock()
		j.nextRun = j.firstRun(now)
		j.mu.Unlock()
	}
}

func (j *job) firstRun(now time.Time) time.Time {
	if j.runOnStart {
		return now
	}
	return j.schedule.Next(now)
}

// launch starts one run of j in the background unless a run is in flight.
func (s *Scheduler) launch(ctx context.Context, j *job) bool {
	if !j.running.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		s.logger.WarnContext(ctx, "job still running, skipping trigger", logger.Job(j.name))
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.running.Store(false)
		s.execute(ctx, j)
	}()
	return true
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	start := s.now()
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	s.logger.InfoContext(ctx, "job started", logger.Job(j.name))

	err := s.safeRun(runCtx, j)
	duration := s.now().Sub(start)

	j.runs.Add(1)
	j.mu.Lock()
	j.lastRun = start
	j.lastDuration = duration
	j.lastErr = err
	j.mu.Unlock()

	if err != nil {
		s.logger.ErrorContext(ctx, "job failed",
			logger.Job(j.name),
			logger.Duration(duration),
			logger.Error(err))
	} else {
		s.logger.InfoContext(ctx, "job completed",
			logger.Job(j.name),
			logger.Duration(duration))
	}

	for _, obs := range s.observers {
		obs(j.name, duration, err)
	}
}

func (s *Scheduler) safeRun(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			s.logger.ErrorContext(ctx, "job panicked",
				logger.Job(j.name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	return j.fn(ctx)
}
