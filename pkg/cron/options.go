package cron

import (
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often the scheduler looks for due jobs.
// It bounds trigger latency, not job cadence.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver registers a hook called after every finished run.
// Use it to export run counts and durations.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// JobOption configures a single job.
type JobOption func(*job)

// WithTimeout bounds a single run of the job.
func WithTimeout(d time.Duration) JobOption {
	return func(j *job) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithRunOnStart makes the job fire on the first scheduler check instead of
// waiting for its first scheduled time.
func WithRunOnStart() JobOption {
	return func(j *job) {
		j.runOnStart = true
	}
}
