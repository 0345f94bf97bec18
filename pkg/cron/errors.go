package cron

import "errors"

var (
	// ErrJobAlreadyRegistered is returned when a job name is registered twice.
	ErrJobAlreadyRegistered = errors.New("job already registered")

	// ErrJobNotFound is returned when triggering an unknown job.
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobs is returned when starting a scheduler with nothing to run.
	ErrNoJobs = errors.New("scheduler has no registered jobs")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrInvalidJob is returned for an empty name, nil schedule or nil function.
	ErrInvalidJob = errors.New("job requires a name, a schedule and a function")

	// ErrJobPanicked wraps a recovered panic so it is recorded as a job failure.
	ErrJobPanicked = errors.New("job panicked")
)
