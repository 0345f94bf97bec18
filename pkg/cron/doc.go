// Package cron runs in-process periodic jobs.
//
// A Scheduler owns a set of named jobs, each with its own Schedule. On every
// check interval it launches the jobs that are due, each in its own goroutine.
// The package guarantees three things the housekeeping jobs of a service rely
// on:
//
//  1. Re-entrancy guard: a job whose previous run has not returned is skipped
//     for that trigger (counted in JobStatus.Skipped), never queued.
//  2. Failure containment: errors and panics are recovered, logged with the
//     run duration, reported to observers and retried only on the next
//     scheduled trigger.
//  3. Isolation: a slow job does not delay its siblings.
//
// # Usage
//
//	s := cron.New(cron.WithLogger(log))
//	_ = s.AddJob("reclaim-expired-leases", cron.Every(time.Hour), reclaim.Run)
//	_ = s.AddJob("renewal-scan", cron.DailyAtIn(9, 0, time.UTC), renewals.Run, cron.WithRunOnStart())
//
//	g.Go(s.Run(ctx)) // returns after ctx is cancelled and running jobs finish
//
// Missed triggers (for example while the process was down) are not replayed;
// the next run is always computed from the current time.
package cron
