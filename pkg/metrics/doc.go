// Package metrics exposes Prometheus collectors for order transitions,
// validation verdicts, allocations, reclamation, renewal reminders,
// scheduler jobs, notifications, HTTP requests and rate-limited requests.
package metrics
