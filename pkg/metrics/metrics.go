package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sharepool"

// Metrics holds the service collectors. Every method is safe on a nil
// receiver, so components built without metrics need no guards.
type Metrics struct {
	transitions   *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	allocations   *prometheus.CounterVec
	leased        *prometheus.CounterVec
	reclaimed     prometheus.Counter
	reminders     prometheus.Counter
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// Registration panics on duplicates, as prometheus.MustRegister does.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order state transitions by event and resulting state.",
		}, []string{"event", "to"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_verdicts_total",
			Help:      "Payment proof verdicts by decision.",
		}, []string{"decision"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation attempts by service and outcome.",
		}, []string{"service", "outcome"}),
		leased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_leased_total",
			Help:      "Profiles leased by service.",
		}, []string{"service"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_reclaimed_total",
			Help:      "Profiles freed after their lease ended.",
		}),
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renewal_reminders_total",
			Help:      "Renewal reminders emitted.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduler job runs by job and status.",
		}, []string{"job", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduler job run duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Dispatched notifications by event and status.",
		}, []string{"event", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the per-owner rate limiter.",
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.transitions,
		m.verdicts,
		m.allocations,
		m.leased,
		m.reclaimed,
		m.reminders,
		m.jobRuns,
		m.jobDuration,
		m.notifications,
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
	)
	return m
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(event, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, to).Inc()
}

func (m *Metrics) Verdict(decision string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(decision).Inc()
}

// Allocation records one allocation attempt. outcome is "success",
// "insufficient_capacity", "already_allocated" or "error".
func (m *Metrics) Allocation(service, outcome string, profiles int) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(service, outcome).Inc()
	if profiles > 0 {
		m.leased.WithLabelValues(service).Add(float64(profiles))
	}
}

func (m *Metrics) Reclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.Add(float64(n))
}

func (m *Metrics) RenewalReminder() {
	if m == nil {
		return
	}
	m.reminders.Inc()
}

// JobRun matches the cron.Observer signature.
func (m *Metrics) JobRun(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) Notification(event string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notifications.WithLabelValues(event, status).Inc()
}

func (m *Metrics) HTTPRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, httpCode(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(route).Inc()
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
