package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/sharepool/pkg/cron"
	"github.com/dmitrymomot/sharepool/pkg/file"
	"github.com/dmitrymomot/sharepool/pkg/httpserver"
	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/metrics"
	"github.com/dmitrymomot/sharepool/pkg/ratelimiter"
	"github.com/dmitrymomot/sharepool/pkg/requestid"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/pool"
	"github.com/dmitrymomot/sharepool/svc/pricing"
)

type Orders interface {
	CreateOrder(ctx context.Context, params orders.CreateOrderParams) (orders.Order, error)
	SubmitProof(ctx context.Context, orderID uuid.UUID, proofRef string) (orders.Order, error)
	AdminApprove(ctx context.Context, orderID uuid.UUID, comment string) (orders.Order, error)
	AdminReject(ctx context.Context, orderID uuid.UUID, comment string) (orders.Order, error)
	Cancel(ctx context.Context, orderID, ownerID uuid.UUID) (orders.Order, error)
	RetryAllocation(ctx context.Context, orderID uuid.UUID) (orders.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (orders.Order, error)
	Proof(ctx context.Context, orderID uuid.UUID) (orders.PaymentProof, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]orders.Order, error)
	ListForReview(ctx context.Context) ([]orders.Order, error)
	ListUnfulfilled(ctx context.Context) ([]orders.Order, error)
}

type Pool interface {
	CreateAccount(ctx context.Context, params pool.CreateAccountParams) (pool.Account, []pool.Profile, error)
	ReleaseProfile(ctx context.Context, profileID uuid.UUID) error
	BlockProfile(ctx context.Context, profileID uuid.UUID) error
	UnblockProfile(ctx context.Context, profileID uuid.UUID) error
	Stats(ctx context.Context, service string) (pool.Stats, error)
	Seats(ctx context.Context, orderID uuid.UUID) ([]pool.Seat, error)
	Account(ctx context.Context, id uuid.UUID) (pool.Account, []pool.Profile, error)
}

type Catalog interface {
	Plans() []pricing.Plan
	Quote(service string, profiles, months int) (pricing.Quote, error)
}

type Contacts interface {
	SetEmail(ctx context.Context, ownerID uuid.UUID, email string) error
}

type Jobs interface {
	Jobs() []cron.JobStatus
	Trigger(ctx context.Context, name string) (bool, error)
}

// Deps are the services behind the API. Orders, Pool and Catalog are
// required; routes backed by a nil optional dependency are not mounted.
type Deps struct {
	Orders   Orders
	Pool     Pool
	Catalog  Catalog
	Proofs   file.Storage
	Contacts Contacts
	Jobs     Jobs
}

type Handler struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics

	limiter     *ratelimiter.Limiter
	checks      []httpserver.Check
	metricsH    http.Handler
	proofFiles  http.Handler
	healthLimit time.Duration
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(mh http.Handler) Option {
	return func(h *Handler) { h.metricsH = mh }
}

// WithReadinessChecks adds dependencies probed by /health/ready.
func WithReadinessChecks(checks ...httpserver.Check) Option {
	return func(h *Handler) { h.checks = append(h.checks, checks...) }
}

// WithRateLimiter throttles order creation, proof upload and cancellation
// per owner.
func WithRateLimiter(l *ratelimiter.Limiter) Option {
	return func(h *Handler) { h.limiter = l }
}

// WithProofFiles serves stored proofs under /proofs/, for local storage.
func WithProofFiles(fh http.Handler) Option {
	return func(h *Handler) { h.proofFiles = fh }
}

func NewHandler(cfg Config, deps Deps, opts ...Option) *Handler {
	if deps.Orders == nil {
		panic("api: orders service is required")
	}
	if deps.Pool == nil {
		panic("api: pool service is required")
	}
	if deps.Catalog == nil {
		panic("api: catalog is required")
	}

	h := &Handler{
		cfg:         cfg.withDefaults(),
		deps:        deps,
		logger:      slog.Default(),
		healthLimit: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With(logger.Component("api"))
	return h
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(h.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.cfg.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) { h.respondError(w, r, ErrNotFound) })
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { h.respondError(w, r, ErrMethodNotAllowed) })

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(h.logger, h.healthLimit, h.checks...))
	if h.metricsH != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsH)
	}
	if h.proofFiles != nil {
		r.Mount("/proofs", http.StripPrefix("/proofs", h.proofFiles))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/catalog", h.listPlans)
		r.Get("/quote", h.quote)

		r.Group(func(r chi.Router) {
			r.Use(h.requireOwner)
			r.With(h.limitOwner).Post("/orders", h.createOrder)
			r.Get("/orders", h.listMyOrders)
			r.Get("/orders/{orderID}", h.getMyOrder)
			r.With(h.limitOwner).Post("/orders/{orderID}/proof", h.submitProof)
			r.With(h.limitOwner).Post("/orders/{orderID}/cancel", h.cancelOrder)
			if h.deps.Contacts != nil {
				r.Put("/contact", h.setContact)
			}
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)

		r.Get("/orders/review", h.reviewQueue)
		r.Get("/orders/unfulfilled", h.unfulfilled)
		r.Get("/orders/{orderID}", h.adminGetOrder)
		r.Post("/orders/{orderID}/approve", h.approve)
		r.Post("/orders/{orderID}/reject", h.reject)
		r.Post("/orders/{orderID}/retry-allocation", h.retryAllocation)

		r.Post("/accounts", h.createAccount)
		r.Get("/accounts/{accountID}", h.getAccount)
		r.Post("/profiles/{profileID}/release", h.profileAction(h.deps.Pool.ReleaseProfile))
		r.Post("/profiles/{profileID}/block", h.profileAction(h.deps.Pool.BlockProfile))
		r.Post("/profiles/{profileID}/unblock", h.profileAction(h.deps.Pool.UnblockProfile))
		r.Get("/services/{service}/stats", h.stats)

		if h.deps.Jobs != nil {
			r.Get("/jobs", h.listJobs)
			r.Post("/jobs/{name}/trigger", h.triggerJob)
		}
	})

	return r
}
