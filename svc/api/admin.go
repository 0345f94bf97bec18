package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/sharepool/pkg/cron"
	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/validator"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/pool"
)

type decisionRequest struct {
	Comment string `json:"comment"`
}

type createAccountRequest struct {
	Service      string   `json:"service"`
	Credential   string   `json:"credential"`
	Capacity     int      `json:"capacity"`
	ProfileNames []string `json:"profile_names,omitempty"`
}

func (req createAccountRequest) validate() error {
	return validator.Apply(
		validator.Required("service", req.Service),
		validator.Required("credential", req.Credential),
		validator.Between("capacity", req.Capacity, 1, pool.MaxProfilesPerAccount),
		validator.Rule{
			Check: func() bool { return len(req.ProfileNames) == 0 || len(req.ProfileNames) == req.Capacity },
			Error: validator.FieldError{Field: "profile_names", Message: "must name every profile or none"},
		},
	)
}

// adminOrderView adds the payment proof for reviewers.
type adminOrderView struct {
	orders.Order
	Proof *orders.PaymentProof `json:"proof,omitempty"`
	Seats []pool.Seat          `json:"seats,omitempty"`
}

type accountView struct {
	pool.Account
	Profiles []pool.Profile `json:"profiles"`
}

type jobView struct {
	Name         string `json:"name"`
	Schedule     string `json:"schedule"`
	Running      bool   `json:"running"`
	NextRun      string `json:"next_run,omitempty"`
	LastRun      string `json:"last_run,omitempty"`
	LastDuration string `json:"last_duration,omitempty"`
	LastError    string `json:"last_error,omitempty"`
	Runs         int64  `json:"runs"`
	Skipped      int64  `json:"skipped"`
}

func (h *Handler) reviewQueue(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Orders.ListForReview(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondList(w, list)
}

func (h *Handler) unfulfilled(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Orders.ListUnfulfilled(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondList(w, list)
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	order, err := h.deps.Orders.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	view := adminOrderView{Order: order}
	proof, err := h.deps.Orders.Proof(r.Context(), id)
	switch {
	case err == nil:
		view.Proof = &proof
	case !errors.Is(err, orders.ErrProofNotFound):
		h.respondError(w, r, err)
		return
	}
	if order.Fulfilled() {
		if view.Seats, err = h.deps.Pool.Seats(r.Context(), id); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	respond(w, http.StatusOK, view)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.deps.Orders.AdminApprove)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.deps.Orders.AdminReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, string) (orders.Order, error)) {
	id, err := pathID(r, "orderID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req decisionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	if err := validator.Apply(validator.MaxLen("comment", req.Comment, 1000)); err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := fn(r.Context(), id, req.Comment)
	h.respondTransition(w, r, order, err)
}

func (h *Handler) retryAllocation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	order, err := h.deps.Orders.RetryAllocation(r.Context(), id)
	h.respondTransition(w, r, order, err)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		h.respondError(w, r, err)
		return
	}

	account, profiles, err := h.deps.Pool.CreateAccount(r.Context(), pool.CreateAccountParams{
		Service:      strings.TrimSpace(req.Service),
		Credential:   req.Credential,
		Capacity:     req.Capacity,
		ProfileNames: req.ProfileNames,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, accountView{Account: account, Profiles: profiles})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "accountID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	account, profiles, err := h.deps.Pool.Account(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, accountView{Account: account, Profiles: profiles})
}

func (h *Handler) profileAction(fn func(context.Context, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "profileID")
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if err := fn(r.Context(), id); err != nil {
			h.respondError(w, r, err)
			return
		}
		h.logger.InfoContext(r.Context(), "profile updated by operator",
			logger.ProfileID(id),
			logger.Event(lastSegment(r.URL.Path)))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Pool.Stats(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, struct {
		pool.Stats
		Total int `json:"total"`
	}{st, st.Total()})
}

func (h *Handler) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := h.deps.Jobs.Jobs()
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, newJobView(j))
	}
	respondList(w, views)
}

// triggerJob starts a run now. 202 means a run was launched, 409 that one
// was already in flight.
func (h *Handler) triggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// The run outlives the request.
	started, err := h.deps.Jobs.Trigger(context.WithoutCancel(r.Context()), name)
	if errors.Is(err, cron.ErrJobNotFound) {
		h.respondError(w, r, errJobNotFound)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !started {
		h.respondError(w, r, ErrConflict)
		return
	}
	respond(w, http.StatusAccepted, map[string]string{"job": name})
}

func newJobView(j cron.JobStatus) jobView {
	v := jobView{
		Name:      j.Name,
		Schedule:  j.Schedule,
		Running:   j.Running,
		LastError: j.LastError,
		Runs:      j.Runs,
		Skipped:   j.Skipped,
	}
	if !j.NextRun.IsZero() {
		v.NextRun = j.NextRun.UTC().Format(time.RFC3339)
	}
	if !j.LastRun.IsZero() {
		v.LastRun = j.LastRun.UTC().Format(time.RFC3339)
		v.LastDuration = j.LastDuration.String()
	}
	return v
}

func lastSegment(path string) string {
	return path[strings.LastIndex(path, "/")+1:]
}
