package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/sharepool/svc/pricing"
)

type planView struct {
	Service      string          `json:"service"`
	Name         string          `json:"name"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	MaxProfiles  int             `json:"max_profiles"`
	MaxMonths    int             `json:"max_months,omitempty"`
	Discounts    []discountView  `json:"discounts,omitempty"`
}

type discountView struct {
	MinMonths int             `json:"min_months"`
	Percent   decimal.Decimal `json:"percent"`
}

func newPlanView(p pricing.Plan) planView {
	v := planView{
		Service:      p.Service,
		Name:         p.Name,
		MonthlyPrice: p.MonthlyPrice,
		MaxProfiles:  p.MaxProfiles,
		MaxMonths:    p.MaxMonths,
	}
	for _, d := range p.Discounts {
		v.Discounts = append(v.Discounts, discountView{MinMonths: d.MinMonths, Percent: d.Percent})
	}
	return v
}

func (h *Handler) listPlans(w http.ResponseWriter, _ *http.Request) {
	plans := h.deps.Catalog.Plans()
	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, newPlanView(p))
	}
	respondList(w, views)
}

// quote prices ?service=&profiles=&months= without creating an order.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	profiles, err := queryInt(q.Get("profiles"), 1)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: profiles: %v", ErrBadRequest, err))
		return
	}
	months, err := queryInt(q.Get("months"), 1)
	if err != nil {
		h.respondError(w, r, fmt.Errorf("%w: months: %v", ErrBadRequest, err))
		return
	}

	quote, err := h.deps.Catalog.Quote(q.Get("service"), profiles, months)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, quote)
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
