package api

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sharepool/pkg/file"
	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/validator"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/pool"
	"github.com/dmitrymomot/sharepool/svc/pricing"
)

type createOrderRequest struct {
	Service  string `json:"service"`
	Profiles int    `json:"profiles"`
	Months   int    `json:"months"`
}

func (req createOrderRequest) validate() error {
	return validator.Apply(
		validator.Required("service", req.Service),
		validator.MaxLen("service", req.Service, 64),
		validator.Between("profiles", req.Profiles, 1, pricing.MaxProfilesPerOrder),
		validator.Min("months", req.Months, 1),
	)
}

type submitProofRequest struct {
	Ref string `json:"ref"`
}

type contactRequest struct {
	Email string `json:"email"`
}

// orderView is what the owner sees: the order and, once fulfilled, the
// seats with their credentials.
type orderView struct {
	orders.Order
	Seats []pool.Seat `json:"seats,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err := h.deps.Orders.CreateOrder(r.Context(), orders.CreateOrderParams{
		OwnerID:  ownerFrom(r.Context()),
		Service:  strings.TrimSpace(req.Service),
		Profiles: req.Profiles,
		Months:   req.Months,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, order)
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Orders.ListByOwner(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondList(w, list)
}

func (h *Handler) getMyOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.ownedOrder(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	view := orderView{Order: order}
	if order.Fulfilled() {
		if view.Seats, err = h.deps.Pool.Seats(r.Context(), order.ID); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	respond(w, http.StatusOK, view)
}

// submitProof accepts either a JSON body with a reference to an already
// stored proof, or a multipart upload in the "file" field which is stored
// first. Orders that no longer take a proof are refused before anything is
// uploaded.
func (h *Handler) submitProof(w http.ResponseWriter, r *http.Request) {
	order, err := h.ownedOrder(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := orders.CheckAcceptsProof(order); err != nil {
		h.respondError(w, r, err)
		return
	}

	var ref string
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		ref, err = h.storeProof(w, r, order.ID)
	default:
		var req submitProofRequest
		err = decodeJSON(r, &req)
		ref = req.Ref
		if err == nil {
			err = validator.Apply(
				validator.Required("ref", req.Ref),
				validator.MaxLen("ref", req.Ref, 512),
			)
		}
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	order, err = h.deps.Orders.SubmitProof(r.Context(), order.ID, ref)
	h.respondTransition(w, r, order, err)
}

func (h *Handler) storeProof(w http.ResponseWriter, r *http.Request, orderID uuid.UUID) (string, error) {
	if h.deps.Proofs == nil {
		return "", fmt.Errorf("%w: uploads are disabled", ErrUnsupportedMediaType)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(file.MaxProofSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", ErrRequestTooLarge
		}
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fhs := r.MultipartForm.File["file"]
	if len(fhs) != 1 {
		return "", validator.Errors{{Field: "file", Message: "exactly one file is required"}}
	}
	fh := fhs[0]
	if err := file.ValidateProof(fh); err != nil {
		return "", err
	}
	key, err := file.ProofKey(orderID.String(), fh)
	if err != nil {
		return "", err
	}
	stored, err := h.deps.Proofs.Save(r.Context(), fh, key)
	if err != nil {
		return "", err
	}

	h.logger.InfoContext(r.Context(), "payment proof stored",
		logger.OrderID(orderID),
		logger.Event("proof_uploaded"))
	return stored.Key, nil
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "orderID")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	order, err := h.deps.Orders.Cancel(r.Context(), id, ownerFrom(r.Context()))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, order)
}

func (h *Handler) setContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := validator.Apply(validator.ValidEmail("email", req.Email)); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.deps.Contacts.SetEmail(r.Context(), ownerFrom(r.Context()), req.Email); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedOrder loads the order named in the path. Orders of other owners are
// reported as not found.
func (h *Handler) ownedOrder(r *http.Request) (orders.Order, error) {
	id, err := pathID(r, "orderID")
	if err != nil {
		return orders.Order{}, err
	}
	order, err := h.deps.Orders.Get(r.Context(), id)
	if err != nil {
		return orders.Order{}, err
	}
	if order.OwnerID != ownerFrom(r.Context()) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return order, nil
}

// respondTransition renders the result of a transition that may approve an
// order. An allocation failure after approval still returns the approved
// order, next to the error, so the caller sees both.
func (h *Handler) respondTransition(w http.ResponseWriter, r *http.Request, order orders.Order, err error) {
	if err == nil {
		respond(w, http.StatusOK, order)
		return
	}
	if order.ID == uuid.Nil || order.State != orders.StateApproved {
		h.respondError(w, r, err)
		return
	}

	httpErr, expected := classify(err)
	msg := http.StatusText(httpErr.Code)
	if expected {
		msg = err.Error()
	}
	h.logger.WarnContext(r.Context(), "order approved without allocation",
		logger.OrderID(order.ID),
		logger.Error(err))
	writeJSON(w, httpErr.Code, Envelope{
		Data:  order,
		Error: &ErrorDetail{Code: httpErr.Key, Message: msg},
	})
}
