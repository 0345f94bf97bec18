package api

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/sharepool/pkg/file"
	"github.com/dmitrymomot/sharepool/pkg/validator"
	"github.com/dmitrymomot/sharepool/svc/orders"
	"github.com/dmitrymomot/sharepool/svc/pool"
	"github.com/dmitrymomot/sharepool/svc/pricing"
)

// HTTPError is an error with a status code and a stable machine key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string {
	return e.Key
}

var (
	ErrBadRequest           = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrUnauthorized         = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrNotFound             = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrMethodNotAllowed     = HTTPError{Code: http.StatusMethodNotAllowed, Key: "method_not_allowed"}
	ErrConflict             = HTTPError{Code: http.StatusConflict, Key: "conflict"}
	ErrRequestTooLarge      = HTTPError{Code: http.StatusRequestEntityTooLarge, Key: "request_entity_too_large"}
	ErrUnsupportedMediaType = HTTPError{Code: http.StatusUnsupportedMediaType, Key: "unsupported_media_type"}
	ErrUnprocessable        = HTTPError{Code: http.StatusUnprocessableEntity, Key: "unprocessable_entity"}
	ErrInternal             = HTTPError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
	ErrServiceUnavailable   = HTTPError{Code: http.StatusServiceUnavailable, Key: "service_unavailable"}
	ErrTooManyRequests      = HTTPError{Code: http.StatusTooManyRequests, Key: "rate_limited"}
)

// Domain-specific keys. The client switches on these, so they are stable.
var (
	errInvalidState         = HTTPError{Code: http.StatusConflict, Key: "invalid_state"}
	errConcurrencyConflict  = HTTPError{Code: http.StatusConflict, Key: "concurrency_conflict"}
	errInsufficientCapacity = HTTPError{Code: http.StatusConflict, Key: "insufficient_capacity"}
	errAlreadyAllocated     = HTTPError{Code: http.StatusConflict, Key: "already_allocated"}
	errProfileState         = HTTPError{Code: http.StatusConflict, Key: "profile_state"}
	errUnknownService       = HTTPError{Code: http.StatusUnprocessableEntity, Key: "unknown_service"}
	errInvalidQuote         = HTTPError{Code: http.StatusUnprocessableEntity, Key: "invalid_quote"}
	errInvalidProof         = HTTPError{Code: http.StatusUnprocessableEntity, Key: "invalid_proof"}
	errJobNotFound          = HTTPError{Code: http.StatusNotFound, Key: "job_not_found"}
)

// classify maps a service error onto the HTTP error returned to the client.
// It reports whether the error is expected, i.e. caused by the request.
func classify(err error) (HTTPError, bool) {
	var httpErr HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr, httpErr.Code < http.StatusInternalServerError

	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrProofNotFound),
		errors.Is(err, orders.ErrNotOwner),
		errors.Is(err, pool.ErrAccountNotFound),
		errors.Is(err, pool.ErrProfileNotFound):
		return ErrNotFound, true

	case orders.IsInvalidState(err),
		errors.Is(err, orders.ErrNotApproved),
		errors.Is(err, orders.ErrAlreadyFulfilled),
		errors.Is(err, orders.ErrOrderExpired):
		return errInvalidState, true
	case errors.Is(err, orders.ErrConcurrencyConflict):
		return errConcurrencyConflict, true
	case pool.IsInsufficientCapacity(err):
		return errInsufficientCapacity, true
	case errors.Is(err, pool.ErrAlreadyAllocated):
		return errAlreadyAllocated, true
	case errors.Is(err, pool.ErrProfileNotFree),
		errors.Is(err, pool.ErrInvalidProfileState):
		return errProfileState, true

	case errors.Is(err, pricing.ErrUnknownService):
		return errUnknownService, true
	case errors.Is(err, pricing.ErrInvalidProfileCount),
		errors.Is(err, pricing.ErrInvalidDuration):
		return errInvalidQuote, true

	case errors.Is(err, orders.ErrEmptyProofRef),
		errors.Is(err, pool.ErrInvalidCapacity),
		errors.Is(err, pool.ErrEmptyService),
		errors.Is(err, pool.ErrEmptyCredential),
		validator.IsValidationError(err):
		return ErrUnprocessable, true

	case errors.Is(err, file.ErrFileTooLarge):
		return ErrRequestTooLarge, true
	case errors.Is(err, file.ErrMIMETypeNotAllowed),
		errors.Is(err, file.ErrNilFileHeader),
		errors.Is(err, file.ErrInvalidPath):
		return errInvalidProof, true
	case errors.Is(err, file.ErrServiceUnavailable),
		errors.Is(err, file.ErrRequestTimeout):
		return ErrServiceUnavailable, false
	}
	return ErrInternal, false
}
