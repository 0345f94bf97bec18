package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/sharepool/pkg/logger"
	"github.com/dmitrymomot/sharepool/pkg/validator"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data})
}

func respondList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, Envelope{Data: items, Meta: map[string]any{"count": len(items)}})
}

// respondError logs err and renders it. Expected errors keep their message;
// unexpected ones are reported by key only.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httpErr, expected := classify(err)

	detail := &ErrorDetail{Code: httpErr.Key, Message: http.StatusText(httpErr.Code)}
	if expected {
		detail.Message = err.Error()
	}
	if errs := validator.Extract(err); errs != nil {
		detail.Message = "validation failed"
		detail.Details = errs.Map()
	}

	level := slog.LevelWarn
	if !expected {
		level = slog.LevelError
	}
	h.logger.LogAttrs(r.Context(), level, "request failed",
		logger.Error(err),
		slog.Int("status", httpErr.Code),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))

	writeJSON(w, httpErr.Code, Envelope{Error: detail})
}
