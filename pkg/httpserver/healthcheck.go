package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/sharepool/pkg/logger"
)

// Check is a named readiness dependency, e.g. the Postgres pool.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler always answers 200 while the process serves requests.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, healthResponse{Status: "alive"})
	}
}

// ReadinessHandler runs every check with the given per-check timeout and
// answers 503 if any of them fails. Every check runs even after a failure so
// the body reports the full picture.
func ReadinessHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ready", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK

		for _, c := range checks {
			err := runCheck(r.Context(), timeout, c)
			if err == nil {
				resp.Checks[c.Name] = "ok"
				continue
			}
			log.ErrorContext(r.Context(), "readiness check failed",
				slog.String("check", c.Name),
				logger.Error(err))
			resp.Checks[c.Name] = "failed"
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
		}

		writeHealth(w, code, resp)
	}
}

func runCheck(ctx context.Context, timeout time.Duration, c Check) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Fn(ctx)
}

func writeHealth(w http.ResponseWriter, code int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
