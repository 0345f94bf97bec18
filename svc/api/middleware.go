package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dmitrymomot/sharepool/pkg/logger"
)

// limitOwner throttles write requests per owner. It must run after
// requireOwner. Store failures let the request through.
func (h *Handler) limitOwner(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := h.limiter.Allow(r.Context(), "owner:"+ownerFrom(r.Context()).String())
		if err != nil {
			h.logger.WarnContext(r.Context(), "rate limiter unavailable", logger.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		hdr := w.Header()
		hdr.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		hdr.Set("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
		hdr.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed() {
			secs := int(math.Ceil(d.RetryAfter(time.Now()).Seconds()))
			hdr.Set("Retry-After", strconv.Itoa(max(secs, 1)))
			h.metrics.RateLimited(chi.RouteContext(r.Context()).RoutePattern())
			h.respondError(w, r, ErrTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ownerKey struct{}

// requireOwner reads the caller's owner id from the configured header. The
// header is set by the authenticating gateway in front of this service.
func (h *Handler) requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(h.cfg.OwnerHeader))
		if err != nil || id == uuid.Nil {
			h.respondError(w, r, ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, id)))
	})
}

func ownerFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ownerKey{}).(uuid.UUID)
	return id
}

// requireAdmin checks a static bearer token in constant time.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	want := []byte(h.cfg.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if len(want) == 0 || !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			h.respondError(w, r, ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records every request in metrics and the access log, labelled
// by route pattern rather than raw path.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		d := time.Since(start)

		h.metrics.HTTPRequest(route, r.Method, status, d)
		h.logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			logger.Duration(d))
	})
}
