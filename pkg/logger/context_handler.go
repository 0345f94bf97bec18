package logger

import (
	"context"
	"log/slog"
)

// ContextExtractor pulls one attribute out of a context, such as the request
// id stored by the HTTP middleware.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// contextHandler adds extracted attributes to every record before passing it on.
type contextHandler struct {
	slog.Handler
	extractors []ContextExtractor
}

func withContextAttrs(h slog.Handler, extractors []ContextExtractor) slog.Handler {
	var keep []ContextExtractor
	for _, ex := range extractors {
		if ex != nil {
			keep = append(keep, ex)
		}
	}
	if len(keep) == 0 {
		return h
	}
	return &contextHandler{Handler: h, extractors: keep}
}

func (h *contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.Handler.Handle(ctx, rec)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs), extractors: h.extractors}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name), extractors: h.extractors}
}
