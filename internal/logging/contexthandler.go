package logging

import (
	"context"
	"log/slog"
)

// ContextProvider returns attributes describing the current mission state.
// It is consulted per record, so attributes always reflect the live state.
type ContextProvider func() []slog.Attr

// ContextHandler wraps another handler and stamps each record with the
// provider's attributes, typically the active mission's status and route.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

// NewContextHandler creates a handler that adds dynamic context to each record.
func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{
		inner:    inner,
		provider: provider,
	}
}

// Enabled delegates to the inner handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle stamps the record and delegates to the inner handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new ContextHandler with the given attributes.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{
		inner:    h.inner.WithAttrs(attrs),
		provider: h.provider,
	}
}

// WithGroup returns a new ContextHandler with the given group.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{
		inner:    h.inner.WithGroup(name),
		provider: h.provider,
	}
}
