package logging

import (
	"context"
	"log/slog"
)

// MultiHandler fans every record out to a set of handlers. The engine logs
// to console or file, optionally to OTel, and optionally to GELF sinks, all
// through one slog.Logger.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler creates a handler that writes to all provided handlers.
// Nil entries are skipped so callers can pass optional sinks directly.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	valid := make([]slog.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			valid = append(valid, h)
		}
	}
	return &MultiHandler{handlers: valid}
}

// Enabled reports whether at least one handler wants the level.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle forwards the record to every interested handler. A failing sink
// does not stop delivery to the others.
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		_ = h.Handle(ctx, r.Clone())
	}
	return nil
}

// WithAttrs applies the attributes to every wrapped handler.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: handlers}
}

// WithGroup applies the group to every wrapped handler.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return m
	}
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: handlers}
}
