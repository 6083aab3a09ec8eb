package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Indirection over os.Stdout so tests can capture console output.
var osStdout io.Writer = os.Stdout

func osPipe() (*os.File, *os.File, error) {
	return os.Pipe()
}

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	// Dynamic attributes stamped onto every record, typically the
	// active mission id and status.
	ctxProvider ContextProvider
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// SetContextProvider installs a provider of per-record attributes.
// Takes effect on the next Setup call.
func (m *SlogManager) SetContextProvider(p ContextProvider) {
	m.ctxProvider = p
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system. Records go to the file when one
// is provided, otherwise to the console. Extra sinks (a GELF writer for
// Graylog, typically) receive JSON records. If provider is nil, OTel
// logging is disabled.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider, extraSinks ...io.Writer) {
	lvl := parseLevel(level)
	m.logProvider = provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	// Build list of handlers
	var handlers []slog.Handler

	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(osStdout, handlerOpts))
	}

	for _, sink := range extraSinks {
		if sink != nil {
			handlers = append(handlers, slog.NewJSONHandler(sink, handlerOpts))
		}
	}

	// OTel handler (if provider is available)
	if provider != nil {
		otelHandler := otelslog.NewHandler("patrold", otelslog.WithLoggerProvider(provider))
		handlers = append(handlers, otelHandler)
	}

	var handler slog.Handler = NewMultiHandler(handlers...)
	if m.ctxProvider != nil {
		handler = NewContextHandler(handler, m.ctxProvider)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
