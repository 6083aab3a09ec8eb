package logging

import "github.com/rs/zerolog"

// DispatcherLogger adapts a zerolog.Logger to the dispatcher.Logger
// interface, which speaks slog-style key-value pairs.
type DispatcherLogger struct {
	logger zerolog.Logger
}

// NewDispatcherLogger wraps a zerolog.Logger for use by the dispatcher.
func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields folds key-value pairs into a zerolog fields map. Keys that are
// not strings are dropped, as are trailing values without a key.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
