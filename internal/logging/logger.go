package logging

import "github.com/rs/zerolog"

// Logger is the key/value logging interface components depend on.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Adapter adapts zerolog.Logger to the Logger interface.
type Adapter struct {
	logger zerolog.Logger
}

// NewAdapter creates a new Adapter wrapping a zerolog.Logger.
func NewAdapter(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Nop returns a Logger that discards everything.
func Nop() *Adapter {
	return &Adapter{logger: zerolog.Nop()}
}

// With returns an Adapter that adds the given key/value pairs to every entry.
func (l *Adapter) With(keysAndValues ...any) *Adapter {
	return &Adapter{logger: l.logger.With().Fields(toFields(keysAndValues)).Logger()}
}

// Zerolog exposes the wrapped logger.
func (l *Adapter) Zerolog() zerolog.Logger {
	return l.logger
}

// Debug logs a debug message with optional key-value pairs.
func (l *Adapter) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

// Info logs an info message with optional key-value pairs.
func (l *Adapter) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

// Warn logs a warning with optional key-value pairs.
func (l *Adapter) Warn(msg string, keysAndValues ...any) {
	l.logger.Warn().Fields(toFields(keysAndValues)).Msg(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *Adapter) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields converts key-value pairs to a map for zerolog.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			if err, isErr := keysAndValues[i+1].(error); isErr {
				fields[key] = err.Error()
				continue
			}
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}
