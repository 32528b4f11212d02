// Package logging holds the key/value logger contract shared by every
// package of the module.
package logging

// Logger logs a message with optional key-value pairs:
//
//	logger.Info("Refreshing context", "id", ctx.ID())
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Shutdown warnings are reported here.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// Nop discards every entry
type Nop struct{}

func (Nop) Info(string, ...any)  {}
func (Nop) Error(string, ...any) {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Debug(string, ...any) {}

// OrNop returns logger, or Nop when logger is nil
func OrNop(logger Logger) Logger {
	if logger == nil {
		return Nop{}
	}
	return logger
}
