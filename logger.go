package appcontext

import (
	"go.uber.org/zap"

	"github.com/GoCodeAlone/appcontext/internal/logging"
)

// Logger defines the interface for context logging.
// Refresh stages, hook invocations, listener registration and shutdown steps
// are logged through it with key-value pairs. The lifecycle, environment,
// schedule and admin packages share the same contract, so a single
// implementation serves the whole container.
type Logger = logging.Logger

// ZapLogger adapts a zap SugaredLogger to Logger
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps logger; a nil logger yields a no-op zap logger
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

func (l *ZapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *ZapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
func (l *ZapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *ZapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }

// Sync flushes buffered log entries
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
