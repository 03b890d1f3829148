package logger

import (
	"os"
	"strings"

	"market-fanout/src/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name  string
	sugar *zap.SugaredLogger
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. DEBUG selects the development console
// encoder, anything else the production JSON encoder.
func NewLogger(config *models.MConfig, name string) *Logger {
	var zl *zap.Logger
	if config != nil && strings.EqualFold(config.LogLevel, "DEBUG") {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zl = zap.Must(cfg.Build())
	} else {
		cfg := zap.NewProductionConfig()
		if config != nil && config.LogLevel != "" {
			if lvl, err := zapcore.ParseLevel(strings.ToLower(config.LogLevel)); err == nil {
				cfg.Level = zap.NewAtomicLevelAt(lvl)
			}
		}
		zl = zap.Must(cfg.Build())
	}
	return &Logger{name: name, sugar: zl.Named(name).Sugar()}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{name: "nop", sugar: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger (zaptest in tests).
func FromZap(zl *zap.Logger, name string) *Logger {
	return &Logger{name: name, sugar: zl.Named(name).Sugar()}
}

// -----------------------------------------------------------------------------

// Named returns a child logger for a component.
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: name, sugar: l.sugar.Named(name)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// -----------------------------------------------------------------------------

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
	_ = l.sugar.Sync()
	os.Exit(1)
}
