// Package logging builds the process-wide zap logger. Components receive
// it as an explicit constructor argument instead of reaching for a
// global; WithLogger/FromContext can also carry it in a context.Context.
package logging

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{}

var (
	fallback  *zap.Logger
	loggerKey = contextKey{}
)

// Level mirrors the configured log level before it is resolved to a
// zapcore.Level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init builds a console core plus an optional JSON file core and returns
// the logger with a cleanup function that flushes and closes the file.
func Init(level Level, logFile string) (*zap.Logger, func(), error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Local().Format("2006-01-02 15:04:05.000"))
	}
	encoderCfg.TimeKey = "timestamp"

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(os.Stdout),
		level.zapLevel(),
	)
	cores := []zapcore.Core{consoleCore}

	var logFd *os.File
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		logFd = file
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.AddSync(file),
			level.zapLevel(),
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	fallback = logger

	cleanup := func() {
		_ = logger.Sync()
		if logFd != nil {
			_ = logFd.Close()
		}
	}
	return logger, cleanup, nil
}

// Fallback returns the last logger built by Init, or a development logger
// if Init was never called. Only code paths that cannot be handed a
// logger explicitly (e.g. package-level init helpers) should use this.
func Fallback() *zap.Logger {
	if fallback != nil {
		return fallback
	}
	logger, _ := zap.NewDevelopment()
	fallback = logger
	return logger
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = Fallback()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger stored by WithLogger, falling back to
// Fallback() if ctx carries none.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Fallback()
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return Fallback()
}
