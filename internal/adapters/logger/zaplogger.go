package logger

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the zap encoder.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ZapLogger implements the ports.Logger interface on top of zap's sugared logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level LogLevel
}

// NewZapLogger builds a logger writing to stderr with the given level and encoder.
func NewZapLogger(level LogLevel, format Format) (*ZapLogger, error) {
	var cfg zap.Config
	if format == FormatJSON {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.OutputPaths = []string{"stderr"}

	base, err := cfg.Build(
		zap.AddCallerSkip(2),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return nil, err
	}
	return &ZapLogger{sugar: base.Sugar(), level: level}, nil
}

// NewFromZap wraps an existing zap logger. Used by tests with zaptest/observer cores.
func NewFromZap(base *zap.Logger, level LogLevel) *ZapLogger {
	return &ZapLogger{sugar: base.WithOptions(zap.AddCallerSkip(2)).Sugar(), level: level}
}

// With returns a child logger that always carries the given fields.
func (l *ZapLogger) With(fields map[string]interface{}) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.With(flatten(fields)...), level: l.level}
}

// Level reports the configured threshold.
func (l *ZapLogger) Level() LogLevel {
	return l.level
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

func (l *ZapLogger) log(_ context.Context, level LogLevel, msg string, err error, fields ...map[string]interface{}) {
	if level < l.level {
		return
	}

	var kv []interface{}
	if len(fields) > 0 && fields[0] != nil {
		kv = flatten(fields[0])
	}
	if err != nil {
		kv = append(kv, "error", err.Error())
	}

	switch level {
	case LevelDebug:
		l.sugar.Debugw(msg, kv...)
	case LevelInfo:
		l.sugar.Infow(msg, kv...)
	case LevelWarn:
		l.sugar.Warnw(msg, kv...)
	default:
		l.sugar.Errorw(msg, kv...)
	}
}

// Debug logs a message at Debug level.
func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, nil, fields...)
}

// Info logs a message at Info level.
func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, nil, fields...)
}

// Warn logs a message at Warning level.
func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, nil, fields...)
}

// Error logs an error message at Error level.
func (l *ZapLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelError, msg, err, fields...)
}

// flatten turns a field map into sorted key/value pairs so output is stable.
func flatten(fields map[string]interface{}) []interface{} {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[k])
	}
	return kv
}
