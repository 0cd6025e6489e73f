package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{" error ", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestZapLogger_FiltersBelowLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core), LevelWarn)
	ctx := context.Background()

	l.Debug(ctx, "debug msg")
	l.Info(ctx, "info msg")
	l.Warn(ctx, "warn msg", map[string]interface{}{"tradeID": "abc"})
	l.Error(ctx, errors.New("boom"), "error msg")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "warn msg", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["tradeID"])
	assert.Equal(t, "error msg", entries[1].Message)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestZapLogger_With(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core), LevelDebug).With(map[string]interface{}{"component": "controller"})

	l.Info(context.Background(), "hello", map[string]interface{}{"symbol": "BTCUSDT"})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "controller", fields["component"])
	assert.Equal(t, "BTCUSDT", fields["symbol"])
}

func TestNotifier_LogsNotification(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	n := NewNotifier(NewFromZap(zap.New(core), LevelInfo))

	require.NoError(t, n.Notify(context.Background(), 7, "trade closed"))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(7), fields["userID"])
	assert.Equal(t, "trade closed", fields["text"])
}
