package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{zap.New(core).Sugar()}, logs
}

func TestFromContext(t *testing.T) {
	l, logs := observed(zapcore.DebugLevel)
	ctx := WithLogger(context.Background(), l)

	Info(ctx, "entity tree deleted", "nodes", 3)
	Debug(ctx, "convention call", "method", "getByName")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "entity tree deleted", entries[0].Message)
		assert.Equal(t, int64(3), entries[0].ContextMap()["nodes"])
		assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	}
}

func TestFromContext_Default(t *testing.T) {
	assert.Same(t, Default(), FromContext(context.Background()))
}

func TestWithContext_AddsSpan(t *testing.T) {
	l, logs := observed(zapcore.InfoLevel)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{2},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithLogger(ctx, l)

	Warn(ctx, "metadata cache file unreadable")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
		assert.Equal(t, sc.SpanID().String(), fields["span_id"])
	}
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "chatty", OutputPaths: []string{"stderr"}})
	assert.NoError(t, err)
	assert.False(t, l.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Error(WithLogger(context.Background(), Nop().Named("test")), "discarded")
	})
}
