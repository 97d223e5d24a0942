package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"fatal":   zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestConfigureRejectsUnknownLevel ensures Configure reports bad input without touching the level.
func TestConfigureRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	before := Level()

	require.Error(t, Configure("loud"))
	require.Equal(t, before, Level())
}

// TestContextLogger checks that named and enriched loggers travel through the context.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), NewWithWriter(&buf, zapcore.DebugLevel))
	ctx = WithName(ctx, "polypack")
	ctx = WithKV(ctx, "target", "linux-x86_64")

	InfoKV(ctx, "Building target", "profile", "release")

	out := buf.String()
	require.Contains(t, out, "polypack")
	require.Contains(t, out, "Building target")
	require.Contains(t, out, "linux-x86_64")
	require.Contains(t, out, "release")
}

// TestFromContextFallsBackToGlobal ensures a bare context yields the global logger.
func TestFromContextFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestWithLevelName pins one context to its own level.
func TestWithLevelName(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	base := ToContext(context.Background(), NewWithWriter(&buf, zapcore.InfoLevel))

	quiet, ok := WithLevelName(base, "warn")
	require.True(t, ok)

	Info(quiet, "extracting payload")
	Warn(quiet, "extraction dir left behind")

	loud, ok := WithLevelName(base, "debug")
	require.True(t, ok)

	Debug(loud, "resolved binary")

	out := buf.String()
	require.NotContains(t, out, "extracting payload")
	require.Contains(t, out, "extraction dir left behind")
	require.Contains(t, out, "resolved binary")

	same, ok := WithLevelName(base, "chatty")
	require.False(t, ok)
	require.Equal(t, base, same)
}
