package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		logger, err := NewLogger(NewDefaultConfig())
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.NoError(t, logger.Sync())
	})

	t.Run("nil config uses defaults", func(t *testing.T) {
		logger, err := NewLogger(nil)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("invalid format rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg)
		require.Error(t, err)
	})

	t.Run("stderr output", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Output = "stderr"
		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("invalid output rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Output = "syslog"
		_, err := NewLogger(cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "output")
	})
}

func TestLevelFromString(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
		ok   bool
	}{
		{"trace", TraceLevel, true},
		{"TRACE", TraceLevel, true},
		{"debug", zapcore.DebugLevel, true},
		{"info", zapcore.InfoLevel, true},
		{"warn", zapcore.WarnLevel, true},
		{"error", zapcore.ErrorLevel, true},
		{"fatal", zapcore.FatalLevel, true},
		{"nonsense", zapcore.InfoLevel, false},
	}
	for _, tc := range cases {
		got, err := LevelFromString(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestLoggerLevels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "trace msg")
	tl.Debug(ctx, "debug msg")
	tl.Info(ctx, "info msg")
	tl.Warn(ctx, "warn msg")
	tl.Error(ctx, "error msg")

	tl.AssertLogged(t, TraceLevel, "trace msg")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug msg")
	tl.AssertLogged(t, zapcore.InfoLevel, "info msg")
	tl.AssertLogged(t, zapcore.WarnLevel, "warn msg")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error msg")
}

func TestLoggerContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithSessionID(context.Background(), "sess-123")
	ctx = WithRequestID(ctx, "req-456")
	tl.Info(ctx, "with context")

	tl.AssertField(t, "with context", "session.id", "sess-123")
	tl.AssertField(t, "with context", "request.id", "req-456")
}

func TestLoggerWith(t *testing.T) {
	tl := NewTestLogger()

	child := tl.With(zapcore.Field{Key: "component", Type: zapcore.StringType, String: "ingest"})
	child.Info(context.Background(), "child msg")

	// Parent observer sees the child's entries since they share a core.
	tl.AssertField(t, "child msg", "component", "ingest")
}

func TestLoggerNamed(t *testing.T) {
	tl := NewTestLogger()
	named := tl.Named("queue")
	named.Info(context.Background(), "named msg")

	entries := tl.FilterMessage("named msg").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "queue", entries[0].LoggerName)
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	// Must not panic and must swallow everything.
	logger.Info(context.Background(), "dropped")
	logger.Error(context.Background(), "dropped too")
	assert.NoError(t, logger.Sync())
}
