package logger

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	orig := os.Stdout
	defer func() { os.Stdout = orig }()

	r, w, err := os.Pipe()
	require.NoError(t, err, "failed to create stdout pipe")
	os.Stdout = w

	fn()

	err = w.Close()
	require.NoError(t, err, "failed to close stdout pipe")

	out, err := io.ReadAll(r)
	require.NoError(t, err, "failed to read stdout pipe")

	return string(out)
}

func TestLogger_parseLevel(t *testing.T) {
	t.Run("valid value", func(t *testing.T) {
		tests := []struct {
			level    string
			expected slog.Level
		}{
			{LevelDebug, slog.LevelDebug},
			{LevelInfo, slog.LevelInfo},
			{LevelWarn, slog.LevelWarn},
			{LevelError, slog.LevelError},
			{"WARN", slog.LevelWarn},
		}

		for _, tt := range tests {
			require.Equal(t, tt.expected, parseLevelString(tt.level))
		}
	})

	t.Run("unknown value defaults to info", func(t *testing.T) {
		require.Equal(t, slog.LevelInfo, parseLevelString("whatever"))
	})
}

func TestLogger_New(t *testing.T) {
	t.Run("production logs json", func(t *testing.T) {
		out := captureStdout(t, func() {
			l, err := New(EnvProduction, LevelInfo)
			require.NoError(t, err)
			l.Info("hello", "key", "value")
		})

		var record map[string]any
		err := json.Unmarshal([]byte(out), &record)
		require.NoError(t, err, "production output should be json")
		require.Equal(t, "hello", record["msg"])
		require.Equal(t, "value", record["key"])
	})

	t.Run("development logs text", func(t *testing.T) {
		out := captureStdout(t, func() {
			l, err := New(EnvDevelopment, LevelInfo)
			require.NoError(t, err)
			l.Info("hello")
		})

		require.Contains(t, out, "msg=hello")
	})

	t.Run("unknown environment fails", func(t *testing.T) {
		_, err := New("staging", LevelInfo)
		require.Error(t, err)
	})

	t.Run("level respected", func(t *testing.T) {
		out := captureStdout(t, func() {
			l, err := New(EnvDevelopment, LevelWarn)
			require.NoError(t, err)
			l.Info("dropped")
			l.Warn("kept")
		})

		require.NotContains(t, out, "dropped")
		require.Contains(t, out, "kept")
	})

	t.Run("noop logs nothing", func(t *testing.T) {
		out := captureStdout(t, func() {
			NewNoop().Error("dropped")
		})

		require.Empty(t, out)
	})
}
