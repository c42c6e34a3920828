package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")

	logger, closer := New(path, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("relay started", "addr", ":3001")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "relay started")
	require.Contains(t, string(data), "addr=:3001")
	require.False(t, strings.Contains(string(data), "hidden"))
}

func TestNew_Stderr(t *testing.T) {
	logger, closer := New("", slog.LevelDebug)
	require.NotNil(t, logger)
	require.True(t, logger.Enabled(t.Context(), slog.LevelDebug))
	require.NoError(t, closer.Close())
}
