package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "LISTEN_HOST", "ADMIN_ADDR", "CONVERSA_DB", "SEND_BUFFER", "PING_INTERVAL", "WRITE_TIMEOUT", "LOG_FILE", "LOG_LEVEL"} {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":3001", cfg.ListenAddr)
	require.Empty(t, cfg.AdminAddr)
	require.Empty(t, cfg.DBFile)
	require.Equal(t, 256, cfg.SendBuffer)
	require.Equal(t, 30*time.Second, cfg.PingInterval)
	require.Equal(t, 10*time.Second, cfg.WriteTimeout)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("LISTEN_HOST", "127.0.0.1")
	t.Setenv("CONVERSA_DB", "/tmp/rooms.db")
	t.Setenv("SEND_BUFFER", "8")
	t.Setenv("PING_INTERVAL", "5s")
	t.Setenv("WRITE_TIMEOUT", "1s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4000", cfg.ListenAddr)
	require.Equal(t, "/tmp/rooms.db", cfg.DBFile)
	require.Equal(t, 8, cfg.SendBuffer)
	require.Equal(t, 5*time.Second, cfg.PingInterval)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"PORT":          "http",
		"SEND_BUFFER":   "0",
		"PING_INTERVAL": "soon",
		"LOG_LEVEL":     "chatty",
		"ADMIN_ADDR":    "localhost",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

// unsetEnv removes key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}
