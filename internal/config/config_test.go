package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8099", cfg.HTTPAddr)
	require.Equal(t, "127.0.0.1", cfg.Moonraker.Host)
	require.Equal(t, 7125, cfg.Moonraker.Port)
	require.Equal(t, 100, cfg.Cloud.FeedrateXY)
	require.Equal(t, 10, cfg.Cloud.FeedrateZ)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("BRIDGE_MOONRAKER_HOST", "printer.local")
	t.Setenv("BRIDGE_MOONRAKER_PORT", "7126")
	t.Setenv("BRIDGE_CLOUD_URL", "https://cloud.example.com/")
	t.Setenv("BRIDGE_CLOUD_AUTH_TOKEN", "secret")
	t.Setenv("BRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "printer.local", cfg.Moonraker.Host)
	require.Equal(t, 7126, cfg.Moonraker.Port)
	require.Equal(t, "secret", cfg.Cloud.AuthToken)
	require.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestMoonrakerURLs(t *testing.T) {
	m := Moonraker{Host: "printer.local", Port: 7125}
	require.Equal(t, "http://printer.local:7125", m.HTTPAddress())
	require.Equal(t, "ws://printer.local:7125/websocket", m.WSURL())
}

func TestCloudWSURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"https becomes wss", "https://cloud.example.com", "wss://cloud.example.com/ws/dev/"},
		{"trailing slash trimmed", "https://cloud.example.com/", "wss://cloud.example.com/ws/dev/"},
		{"http becomes ws", "http://localhost:3334", "ws://localhost:3334/ws/dev/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Cloud{URL: tc.url}.WSURL())
		})
	}
}

func TestSlogLevelFallsBackToInfo(t *testing.T) {
	require.Equal(t, slog.LevelInfo, Config{LogLevel: "unknown"}.SlogLevel())
	require.Equal(t, slog.LevelWarn, Config{LogLevel: "WARNING"}.SlogLevel())
	require.Equal(t, slog.LevelError, Config{LogLevel: "error"}.SlogLevel())
}
