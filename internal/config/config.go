// Package config holds runtime settings for the bridge agent, loaded from
// environment variables.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Moonraker addresses the local printer host API.
type Moonraker struct {
	Host   string `envconfig:"HOST" default:"127.0.0.1"`
	Port   int    `envconfig:"PORT" default:"7125"`
	APIKey string `envconfig:"API_KEY"`
}

// HTTPAddress returns the REST base URL of the printer host.
func (m Moonraker) HTTPAddress() string {
	return fmt.Sprintf("http://%s:%d", m.Host, m.Port)
}

// WSURL returns the JSON-RPC WebSocket endpoint of the printer host.
func (m Moonraker) WSURL() string {
	return fmt.Sprintf("ws://%s:%d/websocket", m.Host, m.Port)
}

// Cloud addresses the remote service.
type Cloud struct {
	URL       string `envconfig:"URL" default:"https://app.printwatch.dev"`
	AuthToken string `envconfig:"AUTH_TOKEN"`
	// UploadDir is where downloaded g-code lands, relative to the printer
	// host's virtual sdcard root.
	UploadDir  string `envconfig:"UPLOAD_DIR"`
	FeedrateXY int    `envconfig:"FEEDRATE_XY" default:"100"`
	FeedrateZ  int    `envconfig:"FEEDRATE_Z" default:"10"`
}

// EndpointPrefix returns the canonical REST base URL.
func (c Cloud) EndpointPrefix() string {
	return strings.TrimSuffix(strings.TrimSpace(c.URL), "/")
}

// WSURL returns the device WebSocket endpoint of the cloud service.
func (c Cloud) WSURL() string {
	prefix := c.EndpointPrefix()
	if strings.HasPrefix(prefix, "https") {
		prefix = "wss" + strings.TrimPrefix(prefix, "https")
	} else if strings.HasPrefix(prefix, "http") {
		prefix = "ws" + strings.TrimPrefix(prefix, "http")
	}
	return prefix + "/ws/dev/"
}

// Webcam configures the snapshot trigger point only; streaming pipelines
// live outside this agent.
type Webcam struct {
	SnapshotURL string `envconfig:"SNAPSHOT_URL"`
}

// Config stores all runtime settings.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8099"`
	DBPath   string `envconfig:"DB_PATH" default:"/data/moonraker_bridge.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Moonraker Moonraker `envconfig:"MOONRAKER"`
	Cloud     Cloud     `envconfig:"CLOUD"`
	Webcam    Webcam    `envconfig:"WEBCAM"`
}

// Load builds Config from BRIDGE_-prefixed environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("bridge", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// DBDir returns the target directory for DBPath.
func (c Config) DBDir() string {
	return filepath.Dir(c.DBPath)
}

// SlogLevel maps the configured level string onto slog levels.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
