package config

import (
	"time"

	"github.com/mattjoyce/velox/internal/auth"
)

// FileName is the config file looked for in a config directory.
const FileName = "velox.yaml"

// PermissionsFileName optionally holds the permission manifest next to FileName.
const PermissionsFileName = "permissions.yaml"

// Config is the complete bridge configuration.
type Config struct {
	App          AppConfig           `yaml:"app"`
	Bridge       BridgeConfig        `yaml:"bridge"`
	Transport    TransportConfig     `yaml:"transport"`
	FS           FSConfig            `yaml:"fs"`
	Subprocess   SubprocessConfig    `yaml:"subprocess"`
	Notification NotificationConfig  `yaml:"notification"`
	Window       WindowConfig        `yaml:"window"`
	Journal      JournalConfig       `yaml:"journal"`
	Telemetry    TelemetryConfig     `yaml:"telemetry"`
	Permissions  map[string][]string `yaml:"permissions"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
	// Warnings collects non-fatal problems found while loading.
	Warnings []string `yaml:"-"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	// RequireChecksums refuses to start without a .checksums manifest.
	RequireChecksums bool `yaml:"require_checksums"`
}

// BridgeConfig sizes the dispatcher.
type BridgeConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TransportConfig configures the HTTP/websocket listener.
type TransportConfig struct {
	Enabled      bool       `yaml:"enabled"`
	Listen       string     `yaml:"listen"`
	AllowOrigins []string   `yaml:"allow_origins"`
	Auth         AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	// Token is the admin bearer token.
	Token  string             `yaml:"token"`
	Tokens []auth.TokenConfig `yaml:"tokens"`
}

type FSConfig struct {
	Root         string `yaml:"root"`
	Unrestricted bool   `yaml:"unrestricted"`
	MaxReadBytes int64  `yaml:"max_read_bytes"`
	// Dialog is auto, zenity, kdialog, osascript or none.
	Dialog string `yaml:"dialog"`
}

type SubprocessConfig struct {
	Shell          []string      `yaml:"shell"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
}

type NotificationConfig struct {
	// Backend is auto, dbus, osascript or none.
	Backend string `yaml:"backend"`
}

type WindowConfig struct {
	// Backend is memory or x11.
	Backend string `yaml:"backend"`
	// Labels are the windows opened at startup. The first one is the X11 window.
	Labels []string `yaml:"labels"`
	// X11Window is the X window id to drive; empty finds this process's window.
	X11Window string `yaml:"x11_window"`
}

type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:     "velox",
			LogLevel: "info",
		},
		Bridge: BridgeConfig{
			Workers:         4,
			QueueSize:       64,
			ShutdownTimeout: 10 * time.Second,
		},
		Transport: TransportConfig{
			Enabled: true,
			Listen:  "127.0.0.1:7878",
		},
		FS: FSConfig{
			Root:         "./data",
			MaxReadBytes: 64 << 20,
			Dialog:       "auto",
		},
		Subprocess: SubprocessConfig{
			GracePeriod:    5 * time.Second,
			MaxOutputBytes: 64 << 10,
		},
		Notification: NotificationConfig{Backend: "auto"},
		Window: WindowConfig{
			Backend: "memory",
			Labels:  []string{"main"},
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      "./data/velox.db",
			Retention: 7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{SampleRatio: 1},
	}
}
