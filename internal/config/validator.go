package config

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/velox/internal/auth"
	"github.com/mattjoyce/velox/internal/permission"
)

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.App.LogLevel] {
		return fmt.Errorf("app.log_level must be one of: debug, info, warn, error (got %q)", cfg.App.LogLevel)
	}

	if cfg.Bridge.Workers < 1 {
		return fmt.Errorf("bridge.workers must be positive")
	}
	if cfg.Bridge.QueueSize < 1 {
		return fmt.Errorf("bridge.queue_size must be positive")
	}
	if cfg.Bridge.DefaultTimeout < 0 {
		return fmt.Errorf("bridge.default_timeout must not be negative")
	}

	if err := validateTransport(&cfg.Transport); err != nil {
		return err
	}

	if cfg.FS.Root == "" {
		return fmt.Errorf("fs.root is required")
	}
	if cfg.FS.MaxReadBytes < 0 {
		return fmt.Errorf("fs.max_read_bytes must not be negative")
	}

	if cfg.Subprocess.GracePeriod < 0 {
		return fmt.Errorf("subprocess.grace_period must not be negative")
	}
	if cfg.Subprocess.MaxOutputBytes < 0 {
		return fmt.Errorf("subprocess.max_output_bytes must not be negative")
	}

	switch cfg.FS.Dialog {
	case "auto", "zenity", "kdialog", "osascript", "none":
	default:
		return fmt.Errorf("fs.dialog must be one of: auto, zenity, kdialog, osascript, none (got %q)", cfg.FS.Dialog)
	}

	switch cfg.Notification.Backend {
	case "auto", "dbus", "osascript", "none":
	default:
		return fmt.Errorf("notification.backend must be one of: auto, dbus, osascript, none (got %q)", cfg.Notification.Backend)
	}

	if err := validateWindow(&cfg.Window); err != nil {
		return err
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}

	if _, err := permission.NewGate(cfg.Permissions); err != nil {
		return err
	}
	return nil
}

func validateTransport(t *TransportConfig) error {
	if !t.Enabled {
		return nil
	}
	if t.Listen == "" {
		return fmt.Errorf("transport.listen is required when the transport is enabled")
	}
	if err := unresolved("transport.auth.token", t.Auth.Token); err != nil {
		return err
	}
	if t.Auth.Token == "" && len(t.Auth.Tokens) == 0 {
		return fmt.Errorf("transport.auth: token or tokens must be set when the transport is enabled")
	}
	for i, tok := range t.Auth.Tokens {
		field := fmt.Sprintf("transport.auth.tokens[%d]", i)
		if err := unresolved(field+".token", tok.Token); err != nil {
			return err
		}
		if strings.TrimSpace(tok.Token) == "" {
			return fmt.Errorf("%s.token is required", field)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s.scopes must not be empty", field)
		}
		for _, s := range tok.Scopes {
			if !auth.KnownScope(strings.TrimSpace(s)) {
				return fmt.Errorf("%s: unknown scope %q", field, s)
			}
		}
	}
	return nil
}

func validateWindow(w *WindowConfig) error {
	switch w.Backend {
	case "memory", "x11":
	default:
		return fmt.Errorf("window.backend must be one of: memory, x11 (got %q)", w.Backend)
	}
	seen := make(map[string]bool, len(w.Labels))
	for _, label := range w.Labels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("window.labels must not contain empty labels")
		}
		if seen[label] {
			return fmt.Errorf("window.labels: duplicate label %q", label)
		}
		seen[label] = true
	}
	return nil
}

// unresolved reports a ${VAR} left behind by interpolateEnv.
func unresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
