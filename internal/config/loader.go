package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envOverrides are applied on top of the file. Empty values leave the file alone.
type envOverrides struct {
	LogLevel    string `env:"VELOX_LOG_LEVEL"`
	Listen      string `env:"VELOX_LISTEN"`
	Token       string `env:"VELOX_TOKEN"`
	FSRoot      string `env:"VELOX_FS_ROOT"`
	JournalPath string `env:"VELOX_JOURNAL_PATH"`
	Workers     int    `env:"VELOX_WORKERS"`
	Window      string `env:"VELOX_WINDOW_BACKEND"`
}

// Load reads, verifies and validates the configuration at configPath, which
// may be a file or a directory containing velox.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}
	configDir := filepath.Dir(absPath)

	cfg := Defaults()
	if err := decodeFile(absPath, cfg); err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	permPath := filepath.Join(configDir, PermissionsFileName)
	if fileExists(permPath) {
		var perms map[string][]string
		if err := decodeFile(permPath, &perms); err != nil {
			return nil, err
		}
		if len(cfg.Permissions) > 0 {
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("%s replaces the permissions block in %s", PermissionsFileName, filepath.Base(absPath)))
		}
		cfg.Permissions = perms
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)
	resolvePaths(cfg, configDir)

	integrity := Verify(ScopeFor(absPath), cfg.App.RequireChecksums)
	cfg.Warnings = append(cfg.Warnings, integrity.Warnings...)
	if !integrity.Passed {
		return nil, fmt.Errorf("config integrity check failed: %s\n"+
			"If you edited the config intentionally, run: velox config lock", strings.Join(integrity.Errors, "; "))
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Permissions) == 0 {
		cfg.Warnings = append(cfg.Warnings, "no permissions configured; every call will be denied")
	}
	return cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $VELOX_CONFIG_DIR, ~/.config/velox, ./velox.yaml
func Discover() (string, error) {
	if dir := os.Getenv("VELOX_CONFIG_DIR"); dir != "" {
		if path := filepath.Join(dir, FileName); fileExists(path) {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		if path := filepath.Join(homeDir, ".config", "velox", FileName); fileExists(path) {
			return path, nil
		}
	}

	if fileExists(FileName) {
		return filepath.Abs(FileName)
	}

	return "", fmt.Errorf("no config found (checked: $VELOX_CONFIG_DIR, ~/.config/velox, ./%s)", FileName)
}

// ResolvePath returns the absolute config file path for a file or directory.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, FileName)
		if !fileExists(absPath) {
			return "", fmt.Errorf("directory provided but %s not found: %s", FileName, absPath)
		}
	}
	return absPath, nil
}

// decodeFile interpolates ${VAR} references and strictly decodes YAML into out.
func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := ParseEnv(&o); err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.App.LogLevel = o.LogLevel
	}
	if o.Listen != "" {
		cfg.Transport.Listen = o.Listen
	}
	if o.Token != "" {
		cfg.Transport.Auth.Token = o.Token
	}
	if o.FSRoot != "" {
		cfg.FS.Root = o.FSRoot
	}
	if o.JournalPath != "" {
		cfg.Journal.Path = o.JournalPath
	}
	if o.Workers > 0 {
		cfg.Bridge.Workers = o.Workers
	}
	if o.Window != "" {
		cfg.Window.Backend = o.Window
	}
	return nil
}

// applyConfigDefaults fills values left empty or zeroed in the file.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.App.Name == "" {
		cfg.App.Name = defaults.App.Name
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	cfg.App.LogLevel = strings.ToLower(cfg.App.LogLevel)

	if cfg.Bridge.Workers == 0 {
		cfg.Bridge.Workers = defaults.Bridge.Workers
	}
	if cfg.Bridge.QueueSize == 0 {
		cfg.Bridge.QueueSize = defaults.Bridge.QueueSize
	}
	if cfg.Bridge.ShutdownTimeout == 0 {
		cfg.Bridge.ShutdownTimeout = defaults.Bridge.ShutdownTimeout
	}

	if cfg.FS.MaxReadBytes == 0 {
		cfg.FS.MaxReadBytes = defaults.FS.MaxReadBytes
	}
	if cfg.FS.Dialog == "" {
		cfg.FS.Dialog = defaults.FS.Dialog
	}
	if cfg.Subprocess.GracePeriod == 0 {
		cfg.Subprocess.GracePeriod = defaults.Subprocess.GracePeriod
	}
	if cfg.Subprocess.MaxOutputBytes == 0 {
		cfg.Subprocess.MaxOutputBytes = defaults.Subprocess.MaxOutputBytes
	}
	if cfg.Notification.Backend == "" {
		cfg.Notification.Backend = defaults.Notification.Backend
	}
	if cfg.Window.Backend == "" {
		cfg.Window.Backend = defaults.Window.Backend
	}
	if len(cfg.Window.Labels) == 0 {
		cfg.Window.Labels = defaults.Window.Labels
	}
	return cfg
}

// resolvePaths anchors relative paths at the config directory.
func resolvePaths(cfg *Config, configDir string) {
	anchor := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	cfg.FS.Root = anchor(cfg.FS.Root)
	cfg.Journal.Path = anchor(cfg.Journal.Path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
