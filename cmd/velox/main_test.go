package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/mattjoyce/velox/internal/config"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	// Drain concurrently so chatty commands cannot fill the pipe.
	stdoutCh := make(chan string)
	stderrCh := make(chan string)
	go func() { b, _ := io.ReadAll(stdoutR); stdoutCh <- string(b) }()
	go func() { b, _ := io.ReadAll(stderrR); stderrCh <- string(b) }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout := <-stdoutCh
	stderr := <-stderrCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, stdout, stderr
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

// writeTestConfig writes a transport-less config whose sandbox and journal
// live in a temp dir, and returns the config dir.
func writeTestConfig(t *testing.T, permissions string) string {
	t.Helper()

	dir := t.TempDir()
	content := `app:
  name: velox-test
  log_level: error
transport:
  enabled: false
fs:
  root: ` + filepath.Join(dir, "sandbox") + `
notification:
  backend: none
window:
  backend: memory
  labels: [main]
journal:
  enabled: true
  path: ` + filepath.Join(dir, "velox.db") + `
permissions:
` + permissions
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"frobnicate"})
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr, "Unknown command: frobnicate") {
		t.Fatalf("stderr missing unknown command: %q", stderr)
	}
	if !strings.Contains(stdout, "Usage:") {
		t.Fatalf("stdout missing usage: %q", stdout)
	}
}

func TestRunCLINounHelp(t *testing.T) {
	for _, noun := range []string{"bridge", "calls", "config"} {
		code, stdout, _ := captureOutputWithExitCode(t, func() int {
			return runCLI([]string{noun, "help"})
		})
		if code != 0 {
			t.Fatalf("%s help exit code = %d, want 0", noun, code)
		}
		if !strings.Contains(stdout, "Usage: velox "+noun) {
			t.Fatalf("%s help output = %q", noun, stdout)
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.2.3", "0123456789abcdef0123", "2026-01-02T03:04:05Z")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"--json"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v (%q)", err, stdout)
	}
	if info.Version != "1.2.3" || info.Commit != "0123456789ab" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected version info: %+v", info)
	}
}

func TestRunVersionRejectsArgs(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runVersion([]string{"extra"})
	})
	if code != 1 || !strings.Contains(stderr, "Usage: velox version") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestConfigLockThenCheck(t *testing.T) {
	dir := writeTestConfig(t, "  fs: [readTextFile]\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", dir, "-v"})
	})
	if code != 0 {
		t.Fatalf("lock exit code = %d, stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, config.FileName) || !strings.Contains(stdout, "Wrote") {
		t.Fatalf("lock output = %q", stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); err != nil {
		t.Fatalf(".checksums not written: %v", err)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", dir, "--json"})
	})
	if code != 0 {
		t.Fatalf("check exit code = %d, output=%q", code, stdout)
	}
	var report checkReport
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("check output is not JSON: %v", err)
	}
	if !report.Valid || !slices.Contains(report.Grants, "fs.readTextFile") {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Locks[config.FileName] != config.FileLocked || report.Locks[config.PermissionsFileName] != config.FileAbsent {
		t.Fatalf("unexpected lock status: %v", report.Locks)
	}

	// Tamper after locking.
	f, err := os.OpenFile(filepath.Join(dir, config.FileName), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open config: %v", err)
	}
	_, _ = f.WriteString("  subprocess: [exec]\n")
	_ = f.Close()

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", dir})
	})
	if code != 1 {
		t.Fatalf("check after tamper exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout, "integrity") || !strings.Contains(stdout, string(config.FileChanged)) {
		t.Fatalf("check output missing integrity failure: %q", stdout)
	}
}

func TestConfigLockDryRunWritesNothing(t *testing.T) {
	dir := writeTestConfig(t, "  fs: [readTextFile]\n")

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runConfigLock([]string{"--config", dir, "--dry-run"})
	})
	if code != 0 || !strings.Contains(stdout, "Dry run") {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}
	if _, err := os.Stat(filepath.Join(dir, ".checksums")); !os.IsNotExist(err) {
		t.Fatalf(".checksums should not exist, stat err = %v", err)
	}
}

func TestConfigCheckStrictWarnings(t *testing.T) {
	// No .checksums yields a warning.
	dir := writeTestConfig(t, "  fs: [readTextFile]\n")

	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runConfigCheck([]string{"--config", dir, "--strict"})
	})
	if code != 2 {
		t.Fatalf("strict check exit code = %d, want 2", code)
	}
}

func TestConfigTokenWithScopes(t *testing.T) {
	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigToken([]string{"--scopes", "bridge:call, bridge:events"})
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%q", code, stderr)
	}
	if !strings.Contains(stdout, "bridge:call") || !strings.Contains(stdout, "bridge:events") {
		t.Fatalf("token output missing scopes: %q", stdout)
	}
	if !strings.Contains(stdout, "token: ") {
		t.Fatalf("token output missing token: %q", stdout)
	}
}

func TestConfigTokenUnknownScope(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runConfigToken([]string{"--scopes", "jobs:rw"})
	})
	if code != 1 || !strings.Contains(stderr, "unknown scope") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestCallInProcessAndJournal(t *testing.T) {
	dir := writeTestConfig(t, "  fs: [saveFile, readTextFile]\n")

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCall([]string{"fs", "saveFile", "note.txt", "[104,105]", "--config", dir, "--id", "save-1"})
	})
	if code != 0 {
		t.Fatalf("saveFile exit code = %d, stdout=%q stderr=%q", code, stdout, stderr)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCall([]string{"--config", dir, "fs", "readTextFile", "note.txt"})
	})
	if code != 0 {
		t.Fatalf("readTextFile exit code = %d, stdout=%q", code, stdout)
	}
	var res struct {
		ID    string `json:"id"`
		OK    bool   `json:"ok"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("call output is not JSON: %v (%q)", err, stdout)
	}
	if !res.OK || res.Value != "hi" || res.ID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCall([]string{"subprocess", "exec", "echo nope", "--config", dir})
	})
	if code != 2 {
		t.Fatalf("denied call exit code = %d, want 2", code)
	}
	if !strings.Contains(stdout, "PermissionDenied") {
		t.Fatalf("denied call output = %q", stdout)
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCallsList([]string{"--config", dir, "--json"})
	})
	if code != 0 {
		t.Fatalf("calls list exit code = %d", code)
	}
	var entries []struct {
		CallID     string
		Capability string
		Status     string
	}
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("calls list output is not JSON: %v (%q)", err, stdout)
	}
	if len(entries) != 3 {
		t.Fatalf("journal entries = %d, want 3: %+v", len(entries), entries)
	}
	// newest first
	if entries[0].Capability != "subprocess" || entries[0].Status != "failed" {
		t.Fatalf("newest entry = %+v", entries[0])
	}
	if entries[2].CallID != "save-1" || entries[2].Status != "completed" {
		t.Fatalf("oldest entry = %+v", entries[2])
	}

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runCallsList([]string{"--config", dir, "--status", "failed"})
	})
	if code != 0 || !strings.Contains(stdout, "PermissionDenied") || strings.Contains(stdout, "save-1") {
		t.Fatalf("filtered list code=%d stdout=%q", code, stdout)
	}
}

func TestCallUsage(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCall([]string{"fs"})
	})
	if code != 1 || !strings.Contains(stderr, "Usage: velox call") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestCallsListRejectsBadStatus(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCallsList([]string{"--status", "exploded"})
	})
	if code != 1 || !strings.Contains(stderr, "Invalid --status") {
		t.Fatalf("code=%d stderr=%q", code, stderr)
	}
}

func TestSplitFlagsAndPositionals(t *testing.T) {
	flags, positionals := splitFlagsAndPositionals(
		[]string{"fs", "--config", "/tmp/x", "createDir", "-5", "--timeout=2s", "a"},
		map[string]bool{"config": true, "timeout": true},
	)
	if want := []string{"--config", "/tmp/x", "--timeout=2s"}; !slices.Equal(flags, want) {
		t.Fatalf("flags = %v, want %v", flags, want)
	}
	if want := []string{"fs", "createDir", "-5", "a"}; !slices.Equal(positionals, want) {
		t.Fatalf("positionals = %v, want %v", positionals, want)
	}
}

func TestParseCallArgs(t *testing.T) {
	got := parseCallArgs([]string{`"quoted"`, "plain text", "true", "[1,2]", `{"k":1}`})
	want := []string{`"quoted"`, `"plain text"`, `true`, `[1,2]`, `{"k":1}`}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Fatalf("arg %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestGetPIDLockPath(t *testing.T) {
	cfg := config.Defaults()
	cfg.Journal.Path = "/var/lib/velox/calls.db"
	if got := getPIDLockPath(cfg); got != "/var/lib/velox/calls.pid" {
		t.Fatalf("pid path = %q", got)
	}

	cfg.Journal.Enabled = false
	cfg.SourcePath = "/etc/velox/velox.yaml"
	if got := getPIDLockPath(cfg); got != "/etc/velox/velox.pid" {
		t.Fatalf("pid path = %q", got)
	}
}
