// Package subprocess implements the subprocess capability: running shell
// commands on a worker with cancellation that reliably reaps the child.
package subprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/protocol"
	"github.com/mattjoyce/velox/internal/workspace"
)

const (
	defaultGracePeriod    = 5 * time.Second
	defaultMaxOutputBytes = 64 * 1024
)

var schemas = map[string]protocol.Schema{
	"exec": {
		{Name: "command", Kind: protocol.ArgString},
		{Name: "workingDir", Kind: protocol.ArgString, Optional: true},
		{Name: "captureOutput", Kind: protocol.ArgBool, Optional: true},
	},
}

// Config tunes process execution.
type Config struct {
	// Shell is the interpreter prefix, e.g. ["sh", "-c"]. Empty picks the platform default.
	Shell []string
	// GracePeriod is how long a cancelled process gets between SIGTERM and SIGKILL.
	GracePeriod time.Duration
	// MaxOutputBytes caps each captured stream.
	MaxOutputBytes int
}

// ExitInfo is the exec result. A non-zero exit code is still a successful call.
type ExitInfo struct {
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout,omitempty"`
	Stderr          string `json:"stderr,omitempty"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	DurationMs      int64  `json:"duration_ms"`
}

// Handler is the subprocess capability.
type Handler struct {
	resolver workspace.Resolver
	cfg      Config
	logger   *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

func New(resolver workspace.Resolver, cfg Config) *Handler {
	if len(cfg.Shell) == 0 {
		cfg.Shell = DefaultShell()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &Handler{
		resolver: resolver,
		cfg:      cfg,
		logger:   log.WithCapability(string(protocol.CapabilitySubprocess)),
	}
}

// DefaultShell returns the platform shell prefix.
func DefaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"sh", "-c"}
}

func (h *Handler) Capability() protocol.Capability { return protocol.CapabilitySubprocess }

func (h *Handler) Operations() map[string]protocol.Schema { return schemas }

func (h *Handler) Execute(ctx context.Context, call handler.Call) (any, error) {
	if call.Operation != "exec" {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "unknown operation subprocess.%s", call.Operation)
	}
	capture := true
	if call.Args.Has(2) {
		capture = call.Args.Bool(2)
	}
	return h.Run(ctx, call.Args.String(0), call.Args.String(1), capture)
}

// Run executes command through the shell. When ctx is done the process
// group gets SIGTERM, then SIGKILL after the grace period; Run returns only
// after the child has been reaped.
func (h *Handler) Run(ctx context.Context, command, workingDir string, capture bool) (*ExitInfo, error) {
	if command == "" {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "command is empty")
	}
	dir := h.resolver.Root()
	if workingDir != "" {
		p, err := h.resolver.Resolve(workingDir)
		if err != nil {
			return nil, err
		}
		dir = p
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, protocol.FromOSError("working directory", workingDir, err)
	}
	if !info.IsDir() {
		return nil, protocol.Errorf(protocol.KindInvalidArguments, "working directory %s is not a directory", workingDir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Termination is managed below rather than through CommandContext so the
	// whole process group gets the TERM/KILL sequence.
	argv := append(append([]string{}, h.cfg.Shell[1:]...), command)
	cmd := exec.Command(h.cfg.Shell[0], argv...)
	cmd.Dir = dir
	cmd.WaitDelay = h.cfg.GracePeriod
	setProcessGroup(cmd)

	var stdout, stderr *cappedBuffer
	if capture {
		stdout = newCappedBuffer(h.cfg.MaxOutputBytes)
		stderr = newCappedBuffer(h.cfg.MaxOutputBytes)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	logger := h.logger.With("dir", dir)
	logger.Debug("spawning process", "command", command)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, protocol.Errorf(protocol.KindHandlerError, "start process: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Warn("call cancelled, sending SIGTERM", "pid", cmd.Process.Pid)
		if err := terminate(cmd); err != nil {
			logger.Debug("SIGTERM failed", "error", err)
		}

		grace := time.NewTimer(h.cfg.GracePeriod)
		defer grace.Stop()

		select {
		case <-waitErr:
			logger.Info("process exited after SIGTERM")
			// Reap anything left in the group by the shell.
			_ = kill(cmd)
		case <-grace.C:
			logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
			if err := kill(cmd); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
			<-waitErr
		}
		return nil, ctx.Err()

	case err := <-waitErr:
		res := &ExitInfo{DurationMs: time.Since(start).Milliseconds()}
		if capture {
			res.Stdout, res.StdoutTruncated = stdout.String(), stdout.Truncated()
			res.Stderr, res.StderrTruncated = stderr.String(), stderr.Truncated()
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, protocol.Errorf(protocol.KindHandlerError, "wait for process: %v", err)
			}
			logger.Debug("process exited with non-zero status", "exit_code", exitErr.ExitCode())
		}
		res.ExitCode = cmd.ProcessState.ExitCode()
		return res, nil
	}
}

// String renders a short summary for CLI output.
func (e *ExitInfo) String() string {
	return fmt.Sprintf("exit=%d duration=%dms", e.ExitCode, e.DurationMs)
}
