package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/velox/internal/bridge"
	"github.com/mattjoyce/velox/internal/config"
	"github.com/mattjoyce/velox/internal/dispatch"
	"github.com/mattjoyce/velox/internal/events"
	"github.com/mattjoyce/velox/internal/handler"
	"github.com/mattjoyce/velox/internal/handler/filesystem"
	"github.com/mattjoyce/velox/internal/handler/notify"
	"github.com/mattjoyce/velox/internal/handler/subprocess"
	"github.com/mattjoyce/velox/internal/handler/window"
	"github.com/mattjoyce/velox/internal/journal"
	"github.com/mattjoyce/velox/internal/permission"
	"github.com/mattjoyce/velox/internal/storage"
	"github.com/mattjoyce/velox/internal/workspace"
)

// runtime is the wired bridge without a transport.
type runtime struct {
	cfg      *config.Config
	hub      *events.Hub
	db       *sql.DB
	journal  *journal.Journal
	windows  *window.Manager
	registry *handler.Registry
	bridge   *bridge.Bridge
}

// buildRuntime opens the journal, the window backends and every handler,
// then starts the dispatcher behind a bridge.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{
		cfg:     cfg,
		hub:     events.NewHub(256),
		windows: window.NewManager(),
	}

	ok := false
	defer func() {
		if !ok {
			_ = rt.closeResources()
		}
	}()

	if cfg.Journal.Enabled {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.db = db
		rt.journal = journal.New(db)
		logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	if err := openWindows(rt.windows, cfg.Window, logger); err != nil {
		return nil, err
	}

	sandbox, err := workspace.NewSandbox(cfg.FS.Root, cfg.FS.Unrestricted)
	if err != nil {
		return nil, err
	}
	if m, err := storage.Inspect(sandbox.Root()); err != nil {
		logger.Debug("could not inspect fs.root filesystem", "error", err)
	} else if m.Network() {
		logger.Warn("fs.root is on a network filesystem; saveFile is not atomic there",
			"root", sandbox.Root(), "fstype", m.FSType)
	}
	notifier, err := notify.NewNotifier(cfg.Notification.Backend)
	if err != nil {
		return nil, err
	}
	dialog, err := filesystem.NewDialog(cfg.FS.Dialog)
	if err != nil {
		return nil, err
	}

	rt.registry, err = handler.NewRegistry(
		filesystem.New(sandbox, filesystem.Config{MaxReadBytes: cfg.FS.MaxReadBytes, Dialog: dialog}),
		subprocess.New(sandbox, subprocess.Config{
			Shell:          cfg.Subprocess.Shell,
			GracePeriod:    cfg.Subprocess.GracePeriod,
			MaxOutputBytes: cfg.Subprocess.MaxOutputBytes,
		}),
		notify.New(cfg.App.Name, notifier),
		// Windows added at runtime have no X11 counterpart.
		window.New(rt.windows, window.WithOpener(func(string) (window.Native, error) {
			return window.NewMemory(), nil
		})),
	)
	if err != nil {
		return nil, err
	}

	gate, err := permission.NewGate(cfg.Permissions)
	if err != nil {
		return nil, fmt.Errorf("permissions: %w", err)
	}
	for _, rule := range gate.Describe() {
		logger.Debug("permission granted", "rule", rule)
	}

	opts := []dispatch.Option{dispatch.WithEvents(rt.hub)}
	if rt.journal != nil {
		opts = append(opts, dispatch.WithRecorder(rt.journal))
	}
	d := dispatch.New(dispatch.Config{
		Workers:        cfg.Bridge.Workers,
		QueueSize:      cfg.Bridge.QueueSize,
		DefaultTimeout: cfg.Bridge.DefaultTimeout,
	}, gate, rt.registry, opts...)
	rt.bridge = bridge.New(d)

	ok = true
	return rt, nil
}

// openWindows registers the configured labels. With the x11 backend the
// first label drives the real X window and the rest stay in memory.
func openWindows(m *window.Manager, cfg config.WindowConfig, logger *slog.Logger) error {
	for i, label := range cfg.Labels {
		var native window.Native = window.NewMemory()
		if cfg.Backend == "x11" && i == 0 {
			x, err := window.ConnectX11(cfg.X11Window)
			if err != nil {
				return fmt.Errorf("window %q: %w", label, err)
			}
			logger.Info("x11 window attached", "label", label, "window_id", x.WindowID())
			native = x
		}
		if _, err := m.Open(label, native); err != nil {
			_ = native.Close()
			return fmt.Errorf("window %q: %w", label, err)
		}
	}
	return nil
}

// pruneJournal drops entries older than the configured retention.
func (rt *runtime) pruneJournal(ctx context.Context, logger *slog.Logger) {
	if rt.journal == nil || rt.cfg.Journal.Retention <= 0 {
		return
	}
	n, err := rt.journal.Prune(ctx, time.Now().Add(-rt.cfg.Journal.Retention))
	if err != nil {
		logger.Warn("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("journal pruned", "removed", n, "retention", rt.cfg.Journal.Retention)
	}
}

// Close drains the bridge, then releases windows, the hub and the database.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.bridge != nil {
		if err := rt.bridge.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bridge: %w", err))
		}
	}
	if err := rt.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *runtime) closeResources() error {
	var errs []error
	if err := rt.windows.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("windows: %w", err))
	}
	rt.hub.Close()
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
		rt.db = nil
	}
	return errors.Join(errs...)
}
