package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/velox/internal/api"
	"github.com/mattjoyce/velox/internal/config"
	"github.com/mattjoyce/velox/internal/events"
	"github.com/mattjoyce/velox/internal/lock"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/telemetry"
)

const defaultURL = "http://127.0.0.1:7878"

func runBridgeStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, code := loadConfig(*configPath)
	if cfg == nil {
		return code
	}

	log.Setup(cfg.App.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("velox starting", "version", version, "config", cfg.SourcePath)
	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "warning", w)
	}

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.App.Name, version, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start bridge", "error", err)
		return 1
	}
	rt.pruneJournal(ctx, logger)
	logger.Info("handlers registered", "operations", len(rt.registry.Operations()), "windows", rt.windows.Labels())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Transport.Enabled {
		server := api.New(api.Config{
			Listen:          cfg.Transport.Listen,
			Token:           cfg.Transport.Auth.Token,
			Tokens:          cfg.Transport.Auth.Tokens,
			AllowOrigins:    cfg.Transport.AllowOrigins,
			Workers:         cfg.Bridge.Workers,
			ShutdownTimeout: cfg.Bridge.ShutdownTimeout,
		}, rt.bridge, rt.registry, rt.hub, log.WithComponent("api"))
		g.Go(func() error {
			if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("transport enabled", "listen", cfg.Transport.Listen)
	} else {
		logger.Info("transport disabled; bridge reachable in-process only")
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	rt.hub.Publish(events.TypeBridgeStarted, map[string]any{
		"version":   version,
		"listen":    cfg.Transport.Listen,
		"transport": cfg.Transport.Enabled,
	})
	logger.Info("velox running (press Ctrl+C to stop)")

	runErr := g.Wait()
	if runErr != nil {
		logger.Error("component failed", "error", runErr)
	} else {
		logger.Info("received shutdown signal")
	}

	rt.hub.Publish(events.TypeBridgeStopping, map[string]any{"pending": rt.bridge.Pending()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Bridge.ShutdownTimeout)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	if runErr != nil {
		return 1
	}
	logger.Info("velox stopped")
	return 0
}

func runBridgeStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	url := fs.String("url", envOr("VELOX_URL", defaultURL), "Bridge URL")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(strings.TrimRight(*url, "/") + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bridge unreachable: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var health api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid health response: %v\n", err)
		return 1
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(health, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Printf("status:     %s\n", health.Status)
		fmt.Printf("uptime:     %s\n", time.Duration(health.UptimeSeconds)*time.Second)
		fmt.Printf("pending:    %d\n", health.Pending)
		fmt.Printf("workers:    %d\n", health.Workers)
		fmt.Printf("operations: %d\n", health.Operations)
	}

	if resp.StatusCode != http.StatusOK || health.Status != "ok" {
		return 1
	}
	return 0
}

// loadConfig discovers and loads the config, printing failures. A nil
// config comes with the exit code to return.
func loadConfig(configPath string) (*config.Config, int) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return nil, 1
		}
		configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}
	return cfg, 0
}

// getPIDLockPath places the lock beside the journal database, or beside the
// config file when the journal is disabled.
func getPIDLockPath(cfg *config.Config) string {
	if !cfg.Journal.Enabled {
		return filepath.Join(filepath.Dir(cfg.SourcePath), "velox.pid")
	}
	dbPath := cfg.Journal.Path
	base := filepath.Base(dbPath)
	return filepath.Join(filepath.Dir(dbPath), strings.TrimSuffix(base, filepath.Ext(base))+".pid")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
