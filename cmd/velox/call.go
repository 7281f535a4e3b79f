package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/velox/internal/journal"
	"github.com/mattjoyce/velox/internal/log"
	"github.com/mattjoyce/velox/internal/protocol"
	"github.com/mattjoyce/velox/internal/storage"
	"github.com/mattjoyce/velox/internal/tui/watch"
)

func runCall(args []string) int {
	var configPath, window, id string
	var timeout time.Duration

	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.StringVar(&window, "window", "", "Target window label")
	fs.StringVar(&id, "id", "", "Call id (generated when empty)")
	fs.DurationVar(&timeout, "timeout", 0, "Per-call deadline")

	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{
		"config": true, "window": true, "id": true, "timeout": true,
	})
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: velox call <capability> <operation> [json-args...] [--config PATH]")
		return 1
	}

	cfg, code := loadConfig(configPath)
	if cfg == nil {
		return code
	}
	// stdout carries only the result
	log.SetupWriter(cfg.App.LogLevel, os.Stderr)
	logger := log.WithComponent("call")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start bridge: %v\n", err)
		return 1
	}

	env := protocol.Envelope{
		ID:         id,
		Capability: protocol.Capability(positionals[0]),
		Operation:  positionals[1],
		Args:       parseCallArgs(positionals[2:]),
		Window:     window,
		TimeoutMs:  timeout.Milliseconds(),
	}
	res := rt.bridge.Call(ctx, env)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Bridge.ShutdownTimeout)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render result: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	if !res.OK {
		return 2
	}
	return 0
}

// parseCallArgs keeps valid JSON as-is and quotes anything else.
func parseCallArgs(values []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		if json.Valid([]byte(v)) {
			out = append(out, json.RawMessage(v))
			continue
		}
		quoted, _ := json.Marshal(v)
		out = append(out, quoted)
	}
	return out
}

func runCallsList(args []string) int {
	var configPath, capability, status string
	var limit int
	var jsonOut bool

	fs := flag.NewFlagSet("calls list", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.IntVar(&limit, "limit", 20, "Maximum entries")
	fs.StringVar(&capability, "capability", "", "Filter by capability")
	fs.StringVar(&status, "status", "", "Filter by status (completed, failed, cancelled)")
	fs.BoolVar(&jsonOut, "json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	switch journal.Status(status) {
	case "", journal.StatusCompleted, journal.StatusFailed, journal.StatusCancelled:
	default:
		fmt.Fprintf(os.Stderr, "Invalid --status %q (want completed, failed or cancelled)\n", status)
		return 1
	}

	cfg, code := loadConfig(configPath)
	if cfg == nil {
		return code
	}
	if !cfg.Journal.Enabled {
		fmt.Fprintln(os.Stderr, "Journal is disabled (journal.enabled: false)")
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()

	entries, err := journal.New(db).List(ctx, journal.ListOptions{
		Limit:      limit,
		Capability: capability,
		Status:     journal.Status(status),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list calls: %v\n", err)
		return 1
	}

	if jsonOut {
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No calls recorded.")
		return 0
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPLETED\tID\tOPERATION\tWINDOW\tSTATUS\tDURATION\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s.%s\t%s\t%s\t%s\t%s\n",
			e.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			e.CallID,
			e.Capability, e.Operation,
			deref(e.Window, "-"),
			e.Status,
			e.Duration.Round(time.Millisecond),
			formatEntryError(e),
		)
	}
	_ = tw.Flush()
	return 0
}

func formatEntryError(e journal.Entry) string {
	if e.ErrorKind == nil {
		return "-"
	}
	msg := *e.ErrorKind
	if e.Error != nil && *e.Error != "" {
		msg += ": " + *e.Error
	}
	if len(msg) > 80 {
		msg = msg[:77] + "..."
	}
	return msg
}

func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	url := fs.String("url", envOr("VELOX_URL", defaultURL), "Bridge URL")
	token := fs.String("token", os.Getenv("VELOX_TOKEN"), "Bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: token required. Use --token or VELOX_TOKEN env var.")
		return 1
	}

	m := watch.New(strings.TrimRight(*url, "/"), *token)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// splitFlagsAndPositionals separates known flags (with their values) from
// positional arguments so flags may follow positionals. Unknown dashed
// arguments, like negative numbers, stay positional.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name := strings.TrimLeft(arg, "-")
		if !strings.HasPrefix(arg, "-") || name == "" {
			positionals = append(positionals, arg)
			continue
		}
		name, _, hasValue := strings.Cut(name, "=")
		if _, known := takesValue[name]; !known {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if !hasValue && takesValue[name] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}

	return flags, positionals
}
