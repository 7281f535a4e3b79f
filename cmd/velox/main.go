package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "bridge":
		return runBridgeNoun(args)
	case "call":
		if hasHelpFlag(args) {
			printCallHelp()
			return 0
		}
		return runCall(args)
	case "calls":
		return runCallsNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runBridgeStart(args)
	case "watch":
		if hasHelpFlag(args) {
			printWatchHelp()
			return 0
		}
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: velox version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("velox %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`velox - native command bridge for webview frontends

Usage:
  velox <noun> <action> [flags]

Bridge Commands:
  bridge start      Run the bridge in the foreground
  bridge status     Show health of a running bridge

Call Commands:
  call <capability> <operation> [json-args...]
                    Run one call in-process and print the result
  calls list        Show recent calls from the journal

Config Commands:
  config check      Validate syntax, permissions, and integrity
  config lock       Authorize current state (update integrity hashes)
  config token      Generate a scoped bearer token

Monitoring:
  watch             Live view of bridge calls

General:
  version           Show version information
  help              Show this help message

Use 'velox <noun> help' for action-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runBridgeNoun(args []string) int {
	if len(args) < 1 {
		printBridgeNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printBridgeNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printBridgeStartHelp()
			return 0
		}
		return runBridgeStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printBridgeStatusHelp()
			return 0
		}
		return runBridgeStatus(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown bridge action: %s\n", action)
		return 1
	}
}

func runCallsNoun(args []string) int {
	if len(args) < 1 {
		printCallsNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printCallsNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printCallsListHelp()
			return 0
		}
		return runCallsList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown calls action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "token":
		if hasHelpFlag(actionArgs) {
			printConfigTokenHelp()
			return 0
		}
		return runConfigToken(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// --- HELP ---

func printBridgeNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: velox bridge <action>")
	fmt.Fprintln(w, "Actions: start, status")
}

func printCallsNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: velox calls <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: velox config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, token")
}

func printBridgeStartHelp() {
	fmt.Println("Usage: velox bridge start [--config PATH]")
	fmt.Println("Run the bridge in the foreground until SIGINT or SIGTERM.")
}

func printBridgeStatusHelp() {
	fmt.Println("Usage: velox bridge status [--url URL] [--json]")
	fmt.Println("Query /healthz on a running bridge.")
}

func printCallHelp() {
	fmt.Println("Usage: velox call <capability> <operation> [json-args...] [--config PATH] [--window LABEL] [--timeout DURATION]")
	fmt.Println("Run one call against an in-process bridge and print the result.")
	fmt.Println("Arguments that are not valid JSON are passed as strings.")
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Println("  0  Call succeeded")
	fmt.Println("  1  Setup failed")
	fmt.Println("  2  Call returned an error result")
}

func printCallsListHelp() {
	fmt.Println("Usage: velox calls list [--config PATH] [--limit N] [--capability NAME] [--status completed|failed|cancelled] [--json]")
	fmt.Println("Show recent calls from the journal, newest first.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: velox config check [--config PATH] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, permissions, and integrity.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: velox config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating .checksums.")
}

func printConfigTokenHelp() {
	fmt.Println("Usage: velox config token [--scopes LIST]")
	fmt.Println("Generate a bearer token and print a transport.auth.tokens entry.")
	fmt.Println("Without --scopes, an interactive picker is shown.")
}

func printWatchHelp() {
	fmt.Println("Usage: velox watch [flags]")
	fmt.Println()
	fmt.Println("Live view of bridge health, in-flight calls, and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --url URL        Bridge URL (default: $VELOX_URL or http://127.0.0.1:7878)")
	fmt.Println("  --token TOKEN    Bearer token with bridge:events scope (or VELOX_TOKEN env var)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Navigate calls")
}
