package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/velox/internal/auth"
	"github.com/mattjoyce/velox/internal/config"
	"github.com/mattjoyce/velox/internal/tui/tokenmgr"
)

type checkReport struct {
	Valid    bool     `json:"valid"`
	Config   string   `json:"config,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Grants   []string `json:"grants,omitempty"`
	// Locks maps each locked-scope file to its checksum status.
	Locks map[string]config.FileStatus `json:"locks,omitempty"`
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	report := checkReport{Valid: true}
	if absPath, err := config.ResolvePath(configPath); err == nil {
		for _, f := range config.Verify(config.ScopeFor(absPath), false).Files {
			if report.Locks == nil {
				report.Locks = make(map[string]config.FileStatus)
			}
			report.Locks[f.Name] = f.Status
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
	} else {
		report.Config = cfg.SourcePath
		report.Warnings = cfg.Warnings
		for capability, ops := range cfg.Permissions {
			for _, op := range ops {
				report.Grants = append(report.Grants, capability+"."+op)
			}
		}
	}

	if jsonOut {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		printCheckReport(report)
	}

	if !report.Valid {
		return 1
	}
	if strict && len(report.Warnings) > 0 {
		return 2
	}
	return 0
}

func printCheckReport(r checkReport) {
	if !r.Valid {
		fmt.Println("Configuration INVALID")
		for _, e := range r.Errors {
			fmt.Printf("  ✗ %s\n", e)
		}
		printLocks(r.Locks)
		return
	}
	fmt.Printf("Configuration OK: %s\n", r.Config)
	fmt.Printf("  %d operation(s) granted\n", len(r.Grants))
	for _, w := range r.Warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}
	printLocks(r.Locks)
}

func printLocks(locks map[string]config.FileStatus) {
	names := make([]string, 0, len(locks))
	for name := range locks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-18s %s\n", name, locks[name])
	}
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		configPath = discovered
	}

	// Load would refuse a config whose hashes no longer match, so only the
	// path is resolved here.
	absPath, err := config.ResolvePath(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolve config failed: %v\n", err)
		return 1
	}

	report, err := config.Lock(config.ScopeFor(absPath), dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to update checksums: %v\n", err)
		return 1
	}

	if isVerbose || dryRun {
		for _, f := range report.Files {
			if f.Status == config.FileAbsent {
				fmt.Printf("  - %s (absent)\n", f.Name)
				continue
			}
			fmt.Printf("  ✓ %s %s\n", f.Name, f.Hash)
		}
	}
	if dryRun {
		fmt.Printf("Dry run: would write %s\n", report.ChecksumPath)
		return 0
	}
	fmt.Printf("Wrote %s\n", report.ChecksumPath)
	return 0
}

func runConfigToken(args []string) int {
	var scopesArg string

	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.StringVar(&scopesArg, "scopes", "", "Comma-separated scopes")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var scopes []string
	if scopesArg != "" {
		for _, s := range strings.Split(scopesArg, ",") {
			if s = strings.TrimSpace(s); s != "" {
				scopes = append(scopes, s)
			}
		}
	} else {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: --scopes is required when stdin is not a terminal")
			return 1
		}
		picked, ok, err := pickScopes()
		if err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			return 1
		}
		if !ok {
			return 1
		}
		scopes = picked
	}

	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no scopes selected")
		return 1
	}
	for _, s := range scopes {
		if !auth.KnownScope(s) {
			fmt.Fprintf(os.Stderr, "Error: unknown scope %q\n", s)
			return 1
		}
	}

	token, err := generateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		return 1
	}

	out, err := yaml.Marshal(map[string]any{
		"tokens": []auth.TokenConfig{{Token: token, Scopes: scopes}},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render token: %v\n", err)
		return 1
	}
	fmt.Println("# add under transport.auth in velox.yaml, then run: velox config lock")
	fmt.Print(string(out))
	return 0
}

func pickScopes() ([]string, bool, error) {
	final, err := tea.NewProgram(*tokenmgr.New(auth.ScopeCall)).Run()
	if err != nil {
		return nil, false, err
	}
	m, ok := final.(tokenmgr.Model)
	if !ok || m.Cancelled() {
		return nil, false, nil
	}
	return m.SelectedScopes(), true, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
