package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mattjoyce/velox/internal/protocol"
)

// Dialog backend names accepted in configuration.
const (
	DialogAuto      = "auto"
	DialogZenity    = "zenity"
	DialogKDialog   = "kdialog"
	DialogOSAScript = "osascript"
	DialogNone      = "none"
)

// Dialog shows native pickers. A dismissed picker is not an error: it
// returns no paths.
type Dialog interface {
	SelectFolder(ctx context.Context) (string, error)
	OpenFiles(ctx context.Context, multiple bool) ([]string, error)
}

// NewDialog picks a backend. "auto" prefers zenity, then kdialog on unix
// desktops and osascript on macOS.
func NewDialog(backend string) (Dialog, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", DialogAuto:
		switch runtime.GOOS {
		case "darwin":
			return &CommandDialog{Binary: "osascript", Flavor: DialogOSAScript}, nil
		case "linux", "freebsd", "openbsd", "netbsd":
			for _, flavor := range []string{DialogZenity, DialogKDialog} {
				if _, err := exec.LookPath(flavor); err == nil {
					return &CommandDialog{Binary: flavor, Flavor: flavor}, nil
				}
			}
			return UnsupportedDialog{Reason: "neither zenity nor kdialog is installed"}, nil
		default:
			return UnsupportedDialog{Reason: "no dialog backend for " + runtime.GOOS}, nil
		}
	case DialogZenity, DialogKDialog, DialogOSAScript:
		b := strings.ToLower(strings.TrimSpace(backend))
		return &CommandDialog{Binary: b, Flavor: b}, nil
	case DialogNone:
		return UnsupportedDialog{Reason: "dialogs disabled"}, nil
	default:
		return nil, fmt.Errorf("unknown dialog backend %q", backend)
	}
}

// CommandDialog drives zenity, kdialog or osascript. Each prints the chosen
// paths one per line and exits 1 when the user dismisses the picker.
type CommandDialog struct {
	// Binary overrides the executable; Flavor selects the argument style.
	Binary string
	Flavor string
}

func (d *CommandDialog) SelectFolder(ctx context.Context) (string, error) {
	var args []string
	switch d.Flavor {
	case DialogZenity:
		args = []string{"--file-selection", "--directory", "--title=Select folder"}
	case DialogKDialog:
		args = []string{"--title", "Select folder", "--getexistingdirectory", "."}
	case DialogOSAScript:
		args = []string{"-e", `POSIX path of (choose folder with prompt "Select folder")`}
	default:
		return "", fmt.Errorf("unknown dialog flavor %q", d.Flavor)
	}
	paths, err := d.run(ctx, args)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[0], nil
}

func (d *CommandDialog) OpenFiles(ctx context.Context, multiple bool) ([]string, error) {
	var args []string
	switch d.Flavor {
	case DialogZenity:
		args = []string{"--file-selection", "--title=Select file"}
		if multiple {
			args = append(args, "--multiple", "--separator=\n")
		}
	case DialogKDialog:
		args = []string{"--title", "Select file"}
		if multiple {
			args = append(args, "--multiple", "--separate-output")
		}
		args = append(args, "--getopenfilename", ".")
	case DialogOSAScript:
		script := `POSIX path of (choose file with prompt "Select file")`
		if multiple {
			script = `set picked to choose file with prompt "Select file" with multiple selections allowed
set out to ""
repeat with f in picked
set out to out & POSIX path of f & linefeed
end repeat
return out`
		}
		args = []string{"-e", script}
	default:
		return nil, fmt.Errorf("unknown dialog flavor %q", d.Flavor)
	}
	paths, err := d.run(ctx, args)
	if err != nil {
		return nil, err
	}
	if !multiple && len(paths) > 1 {
		paths = paths[:1]
	}
	return paths, nil
}

func (d *CommandDialog) run(ctx context.Context, args []string) ([]string, error) {
	bin := d.Binary
	if bin == "" {
		bin = d.Flavor
	}
	if _, err := exec.LookPath(bin); err != nil {
		return nil, protocol.Errorf(protocol.KindUnsupportedPlatform, "dialog backend unavailable: %v", err)
	}
	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && d.dismissed(stderr.String()) {
			return nil, nil
		}
		return nil, protocol.Errorf(protocol.KindHandlerError, "%s dialog failed: %v (%s)", d.Flavor, err, strings.TrimSpace(stderr.String()))
	}
	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

// dismissed tells a cancelled picker from a failing one. osascript exits 1
// for every error, so only its user-cancel code counts.
func (d *CommandDialog) dismissed(stderr string) bool {
	if d.Flavor == DialogOSAScript {
		return strings.Contains(stderr, "-128")
	}
	return true
}

// UnsupportedDialog always reports UnsupportedPlatform.
type UnsupportedDialog struct {
	Reason string
}

func (u UnsupportedDialog) SelectFolder(context.Context) (string, error) {
	return "", protocol.Errorf(protocol.KindUnsupportedPlatform, "%s", u.Reason)
}

func (u UnsupportedDialog) OpenFiles(context.Context, bool) ([]string, error) {
	return nil, protocol.Errorf(protocol.KindUnsupportedPlatform, "%s", u.Reason)
}
