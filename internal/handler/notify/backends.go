package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/mattjoyce/velox/internal/protocol"
)

// Backend names accepted in configuration.
const (
	BackendAuto      = "auto"
	BackendDBus      = "dbus"
	BackendOSAScript = "osascript"
	BackendNone      = "none"
)

// NewNotifier picks a backend. "auto" selects by GOOS; a platform without a
// backend yields a notifier that always fails with UnsupportedPlatform.
func NewNotifier(backend string) (Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendAuto:
		switch runtime.GOOS {
		case "linux", "freebsd", "openbsd", "netbsd":
			return &DesktopNotifier{}, nil
		case "darwin":
			return &AppleScriptNotifier{}, nil
		default:
			return Unsupported{Reason: "no notification backend for " + runtime.GOOS}, nil
		}
	case BackendDBus:
		return &DesktopNotifier{}, nil
	case BackendOSAScript:
		return &AppleScriptNotifier{}, nil
	case BackendNone:
		return Unsupported{Reason: "notifications disabled"}, nil
	default:
		return nil, fmt.Errorf("unknown notification backend %q", backend)
	}
}

// DesktopNotifier sends freedesktop notifications over the session bus via busctl.
type DesktopNotifier struct {
	// Binary overrides the busctl path.
	Binary string
}

func (d *DesktopNotifier) Notify(ctx context.Context, n Notification) error {
	bin := d.Binary
	if bin == "" {
		bin = "busctl"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return protocol.Errorf(protocol.KindUnsupportedPlatform, "notification service unavailable: %v", err)
	}

	// -1 asks the server for its default expiry.
	timeoutMS := -1
	if n.Timeout > 0 {
		timeoutMS = int(n.Timeout.Milliseconds())
	}
	// Title and body come from the frontend; "--" keeps busctl from
	// reading them as options.
	args := []string{
		"--user",
		"--",
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"Notify",
		"susssasa{sv}i",
		n.AppName,
		"0", // replaces_id
		"",  // app_icon
		n.Title,
		n.Body,
		"0", // actions array length
		"0", // hints map length
		strconv.Itoa(timeoutMS),
	}

	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return protocol.Errorf(protocol.KindHandlerError, "desktop notify failed: %v", err)
		}
		return protocol.Errorf(protocol.KindHandlerError, "desktop notify failed: %v (%s)", err, trimmed)
	}
	return nil
}

// AppleScriptNotifier uses osascript's display notification. macOS does not
// support a display duration, so Timeout is ignored.
type AppleScriptNotifier struct {
	Binary string
}

func (a *AppleScriptNotifier) Notify(ctx context.Context, n Notification) error {
	bin := a.Binary
	if bin == "" {
		bin = "osascript"
	}
	if _, err := exec.LookPath(bin); err != nil {
		return protocol.Errorf(protocol.KindUnsupportedPlatform, "notification service unavailable: %v", err)
	}
	script := fmt.Sprintf("display notification %s with title %s", appleQuote(n.Body), appleQuote(n.Title))
	out, err := exec.CommandContext(ctx, bin, "-e", script).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return protocol.Errorf(protocol.KindHandlerError, "osascript notify failed: %v (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Unsupported always reports UnsupportedPlatform.
type Unsupported struct {
	Reason string
}

func (u Unsupported) Notify(context.Context, Notification) error {
	return protocol.Errorf(protocol.KindUnsupportedPlatform, "%s", u.Reason)
}
