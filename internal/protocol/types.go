package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Capability names a group of native operations.
type Capability string

const (
	CapabilityWindow       Capability = "window"
	CapabilityFS           Capability = "fs"
	CapabilitySubprocess   Capability = "subprocess"
	CapabilityNotification Capability = "notification"
)

// DefaultWindow is the label used when an envelope names no target window.
const DefaultWindow = "main"

// Capabilities lists every capability in a stable order.
func Capabilities() []Capability {
	return []Capability{CapabilityWindow, CapabilityFS, CapabilitySubprocess, CapabilityNotification}
}

// ParseCapability resolves a capability name. The frontend exposes
// notifications under "core", which is accepted as an alias.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "window":
		return CapabilityWindow, nil
	case "fs":
		return CapabilityFS, nil
	case "subprocess":
		return CapabilitySubprocess, nil
	case "notification", "core":
		return CapabilityNotification, nil
	default:
		return "", Errorf(KindInvalidArguments, "unknown capability %q", s)
	}
}

// Envelope is a single request from the frontend.
type Envelope struct {
	ID         string            `json:"id"`
	Capability Capability        `json:"capability"`
	Operation  string            `json:"operation"`
	Args       []json.RawMessage `json:"args"`
	// Window targets a specific window for window operations; empty means DefaultWindow.
	Window    string `json:"window,omitempty"`
	TimeoutMs int64  `json:"timeout_ms,omitempty"`
}

// Timeout returns the per-call deadline requested by the frontend, or zero.
func (e *Envelope) Timeout() time.Duration {
	if e.TimeoutMs <= 0 {
		return 0
	}
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// TargetWindow returns the window label the envelope addresses.
func (e *Envelope) TargetWindow() string {
	if e.Window == "" {
		return DefaultWindow
	}
	return e.Window
}

// Normalize resolves capability aliases and checks the routing fields.
// The id is not checked here; transports assign one when it is absent.
func (e *Envelope) Normalize() error {
	c, err := ParseCapability(string(e.Capability))
	if err != nil {
		return err
	}
	e.Capability = c
	e.Operation = strings.TrimSpace(e.Operation)
	if e.Operation == "" {
		return Errorf(KindInvalidArguments, "envelope missing required field: operation")
	}
	if e.TimeoutMs < 0 {
		return Errorf(KindInvalidArguments, "timeout_ms must be >= 0, got %d", e.TimeoutMs)
	}
	return nil
}

// String is used in log lines.
func (e *Envelope) String() string {
	return fmt.Sprintf("%s %s.%s", e.ID, e.Capability, e.Operation)
}

// Result is the single response produced for an envelope.
type Result struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Ok builds a success result.
func Ok(id string, value any) Result {
	return Result{ID: id, OK: true, Value: value}
}

// Fail builds an error result, classifying err into the error taxonomy.
func Fail(id string, err error) Result {
	return Result{ID: id, OK: false, Error: AsError(err)}
}

// Err returns the result's error as a Go error, or nil on success.
func (r Result) Err() error {
	if r.OK || r.Error == nil {
		return nil
	}
	return r.Error
}
