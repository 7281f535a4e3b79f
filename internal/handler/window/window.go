// Package window implements the window capability. Each window is owned by
// the Manager and guarded by its own lock, so mutations of one window never
// interleave while different windows proceed in parallel.
package window

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/velox/internal/protocol"
)

// Native applies state to a real (or simulated) toplevel window.
type Native interface {
	SetTitle(title string) error
	SetTransparent(transparent bool) error
	SetFullscreen(fullscreen bool) error
	SetMaximized(maximized bool) error
	Minimize() error
	Close() error
}

// State is the last successfully applied window state.
type State struct {
	Label       string `json:"label"`
	Title       string `json:"title"`
	Transparent bool   `json:"transparent"`
	Fullscreen  bool   `json:"fullscreen"`
	Maximized   bool   `json:"maximized"`
	Minimized   bool   `json:"minimized"`
}

// Window is a managed window.
type Window struct {
	mu     sync.Mutex
	native Native
	state  State
	closed bool
}

// Apply runs fn under the window lock. Native failures become WindowError.
func (w *Window) Apply(fn func(n Native, s *State) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return protocol.Errorf(protocol.KindWindowError, "window %q is closed", w.state.Label)
	}
	next := w.state
	if err := fn(w.native, &next); err != nil {
		if pe := protocol.AsError(err); pe.Kind != protocol.KindHandlerError {
			return pe
		}
		return protocol.Errorf(protocol.KindWindowError, "window %q: %v", w.state.Label, err)
	}
	w.state = next
	return nil
}

// State returns a snapshot.
func (w *Window) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Manager owns windows by label.
type Manager struct {
	mu      sync.RWMutex
	windows map[string]*Window
}

func NewManager() *Manager {
	return &Manager{windows: make(map[string]*Window)}
}

// Open registers a window under label.
func (m *Manager) Open(label string, native Native) (*Window, error) {
	if label == "" {
		return nil, fmt.Errorf("window label is empty")
	}
	if native == nil {
		return nil, fmt.Errorf("window %q has no native backend", label)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.windows[label]; exists {
		return nil, protocol.Errorf(protocol.KindAlreadyExists, "window %q is already open", label)
	}
	w := &Window{native: native, state: State{Label: label}}
	m.windows[label] = w
	return w, nil
}

// Get returns an open window or WindowError.
func (m *Manager) Get(label string) (*Window, error) {
	m.mu.RLock()
	w, ok := m.windows[label]
	m.mu.RUnlock()
	if !ok {
		return nil, protocol.Errorf(protocol.KindWindowError, "window %q does not exist", label)
	}
	return w, nil
}

// Close marks the window closed and releases its native resources. Calls
// already holding the window fail with WindowError once they acquire the lock.
func (m *Manager) Close(label string) error {
	m.mu.Lock()
	w, ok := m.windows[label]
	delete(m.windows, label)
	m.mu.Unlock()
	if !ok {
		return protocol.Errorf(protocol.KindWindowError, "window %q does not exist", label)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return w.native.Close()
}

// CloseAll closes every window, returning the first error.
func (m *Manager) CloseAll() error {
	var first error
	for _, label := range m.Labels() {
		if err := m.Close(label); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Labels lists open windows, sorted.
func (m *Manager) Labels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.windows))
	for l := range m.windows {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
