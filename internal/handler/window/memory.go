package window

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Memory is a headless Native. It records every applied mutation and can
// simulate slow window systems through Delay.
type Memory struct {
	Delay time.Duration

	active   atomic.Int32
	overlaps atomic.Int32

	mu      sync.Mutex
	history []string
	closed  bool
	failOn  map[string]error
}

func NewMemory() *Memory {
	return &Memory{failOn: make(map[string]error)}
}

// FailOn makes the named method return err.
func (m *Memory) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[method] = err
}

// History returns applied mutations in order, e.g. "setTitle:hello".
func (m *Memory) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

// Overlaps counts mutations that started while another was still running.
func (m *Memory) Overlaps() int { return int(m.overlaps.Load()) }

func (m *Memory) record(method string, value any) error {
	if m.active.Add(1) > 1 {
		m.overlaps.Add(1)
	}
	defer m.active.Add(-1)

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("native window destroyed")
	}
	if err := m.failOn[method]; err != nil {
		return err
	}
	m.history = append(m.history, fmt.Sprintf("%s:%v", method, value))
	return nil
}

func (m *Memory) SetTitle(title string) error  { return m.record("setTitle", title) }
func (m *Memory) SetTransparent(on bool) error { return m.record("setTransparent", on) }
func (m *Memory) SetFullscreen(on bool) error  { return m.record("setFullscreen", on) }
func (m *Memory) SetMaximized(on bool) error   { return m.record("maximize", on) }
func (m *Memory) Minimize() error              { return m.record("minimize", true) }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
