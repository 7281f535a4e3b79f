package watch

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/velox/internal/events"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModelTracksEvents(t *testing.T) {
	m := *New("http://127.0.0.1:7878", "tok")
	now := time.Now()

	m = update(t, m, eventMsg(callEvent(t, 5, events.TypeCallDispatched, now,
		events.CallEvent{CallID: "c1", Capability: "window", Operation: "setTitle", Window: "main"})))
	m = update(t, m, eventMsg(callEvent(t, 6, events.TypeCallCompleted, now,
		events.CallEvent{CallID: "c1", Capability: "window", Operation: "setTitle", DurationMs: 3})))

	assert.Equal(t, int64(6), m.lastEventID)
	assert.True(t, m.health.Connected)
	require.Len(t, m.eventLog, 2)
	assert.Equal(t, events.TypeCallCompleted, m.eventLog[0].Type)
	require.Contains(t, m.calls, "c1")
	assert.Equal(t, "main", m.calls["c1"].Window)
	assert.Equal(t, 1, m.stats["window"].Completed)
}

func TestModelEventLogBounded(t *testing.T) {
	m := *New("http://x", "tok")
	for i := range maxEventLog + 10 {
		m = update(t, m, eventMsg(events.Event{ID: int64(i + 1), Type: events.TypeBridgeStarted, Data: []byte(`{}`)}))
	}
	assert.Len(t, m.eventLog, maxEventLog)
	assert.Equal(t, int64(maxEventLog+10), m.eventLog[0].ID)
}

func TestModelHealthAndDisconnect(t *testing.T) {
	m := *New("http://x", "tok")

	m = update(t, m, healthMsg{Status: "ok", UptimeSeconds: 90, Pending: 2, Workers: 4, Operations: 31})
	assert.Equal(t, 2, m.health.Pending)
	assert.Equal(t, 4, m.health.Workers)
	assert.Equal(t, 31, m.health.Operations)
	assert.True(t, m.health.Connected)

	m = update(t, m, sseDisconnectedMsg{})
	assert.False(t, m.health.Connected)
	assert.Contains(t, m.lastError, "reconnecting")
}

func TestModelView(t *testing.T) {
	m := *New("http://x", "tok")
	assert.Equal(t, "Connecting to bridge...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, healthMsg{Status: "ok", Workers: 4})
	m = update(t, m, eventMsg(callEvent(t, 1, events.TypeCallFailed, time.Now(),
		events.CallEvent{CallID: "deadbeef01", Capability: "subprocess", Operation: "spawn", ErrorKind: "PermissionDenied"})))

	view := m.View()
	assert.Contains(t, view, "VELOX WATCH")
	assert.Contains(t, view, "CALLS")
	assert.Contains(t, view, "subprocess.spawn")
	assert.Contains(t, view, "denied:1")
	assert.Contains(t, view, "EVENT STREAM")
}

func TestModelSelectionClamped(t *testing.T) {
	m := *New("http://x", "tok")
	m = update(t, m, eventMsg(callEvent(t, 1, events.TypeCallDispatched, time.Now(),
		events.CallEvent{CallID: "a", Capability: "fs", Operation: "stat"})))

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.selectedCall)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 0, m.selectedCall)
}
