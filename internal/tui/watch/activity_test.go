package watch

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"

	"github.com/mattjoyce/velox/internal/events"
	"github.com/mattjoyce/velox/internal/protocol"
)

func TestActivityWindow(t *testing.T) {
	var a Activity
	now := time.Now()

	assert.Equal(t, strings.Repeat(" ", activityWindow), a.Sparkline())
	assert.Zero(t, a.Rate())

	for range 4 {
		a.Record(now)
	}
	a.Advance()
	a.Record(now.Add(time.Second))
	a.Advance()

	spark := []rune(a.Sparkline())
	assert.Len(t, spark, activityWindow)
	// Oldest first: the busy second, the quiet one, then the empty current one.
	assert.Equal(t, '█', spark[activityWindow-3])
	assert.Equal(t, '▂', spark[activityWindow-2])
	assert.Equal(t, ' ', spark[activityWindow-1])
	assert.InDelta(t, 5.0/3.0, a.Rate(), 0.001)
	assert.Equal(t, now.Add(time.Second), a.LastEvent())

	for range activityWindow {
		a.Advance()
	}
	assert.Zero(t, a.Rate())
	assert.Equal(t, now.Add(time.Second), a.LastEvent(), "last event survives the window")
}

func TestActivityHeartbeat(t *testing.T) {
	var a Activity
	theme := NewDefaultTheme()

	assert.Contains(t, a.Render(theme, true), "●")
	a.Advance()
	assert.Contains(t, a.Render(theme, true), "○")
	a.Advance()
	assert.Contains(t, a.Render(theme, false), "○", "no beat while disconnected")
}

func TestThemeForCall(t *testing.T) {
	theme := NewDefaultTheme()

	sameStyle(t, theme.Kinds[protocol.KindPermissionDenied], theme.ForCall("failed", "PermissionDenied"))
	sameStyle(t, theme.Kinds[protocol.KindOverloaded], theme.ForCall("failed", "Overloaded"))
	sameStyle(t, theme.Failure, theme.ForCall("failed", "HandlerError"))
	sameStyle(t, theme.Failure, theme.ForCall("failed", ""))
	sameStyle(t, theme.States["running"], theme.ForCall("running", "Overloaded"),
		"kind only matters once a call failed")
	sameStyle(t, theme.Dim, theme.ForCall("unknown", ""))
}

func TestThemeForEvent(t *testing.T) {
	theme := NewDefaultTheme()

	sameStyle(t, theme.States["running"], theme.ForEvent(events.TypeCallDispatched, ""))
	sameStyle(t, theme.States["cancelled"], theme.ForEvent(events.TypeCallCancelled, ""))
	sameStyle(t, theme.Kinds[protocol.KindTransportClosed], theme.ForEvent(events.TypeCallFailed, "TransportClosed"))
	sameStyle(t, theme.Highlight, theme.ForEvent(events.TypeBridgeStopping, ""))
	sameStyle(t, theme.Dim, theme.ForEvent("plugin.loaded", ""))
}

func sameStyle(t *testing.T, want, got lipgloss.Style, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, want.GetForeground(), got.GetForeground(), msgAndArgs...)
	assert.Equal(t, want.GetBold(), got.GetBold(), msgAndArgs...)
}
