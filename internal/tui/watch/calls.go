package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/velox/internal/events"
	"github.com/mattjoyce/velox/internal/protocol"
)

const (
	maxFinishedCalls = 8
	finishedLinger   = 30 * time.Second
)

// CallState tracks one call seen on the event stream.
type CallState struct {
	ID         string
	Capability string
	Operation  string
	Window     string
	Status     string // authorized, running, completed, failed, cancelled
	ErrorKind  string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

func (c *CallState) done() bool {
	return !c.FinishedAt.IsZero()
}

// CapabilityStats counts terminal outcomes per capability.
type CapabilityStats struct {
	Name      string
	Completed int
	Failed    int
	Denied    int
	Cancelled int
	LastCall  time.Time
}

// updateCallState folds a call.* event into the tracked calls and counters.
func updateCallState(calls map[string]*CallState, stats map[string]*CapabilityStats, e events.Event) {
	if !strings.HasPrefix(e.Type, "call.") {
		return
	}
	var data events.CallEvent
	if err := json.Unmarshal(e.Data, &data); err != nil || data.CallID == "" {
		return
	}

	c, ok := calls[data.CallID]
	if !ok {
		c = &CallState{ID: data.CallID, StartedAt: e.At}
		calls[data.CallID] = c
	}
	if data.Capability != "" {
		c.Capability = data.Capability
	}
	if data.Operation != "" {
		c.Operation = data.Operation
	}
	if data.Window != "" {
		c.Window = data.Window
	}

	switch e.Type {
	case events.TypeCallAuthorized:
		c.Status = "authorized"
		return
	case events.TypeCallDispatched:
		c.Status = "running"
		return
	case events.TypeCallCompleted:
		c.Status = "completed"
	case events.TypeCallFailed:
		c.Status = "failed"
	case events.TypeCallCancelled:
		c.Status = "cancelled"
	default:
		return
	}

	c.ErrorKind = data.ErrorKind
	c.FinishedAt = e.At
	c.Duration = time.Duration(data.DurationMs) * time.Millisecond

	s, ok := stats[c.Capability]
	if !ok {
		s = &CapabilityStats{Name: c.Capability}
		stats[c.Capability] = s
	}
	s.LastCall = e.At
	switch {
	case c.Status == "completed":
		s.Completed++
	case c.Status == "cancelled":
		s.Cancelled++
	case c.ErrorKind == string(protocol.KindPermissionDenied):
		s.Denied++
	default:
		s.Failed++
	}
}

// pruneCalls drops finished calls beyond the retention window, keeping the
// newest few for display.
func pruneCalls(calls map[string]*CallState, now time.Time) {
	var finished []*CallState
	for id, c := range calls {
		if !c.done() {
			continue
		}
		if now.Sub(c.FinishedAt) > finishedLinger {
			delete(calls, id)
			continue
		}
		finished = append(finished, c)
	}
	if len(finished) <= maxFinishedCalls {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.After(finished[j].FinishedAt)
	})
	for _, c := range finished[maxFinishedCalls:] {
		delete(calls, c.ID)
	}
}

// sortedCalls returns in-flight calls first (oldest first), then finished
// calls (newest first).
func sortedCalls(calls map[string]*CallState) []*CallState {
	out := make([]*CallState, 0, len(calls))
	for _, c := range calls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.done() != b.done() {
			return !a.done()
		}
		if !a.done() {
			if a.StartedAt.Equal(b.StartedAt) {
				return a.ID < b.ID
			}
			return a.StartedAt.Before(b.StartedAt)
		}
		return a.FinishedAt.After(b.FinishedAt)
	})
	return out
}

func renderCalls(calls map[string]*CallState, selected int, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("CALLS")

	if len(calls) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  No calls yet")),
		)
	}

	var lines []string
	for i, c := range sortedCalls(calls) {
		cursor := "  "
		if i == selected {
			cursor = theme.Highlight.Render("> ")
		}

		id := c.ID
		if len(id) > 8 {
			id = id[:8]
		}
		target := c.Capability + "." + c.Operation
		if c.Window != "" {
			target += " @" + c.Window
		}

		var elapsed time.Duration
		if c.done() {
			elapsed = c.Duration
		} else {
			elapsed = time.Since(c.StartedAt).Round(time.Second)
		}

		lines = append(lines, fmt.Sprintf("%s%s %-30s %s %s",
			cursor,
			theme.Dim.Render(id),
			target,
			theme.ForCall(c.Status, c.ErrorKind).Render(fmt.Sprintf("%-10s", callLabel(c))),
			theme.Dim.Render(elapsed.String()),
		))
	}

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}

func callLabel(c *CallState) string {
	if c.Status == "failed" && c.ErrorKind != "" {
		return c.ErrorKind
	}
	return c.Status
}

func renderCapabilities(stats map[string]*CapabilityStats, theme Theme, width int) string {
	innerWidth := width - 4
	title := theme.Title.Render("CAPABILITIES")

	if len(stats) == 0 {
		return theme.Border.Width(innerWidth).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, theme.Dim.Render("  No completed calls")),
		)
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	var lines []string
	for _, name := range names {
		s := stats[name]
		lines = append(lines, fmt.Sprintf("  %-14s %s %s %s %s  %s",
			name,
			theme.ForCall("completed", "").Render(fmt.Sprintf("ok:%d", s.Completed)),
			theme.Failure.Render(fmt.Sprintf("err:%d", s.Failed)),
			theme.ForKind(string(protocol.KindPermissionDenied)).Render(fmt.Sprintf("denied:%d", s.Denied)),
			theme.ForCall("cancelled", "").Render(fmt.Sprintf("cancel:%d", s.Cancelled)),
			theme.Dim.Render(s.LastCall.Format("15:04:05")),
		))
	}

	return theme.Border.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")),
	)
}
