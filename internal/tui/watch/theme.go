// Package watch implements `velox watch`, a live terminal view of the
// bridge built from /healthz polling and the /events stream.
package watch

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/velox/internal/events"
	"github.com/mattjoyce/velox/internal/protocol"
)

// Theme styles calls by lifecycle state and, once failed, by error kind.
type Theme struct {
	States map[string]lipgloss.Style
	Kinds  map[protocol.ErrorKind]lipgloss.Style
	// Failure covers kinds missing from Kinds.
	Failure lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
	Meter     lipgloss.Style
}

func NewDefaultTheme() Theme {
	var (
		green  = lipgloss.NewStyle().Foreground(lipgloss.Color("#98C379"))
		yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
		red    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75"))
		orange = lipgloss.NewStyle().Foreground(lipgloss.Color("#D19A66"))
		grey   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
		blue   = lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF"))
	)

	return Theme{
		States: map[string]lipgloss.Style{
			"authorized": grey,
			"running":    yellow,
			"completed":  green,
			"cancelled":  grey,
		},
		Kinds: map[protocol.ErrorKind]lipgloss.Style{
			// Refused by policy or by the caller's own input.
			protocol.KindPermissionDenied: orange.Bold(true),
			protocol.KindInvalidArguments: orange,
			protocol.KindDuplicateID:      orange,
			// Bridge pressure or shutdown, worth retrying.
			protocol.KindOverloaded:      yellow.Bold(true),
			protocol.KindTransportClosed: yellow,
			protocol.KindCancelled:       grey,
			// Host cannot do it at all.
			protocol.KindUnsupportedPlatform: blue,
		},
		Failure: red,

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       grey,
		Highlight: yellow,
		Meter:     blue,
	}
}

// ForKind styles a failure of the given kind.
func (t Theme) ForKind(kind string) lipgloss.Style {
	if s, ok := t.Kinds[protocol.ErrorKind(kind)]; ok {
		return s
	}
	return t.Failure
}

// ForCall styles a call row: failed calls by kind, the rest by state.
func (t Theme) ForCall(status, kind string) lipgloss.Style {
	if status == "failed" {
		return t.ForKind(kind)
	}
	if s, ok := t.States[status]; ok {
		return s
	}
	return t.Dim
}

// ForEvent styles an event type. kind is the failure kind carried by
// call.failed events and is ignored otherwise.
func (t Theme) ForEvent(typ, kind string) lipgloss.Style {
	switch {
	case typ == events.TypeCallFailed:
		return t.ForKind(kind)
	case strings.HasPrefix(typ, "call."):
		return t.ForCall(callStatus(typ), "")
	case strings.HasPrefix(typ, "bridge."):
		return t.Highlight
	}
	return t.Dim
}

// callStatus maps a call.* event type to the status the calls panel shows.
func callStatus(typ string) string {
	switch typ {
	case events.TypeCallDispatched:
		return "running"
	}
	return strings.TrimPrefix(typ, "call.")
}
