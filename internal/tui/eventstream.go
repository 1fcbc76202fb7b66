package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nixlim/durtop/internal/events"
)

// kindIcons maps feed entry kinds to their display icons.
var kindIcons = map[events.Kind]string{
	events.KindRecord:  "<-",
	events.KindAnomaly: "!!",
}

// kindStyles maps feed entry kinds to their display styles.
var kindStyles = map[events.Kind]lipgloss.Style{
	events.KindRecord:  lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
	events.KindAnomaly: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
}

// renderEventStreamPanel renders the feed of received records and anomalies,
// newest first.
func (m Model) renderEventStreamPanel(w, h int) string {
	contentW := w - 4
	if contentW < 10 {
		contentW = 10
	}
	visible := h - 3 // borders + title
	if visible < 1 {
		visible = 1
	}

	lines := []string{panelTitleStyle.Render("Events")}

	var evts []events.FormattedEvent
	if m.events != nil {
		evts = m.events.Latest(m.eventScrollPos + visible)
	}

	if len(evts) == 0 {
		lines = append(lines, dimStyle.Render("No data received yet"))
		return renderBorderedPanel(strings.Join(lines, "\n"), w, h, m.panelFocus == FocusEvents)
	}

	start := m.eventScrollPos
	if start > len(evts)-1 {
		start = len(evts) - 1
	}
	for _, e := range evts[start:] {
		lines = append(lines, renderEventLine(e, contentW))
	}

	return renderBorderedPanel(strings.Join(lines, "\n"), w, h, m.panelFocus == FocusEvents)
}

// renderEventLine formats a single feed entry for display.
func renderEventLine(e events.FormattedEvent, maxW int) string {
	icon := kindIcons[e.Kind]
	if icon == "" {
		icon = "??"
	}

	style, ok := kindStyles[e.Kind]
	if !ok {
		style = dimStyle
	}

	prefix := icon + " " + e.Timestamp.Format("15:04:05") + " "
	return style.Render(prefix + truncate(e.Formatted, maxW-len(prefix)))
}
