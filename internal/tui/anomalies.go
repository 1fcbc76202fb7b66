package tui

import (
	"strings"

	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/events"
)

// renderAnomaliesPanel lists the most recent anomalies, newest first.
func (m Model) renderAnomaliesPanel(w, h int) string {
	contentW := w - 4
	if contentW < 10 {
		contentW = 10
	}
	visible := h - 3 // borders + title
	if visible < 1 {
		visible = 1
	}

	title := panelTitleStyle.Render("Anomalies")
	var recent []anomaly.Anomaly
	if m.state != nil {
		recent = m.state.RecentAnomalies(m.anomalyScroll + visible)
	}

	lines := []string{title}
	if len(recent) == 0 {
		lines = append(lines, dimStyle.Render("No anomalies"))
		return renderBorderedPanel(strings.Join(lines, "\n"), w, h, m.panelFocus == FocusAnomalies)
	}

	start := m.anomalyScroll
	if start > len(recent)-1 {
		start = len(recent) - 1
	}
	for _, a := range recent[start:] {
		lines = append(lines, renderAnomalyLine(a, contentW))
	}

	return renderBorderedPanel(strings.Join(lines, "\n"), w, h, m.panelFocus == FocusAnomalies)
}

func renderAnomalyLine(a anomaly.Anomaly, maxW int) string {
	fe := events.FormatAnomaly(a)
	line := truncate(fe.Timestamp.Format("15:04:05")+" "+fe.Formatted, maxW)
	if a.Trigger == anomaly.TriggerOverdue {
		return anomalyCriticalStyle.Render(line)
	}
	return anomalyWarningStyle.Render(line)
}
