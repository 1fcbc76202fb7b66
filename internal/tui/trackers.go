package tui

import (
	"fmt"
	"strings"

	"github.com/nixlim/durtop/internal/anomaly"
	"github.com/nixlim/durtop/internal/events"
)

// renderTrackersPanel lists every alert followed by its tracked entities.
func (m Model) renderTrackersPanel(w, h int) string {
	contentW := w - 4
	if contentW < 20 {
		contentW = 20
	}
	contentH := h - 2
	if contentH < 1 {
		contentH = 1
	}

	lines := []string{panelTitleStyle.Render("Trackers")}

	trs := m.getTrackers()
	if len(trs) == 0 {
		lines = append(lines, "", dimStyle.Render("No alerts configured"))
		return renderBorderedPanel(strings.Join(lines, "\n"), w, h, m.panelFocus == FocusTrackers)
	}

	nowNs := m.now().UnixNano()
	keyW := contentW - 34
	if keyW < 8 {
		keyW = 8
	}

	var body []string
	selectedLine := 0
	for i, tr := range trs {
		if i == m.trackerCursor {
			selectedLine = len(body)
		}
		body = append(body, m.trackerHeaderLine(tr, i == m.trackerCursor, contentW))

		entities := tr.Snapshot(nowNs)
		if len(entities) == 0 {
			body = append(body, dimStyle.Render("  (idle)"))
			continue
		}
		body = append(body, dimStyle.Render(fmt.Sprintf("  %-*s %9s %9s %9s",
			keyW, "Key", "Sum", "Alarm", "Quiet")))
		for _, st := range entities {
			body = append(body, renderEntityLine(st, keyW))
		}
	}

	// Keep the selected tracker's header in view.
	visible := contentH - 1
	if visible < 1 {
		visible = 1
	}
	start := 0
	if selectedLine >= visible {
		start = selectedLine
	}
	end := start + visible
	if end > len(body) {
		end = len(body)
	}
	lines = append(lines, body[start:end]...)

	return renderBorderedPanel(strings.Join(lines, "\n"), w, h, m.panelFocus == FocusTrackers)
}

func (m Model) trackerHeaderLine(tr *anomaly.Tracker, selected bool, w int) string {
	spec := tr.Spec()
	st := tr.Stats()

	cond := "on"
	if !tr.Condition() {
		cond = "off"
	}
	line := fmt.Sprintf("%s  T=%s win=%dx%s cond=%s  entities:%d anomalies:%d",
		spec.Name,
		events.FormatDuration(spec.Threshold),
		spec.NumBuckets,
		events.FormatDuration(spec.BucketSize),
		cond,
		st.Entities,
		st.Anomalies)
	line = truncate(line, w)

	if selected && m.panelFocus == FocusTrackers {
		return selectedStyle.Render(line)
	}
	return panelTitleStyle.Render(line)
}

func renderEntityLine(st anomaly.EntityStatus, keyW int) string {
	marker := " "
	if st.Accruing {
		marker = "*"
	}
	line := fmt.Sprintf("%s %-*s %9s %9s %9s",
		marker,
		keyW, truncate(st.Key.String(), keyW),
		events.FormatDuration(st.Sum),
		events.FormatSec(st.AlarmSec),
		events.FormatSec(st.RefractoryEndsSec))

	switch {
	case st.Accruing:
		return accruingStyle.Render(line)
	case st.RefractoryEndsSec > 0:
		return refractoryStyle.Render(line)
	default:
		return line
	}
}
