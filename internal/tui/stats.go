package tui

import (
	"fmt"
	"strings"
)

func (m Model) renderStats() string {
	var sb strings.Builder

	sb.WriteString(m.renderHeader(" [Stats]", "↑↓:Scroll  v:History  Esc:Dashboard  q:Quit "))
	sb.WriteByte('\n')

	sections := [][]string{
		m.renderIngestSection(),
		m.renderTrackerStatsSection(),
		m.renderSummarySection(),
	}

	var allLines []string
	for _, section := range sections {
		allLines = append(allLines, section...)
		allLines = append(allLines, "")
	}

	visibleH := m.height - 3
	if visibleH < 1 {
		visibleH = 1
	}
	startIdx := m.statsScrollPos
	if startIdx > len(allLines)-visibleH {
		startIdx = len(allLines) - visibleH
	}
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := startIdx + visibleH
	if endIdx > len(allLines) {
		endIdx = len(allLines)
	}

	for i := startIdx; i < endIdx; i++ {
		sb.WriteString(allLines[i])
		sb.WriteByte('\n')
	}

	return sb.String()
}

func (m Model) renderIngestSection() []string {
	lines := []string{panelTitleStyle.Render("  Ingest")}
	if m.trackers == nil {
		return append(lines, dimStyle.Render("  No data"))
	}
	st := m.trackers.Stats()
	lines = append(lines,
		fmt.Sprintf("  Records received:  %s", formatNumber(int64(st.Received))),
		fmt.Sprintf("  Matched an alert:  %s", formatNumber(int64(st.Matched))),
		fmt.Sprintf("  Unmatched:         %s", formatNumber(int64(st.Unmatched))),
		fmt.Sprintf("  Dropped:           %s", formatNumber(int64(st.Dropped))),
	)
	return lines
}

func (m Model) renderTrackerStatsSection() []string {
	lines := []string{
		panelTitleStyle.Render("  Trackers"),
		fmt.Sprintf("  %-24s %8s %10s %10s %10s %10s %8s",
			"Alert", "Entities", "Anomalies", "Suppressed", "Scheduled", "Fired", "Dropped"),
		dimStyle.Render("  " + strings.Repeat("─", 86)),
	}

	trs := m.getTrackers()
	if len(trs) == 0 {
		return append(lines, dimStyle.Render("  No alerts configured"))
	}
	for _, tr := range trs {
		st := tr.Stats()
		lines = append(lines, fmt.Sprintf("  %-24s %8d %10s %10s %10s %10s %8s",
			truncate(tr.Name(), 24),
			st.Entities,
			formatNumber(int64(st.Anomalies)),
			formatNumber(int64(st.Suppressed)),
			formatNumber(int64(st.AlarmsScheduled)),
			formatNumber(int64(st.AlarmsFired)),
			formatNumber(int64(st.DroppedEvents))))
	}
	return lines
}

func (m Model) renderSummarySection() []string {
	lines := []string{panelTitleStyle.Render("  Anomalies by alert")}
	if m.state == nil {
		return append(lines, dimStyle.Render("  No data"))
	}

	summaries := m.state.Summaries()
	if len(summaries) == 0 {
		return append(lines, dimStyle.Render("  No anomalies recorded"))
	}
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("  %-24s %6d  last %s  %s",
			truncate(s.Alert, 24), s.Count, s.Last.Format("2006-01-02 15:04:05"),
			s.LastKey.String()))
	}
	return lines
}
