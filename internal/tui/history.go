package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/nixlim/durtop/internal/events"
	"github.com/nixlim/durtop/internal/state"
)

type historyRow struct {
	label     string
	anomalies int
	alerts    int
	entities  int
	maxSum    time.Duration
}

func (m Model) renderHistory() string {
	var sb strings.Builder

	sb.WriteString(m.renderHeader(" [History]", "d:Daily w:Weekly  v:Dashboard  q:Quit "))
	sb.WriteByte('\n')

	if !m.isPersistent {
		sb.WriteByte('\n')
		sb.WriteString(dimStyle.Render("  persistence is disabled; set storage.db_path to enable history"))
		sb.WriteByte('\n')
		return sb.String()
	}

	var summaries []state.DailySummary
	if m.state != nil {
		switch m.historyGranularity {
		case "weekly":
			summaries = m.state.QueryDailySummaries(28)
		default:
			summaries = m.state.QueryDailySummaries(7)
		}
	}

	if len(summaries) == 0 {
		sb.WriteByte('\n')
		sb.WriteString(dimStyle.Render("  No historical data available"))
		sb.WriteByte('\n')
		return sb.String()
	}

	var rows []historyRow
	dateHeader := "Date"
	if m.historyGranularity == "weekly" {
		rows = aggregateWeekly(summaries)
		dateHeader = "Week"
	} else {
		for _, ds := range summaries {
			rows = append(rows, historyRow{
				label:     ds.Date,
				anomalies: ds.Anomalies,
				alerts:    ds.Alerts,
				entities:  ds.Entities,
				maxSum:    ds.MaxSum,
			})
		}
	}

	sb.WriteByte('\n')
	sb.WriteString(fmt.Sprintf("  %-14s %10s %8s %10s %10s",
		dateHeader, "Anomalies", "Alerts", "Entities", "Max held"))
	sb.WriteByte('\n')
	sb.WriteString(dimStyle.Render("  " + strings.Repeat("─", 56)))
	sb.WriteByte('\n')

	visibleH := m.height - 5
	if visibleH < 1 {
		visibleH = 1
	}
	startIdx := m.historyScrollPos
	if startIdx > len(rows)-visibleH {
		startIdx = len(rows) - visibleH
	}
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := startIdx + visibleH
	if endIdx > len(rows) {
		endIdx = len(rows)
	}

	for i := startIdx; i < endIdx; i++ {
		r := rows[i]
		sb.WriteString(fmt.Sprintf("  %-14s %10s %8d %10d %10s",
			r.label, formatNumber(int64(r.anomalies)), r.alerts, r.entities, events.FormatDuration(r.maxSum)))
		sb.WriteByte('\n')
	}

	return sb.String()
}

// aggregateWeekly folds daily rows into ISO weeks, preserving input order.
// Alert and entity counts are the per-day maximum, since the same alert or
// entity can appear on several days.
func aggregateWeekly(summaries []state.DailySummary) []historyRow {
	weekMap := make(map[string]*historyRow)
	var weekOrder []string

	for _, ds := range summaries {
		weekLabel := ds.Date
		if t, err := time.Parse("2006-01-02", ds.Date); err == nil {
			y, w := t.ISOWeek()
			weekLabel = fmt.Sprintf("%d-W%02d", y, w)
		}

		r, exists := weekMap[weekLabel]
		if !exists {
			r = &historyRow{label: weekLabel}
			weekMap[weekLabel] = r
			weekOrder = append(weekOrder, weekLabel)
		}
		r.anomalies += ds.Anomalies
		r.alerts = max(r.alerts, ds.Alerts)
		r.entities = max(r.entities, ds.Entities)
		r.maxSum = max(r.maxSum, ds.MaxSum)
	}

	result := make([]historyRow, 0, len(weekOrder))
	for _, key := range weekOrder {
		result = append(result, *weekMap[key])
	}
	return result
}
