package tui

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type panelDimensions struct {
	trackersW, trackersH   int
	anomaliesW, anomaliesH int
	eventsW, eventsH       int
	headerH, statusH       int
}

const (
	minWidth  = 60
	minHeight = 12

	headerHeight = 1
	statusHeight = 1

	anomaliesMinHeight = 5
	anomaliesMaxHeight = 12
)

func computeDimensions(totalW, totalH int) panelDimensions {
	if totalW < minWidth {
		totalW = minWidth
	}
	if totalH < minHeight {
		totalH = minHeight
	}

	d := panelDimensions{
		headerH: headerHeight,
		statusH: statusHeight,
	}

	usableH := totalH - headerHeight - statusHeight
	if usableH < 6 {
		usableH = 6
	}

	d.trackersW = totalW * 55 / 100
	if d.trackersW < 30 {
		d.trackersW = 30
	}
	if d.trackersW > totalW-24 {
		d.trackersW = totalW - 24
	}
	d.trackersH = usableH

	rightW := totalW - d.trackersW

	d.anomaliesW = rightW
	d.anomaliesH = usableH * 40 / 100
	if d.anomaliesH < anomaliesMinHeight {
		d.anomaliesH = anomaliesMinHeight
	}
	if d.anomaliesH > anomaliesMaxHeight {
		d.anomaliesH = anomaliesMaxHeight
	}
	if d.anomaliesH > usableH/2 {
		d.anomaliesH = usableH / 2
	}

	d.eventsW = rightW
	d.eventsH = usableH - d.anomaliesH
	if d.eventsH < 3 {
		d.eventsH = 3
	}

	return d
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62"))

	panelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	focusBorderStyle = panelBorderStyle.
				BorderForeground(lipgloss.Color("63"))

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("69"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	accruingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	refractoryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	anomalyWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("226"))

	anomalyCriticalStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("196"))

	resetDialogStyle = lipgloss.NewStyle().
				Border(lipgloss.DoubleBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(1, 3).
				Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// renderBorderedPanel draws content inside a w by h border, focused or not.
func renderBorderedPanel(content string, w, h int, focused bool) string {
	contentH := h - 2
	if contentH < 1 {
		contentH = 1
	}

	lines := strings.Split(content, "\n")
	if len(lines) > contentH {
		lines = lines[:contentH]
		content = strings.Join(lines, "\n")
	}

	style := panelBorderStyle
	if focused {
		style = focusBorderStyle
	}
	return style.
		Width(w - 2).
		Height(contentH).
		Render(content)
}

var ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripAnsi(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

func (m Model) renderDashboard() string {
	dims := computeDimensions(m.width, m.height)

	header := m.renderHeader(" [Dashboard]", m.dashboardHelp())

	trackers := m.renderTrackersPanel(dims.trackersW, dims.trackersH)
	anomalies := m.renderAnomaliesPanel(dims.anomaliesW, dims.anomaliesH)
	feed := m.renderEventStreamPanel(dims.eventsW, dims.eventsH)

	rightCol := lipgloss.JoinVertical(lipgloss.Left, anomalies, feed)
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, trackers, rightCol)

	usableH := m.height - dims.headerH - dims.statusH
	if usableH < 6 {
		usableH = 6
	}
	mcLines := strings.Split(mainContent, "\n")
	if len(mcLines) > usableH {
		mcLines = mcLines[:usableH]
		mainContent = strings.Join(mcLines, "\n")
	}

	layout := lipgloss.JoinVertical(lipgloss.Left, header, mainContent, m.renderStatusBar())

	if m.resetConfirm {
		layout = m.overlayResetDialog(layout)
	}

	return layout
}

// renderHeader draws the title bar shared by every view.
func (m Model) renderHeader(viewLabel, help string) string {
	title := " durtop"
	ports := fmt.Sprintf(" grpc:%d http:%d", m.cfg.Receiver.GRPCPort, m.cfg.Receiver.HTTPPort)
	indicators := m.headerIndicators()

	padding := m.width - lipgloss.Width(title) - lipgloss.Width(viewLabel) -
		lipgloss.Width(ports) - lipgloss.Width(indicators) - lipgloss.Width(help)
	if padding < 0 {
		padding = 0
	}

	return headerStyle.Width(m.width).Render(
		title + viewLabel + ports + indicators + strings.Repeat(" ", padding) + help)
}

func (m Model) dashboardHelp() string {
	switch m.panelFocus {
	case FocusAnomalies, FocusEvents:
		return "↑↓:Scroll  Esc:Back  Tab:Focus  v:View  q:Quit "
	default:
		return "↑↓:Select  r:Reset  Tab:Focus  v:View  q:Quit "
	}
}

func (m Model) renderStatusBar() string {
	parts := []string{}
	if m.state != nil {
		parts = append(parts, fmt.Sprintf("anomalies: %s", formatNumber(int64(m.state.TotalAnomalies()))))
	}
	if m.trackers != nil {
		st := m.trackers.Stats()
		parts = append(parts, fmt.Sprintf("records: %s matched: %s dropped: %s",
			formatNumber(int64(st.Received)), formatNumber(int64(st.Matched)), formatNumber(int64(st.Dropped))))
	}
	if m.message != "" {
		parts = append(parts, m.message)
	}
	return statusBarStyle.Render(" " + strings.Join(parts, "  |  "))
}

func (m Model) overlayResetDialog(base string) string {
	dialog := resetDialogStyle.Render(
		"Reset tracker?\n\n" +
			"Alert: " + m.resetTarget + "\n" +
			"All entities and pending alarms are cleared.\n\n" +
			"[Y] Reset  [n/Esc] Cancel")

	return placeOverlay(dialog, base)
}

func placeOverlay(fg, bg string) string {
	return lipgloss.Place(
		lipgloss.Width(bg),
		lipgloss.Height(bg),
		lipgloss.Center,
		lipgloss.Center,
		fg,
		lipgloss.WithWhitespaceChars(" "),
	)
}

// formatNumber renders n with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}

	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
